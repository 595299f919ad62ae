package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding is a user's token position in one property. Quantity is the free
// (unpledged) token count; pledged tokens live on BorrowCollateral rows.
type Holding struct {
	HoldingID     uuid.UUID       `gorm:"column:holding_id;type:uuid;primaryKey" json:"holding_id"`
	UserID        uuid.UUID       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_holding_user_property" json:"user_id"`
	PropertyID    uuid.UUID       `gorm:"column:property_id;type:uuid;not null;uniqueIndex:idx_holding_user_property;index" json:"property_id"`
	Quantity      int64           `gorm:"column:quantity;not null;default:0" json:"quantity"`
	AverageCost   decimal.Decimal `gorm:"column:average_cost;type:decimal(24,6);not null;default:0" json:"average_cost"`
	TotalInvested decimal.Decimal `gorm:"column:total_invested;type:decimal(24,6);not null;default:0" json:"total_invested"`
	RentEarned    decimal.Decimal `gorm:"column:rent_earned;type:decimal(24,6);not null;default:0" json:"rent_earned"`
	LastRentDate  *time.Time      `gorm:"column:last_rent_date" json:"last_rent_date"`
	CreatedAt     time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Holding) TableName() string {
	return "Holdings"
}

// BeforeCreate: never insert zero UUID for primary key; generate random when not set.
func (h *Holding) BeforeCreate(tx *gorm.DB) error {
	if h.HoldingID == uuid.Nil {
		h.HoldingID = uuid.New()
	}
	return nil
}
