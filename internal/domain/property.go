package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	PropertyStatusActive = "ACTIVE"
	PropertyStatusClosed = "CLOSED"
)

// Property is the tokenized asset reference row. Listing and moderation live
// elsewhere; the ledger only reads price, supply and the on-chain token id.
type Property struct {
	PropertyID  uuid.UUID       `gorm:"column:property_id;type:uuid;primaryKey" json:"property_id"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	TokenID     string          `gorm:"column:token_id;not null" json:"token_id"`
	TokenPrice  decimal.Decimal `gorm:"column:token_price;type:decimal(24,6);not null" json:"token_price"`
	TotalTokens int64           `gorm:"column:total_tokens;not null" json:"total_tokens"`
	Status      string          `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	CreatedAt   time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Property) TableName() string {
	return "Properties"
}

func (p *Property) BeforeCreate(tx *gorm.DB) error {
	if p.PropertyID == uuid.Nil {
		p.PropertyID = uuid.New()
	}
	return nil
}
