package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusPartial   = "PARTIAL"
	RunStatusFailed    = "FAILED"
)

// DistributionRun is the audit record of one coordinator batch.
type DistributionRun struct {
	RunID                 uuid.UUID       `gorm:"column:run_id;type:uuid;primaryKey" json:"run_id"`
	Status                string          `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	TriggeredBy           string          `gorm:"column:triggered_by;not null" json:"triggered_by"`
	PropertyIDs           datatypes.JSON  `gorm:"column:property_ids;type:jsonb" json:"property_ids"`
	PaymentsProcessed     int             `gorm:"column:payments_processed;not null;default:0" json:"payments_processed"`
	PaymentsFailed        int             `gorm:"column:payments_failed;not null;default:0" json:"payments_failed"`
	DistributionsCreated  int             `gorm:"column:distributions_created;not null;default:0" json:"distributions_created"`
	TotalGross            decimal.Decimal `gorm:"column:total_gross;type:decimal(24,6);not null;default:0" json:"total_gross"`
	TotalInterestDeducted decimal.Decimal `gorm:"column:total_interest_deducted;type:decimal(24,6);not null;default:0" json:"total_interest_deducted"`
	TotalNet              decimal.Decimal `gorm:"column:total_net;type:decimal(24,6);not null;default:0" json:"total_net"`
	Errors                datatypes.JSON  `gorm:"column:errors;type:jsonb" json:"errors"`
	StartedAt             time.Time       `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt           *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt             time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt             time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DistributionRun) TableName() string {
	return "DistributionRuns"
}

func (r *DistributionRun) BeforeCreate(tx *gorm.DB) error {
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	return nil
}
