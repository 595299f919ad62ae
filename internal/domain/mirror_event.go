package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MirrorOpSetAssetPrice    = "SET_ASSET_PRICE"
	MirrorOpLockCollateral   = "LOCK_COLLATERAL"
	MirrorOpUnlockCollateral = "UNLOCK_COLLATERAL"
	MirrorOpIssueLoan        = "ISSUE_LOAN"
	MirrorOpRecordRepayment  = "RECORD_REPAYMENT"
)

const (
	MirrorTargetPosition   = "BorrowPosition"
	MirrorTargetCollateral = "BorrowCollateral"
	MirrorTargetRepayment  = "BorrowRepayment"
	MirrorTargetProperty   = "Property"
)

const (
	MirrorStatusPending = "PENDING"
	MirrorStatusSent    = "SENT"
	MirrorStatusFailed  = "FAILED"
	MirrorStatusSkipped = "SKIPPED"
)

// MirrorEvent is an outbox row describing one best-effort on-chain call.
// Rows are inserted in the same transaction as the ledger change they mirror.
type MirrorEvent struct {
	EventID    uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	Operation  string         `gorm:"column:operation;type:varchar(30);not null" json:"operation"`
	UserID     uuid.UUID      `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	TargetType string         `gorm:"column:target_type;type:varchar(30);not null" json:"target_type"`
	TargetID   uuid.UUID      `gorm:"column:target_id;type:uuid;not null;index" json:"target_id"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	Status     string         `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	Attempts   int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	TxRef      *string        `gorm:"column:tx_ref" json:"tx_ref"`
	LastError  *string        `gorm:"column:last_error" json:"last_error"`
	Sequence   int            `gorm:"column:sequence;not null;default:0" json:"sequence"`
	GroupID    uuid.UUID      `gorm:"column:group_id;type:uuid;not null;index" json:"group_id"`
	CreatedAt  time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
}

func (MirrorEvent) TableName() string {
	return "MirrorEvents"
}

func (e *MirrorEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
