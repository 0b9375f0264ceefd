package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

const (
	RefundStatusInitiated  = "initiated"
	RefundStatusProcessing = "processing"
	RefundStatusRefunded   = "refunded"
	RefundStatusFailed     = "failed"
)

type Payment struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	TransactionID string    `gorm:"size:64;not null;uniqueIndex"`
	StudentID     uuid.UUID `gorm:"not null"`
	CourseID      uuid.UUID `gorm:"not null"`
	Amount        float64   `gorm:"type:numeric(10,2);not null"`
	Currency      string    `gorm:"size:3;not null"`
	Status        string    `gorm:"size:20;not null;default:'pending'"`

	// Populated once, on confirmed success only.
	BankTranID      *string `gorm:"size:255"`
	CardType        *string `gorm:"size:50"`
	CardIssuer      *string `gorm:"size:100"`
	ValidationID    *string `gorm:"size:255"`
	GatewayResponse datatypes.JSON

	RefundStatus *string    `gorm:"size:20"`
	RefundRefID  *string    `gorm:"size:255"`
	RefundAmount *float64   `gorm:"type:numeric(10,2)"`
	RefundReason *string    `gorm:"type:text"`
	RefundedBy   *uuid.UUID
	RefundedAt   *time.Time

	InitiatedAt time.Time  `gorm:"not null"`
	CompletedAt *time.Time
	FailedAt    *time.Time

	Student User   `gorm:"foreignkey:StudentID"`
	Course  Course `gorm:"foreignkey:CourseID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
