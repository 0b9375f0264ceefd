package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EnrollmentStatusPending   = "pending"
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusDropped   = "dropped"
	EnrollmentStatusSuspended = "suspended"
)

const (
	EnrollPaymentPending  = "pending"
	EnrollPaymentPaid     = "paid"
	EnrollPaymentRefunded = "refunded"
	EnrollPaymentFailed   = "failed"
)

type Enrollment struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	StudentID uuid.UUID `gorm:"not null;index"`
	CourseID  uuid.UUID `gorm:"not null;index"`
	Status    string    `gorm:"size:20;not null;default:'pending'"`

	// PaymentID carries the transaction id of the owning Payment.
	// Exactly one Enrollment references a given transaction id.
	PaymentID     string  `gorm:"size:64;not null;uniqueIndex"`
	PaymentStatus string  `gorm:"size:20;not null;default:'pending'"`
	PaymentAmount float64 `gorm:"type:numeric(10,2);not null"`

	Student User   `gorm:"foreignkey:StudentID"`
	Course  Course `gorm:"foreignkey:CourseID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
