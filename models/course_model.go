package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Course struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	Title         string    `gorm:"size:255;not null"`
	Description   string    `gorm:"type:text"`
	Price         float64   `gorm:"type:numeric(10,2);not null"`
	DiscountPrice *float64  `gorm:"type:numeric(10,2)"`
	Currency      string    `gorm:"size:3;not null;default:'BDT'"`
	IsPublished   bool      `gorm:"not null;default:false"`
	InstructorID  uuid.UUID `gorm:"not null"`

	Instructor User `gorm:"foreignkey:InstructorID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CurrentPrice is the amount a new enrollment is charged right now.
func (c *Course) CurrentPrice() float64 {
	if c.DiscountPrice != nil && *c.DiscountPrice > 0 && *c.DiscountPrice < c.Price {
		return *c.DiscountPrice
	}
	return c.Price
}
