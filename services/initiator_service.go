package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/utils"
	"gorm.io/gorm"
)

var (
	ErrCourseNotAvailable = errors.New("course not available for purchase")
	ErrStudentNotFound    = errors.New("student not found")
	ErrAlreadyEnrolled    = errors.New("student already enrolled in course")
	ErrGatewaySession     = errors.New("gateway session creation failed")
)

type InitiateResult struct {
	TransactionID string
	GatewayURL    string
	SessionKey    string
}

// Initiator creates the paired Payment/Enrollment records for a
// purchase attempt and opens the gateway session the student is
// redirected to.
type Initiator struct {
	db            *gorm.DB
	gateway       payments.GatewayClient
	audit         *audit.Logger
	serverBaseURL string
}

func NewInitiator(db *gorm.DB, gateway payments.GatewayClient, auditLogger *audit.Logger, serverBaseURL string) *Initiator {
	return &Initiator{db: db, gateway: gateway, audit: auditLogger, serverBaseURL: serverBaseURL}
}

func (s *Initiator) Initiate(courseID, studentID uuid.UUID, actor ActorContext) (*InitiateResult, error) {
	var course models.Course
	if err := s.db.Where("id = ? AND is_published = ?", courseID, true).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotAvailable
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}

	var student models.User
	if err := s.db.Where("id = ? AND is_active = ?", studentID, true).First(&student).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to load student: %w", err)
	}

	var enrolled int64
	if err := s.db.Model(&models.Enrollment{}).
		Where("student_id = ? AND course_id = ? AND payment_status = ?", studentID, courseID, models.EnrollPaymentPaid).
		Count(&enrolled).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing enrollment: %w", err)
	}
	if enrolled > 0 {
		return nil, ErrAlreadyEnrolled
	}

	amount := course.CurrentPrice()
	tranID := utils.GenerateTransactionID()
	now := time.Now().UTC()

	payment := models.Payment{
		TransactionID: tranID,
		StudentID:     studentID,
		CourseID:      courseID,
		Amount:        amount,
		Currency:      course.Currency,
		Status:        models.PaymentStatusPending,
		InitiatedAt:   now,
	}
	enrollment := models.Enrollment{
		StudentID:     studentID,
		CourseID:      courseID,
		Status:        models.EnrollmentStatusPending,
		PaymentID:     tranID,
		PaymentStatus: models.EnrollPaymentPending,
		PaymentAmount: amount,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return tx.Create(&enrollment).Error
	})
	if err != nil {
		s.logInitiate(tranID, amount, course.Currency, actor, models.PaymentStatusFailed, "record creation failed: "+err.Error())
		return nil, fmt.Errorf("failed to create payment records: %w", err)
	}

	session, err := s.gateway.CreateSession(payments.SessionRequest{
		TransactionID: tranID,
		Amount:        amount,
		Currency:      course.Currency,
		ProductName:   course.Title,
		CustomerName:  student.FullName,
		CustomerEmail: student.Email,
		SuccessURL:    s.serverBaseURL + "/api/v1/payments/success/" + tranID,
		FailURL:       s.serverBaseURL + "/api/v1/payments/fail/" + tranID,
		CancelURL:     s.serverBaseURL + "/api/v1/payments/cancel/" + tranID,
		IPNURL:        s.serverBaseURL + "/api/v1/payments/ipn",
	})
	if err != nil {
		// Never leave an unresolvable pending pair behind.
		s.markFailed(tranID)
		s.logInitiate(tranID, amount, course.Currency, actor, models.PaymentStatusFailed, "gateway session failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGatewaySession, err)
	}

	s.logInitiate(tranID, amount, course.Currency, actor, models.PaymentStatusPending, "session "+session.SessionKey)

	return &InitiateResult{
		TransactionID: tranID,
		GatewayURL:    session.GatewayPageURL,
		SessionKey:    session.SessionKey,
	}, nil
}

func (s *Initiator) markFailed(tranID string) {
	now := time.Now().UTC()
	s.db.Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", tranID, models.PaymentStatusPending).
		Updates(map[string]interface{}{"status": models.PaymentStatusFailed, "failed_at": now})
	s.db.Model(&models.Enrollment{}).
		Where("payment_id = ?", tranID).
		Update("payment_status", models.EnrollPaymentFailed)
}

func (s *Initiator) logInitiate(tranID string, amount float64, currency string, actor ActorContext, status, details string) {
	s.audit.Log(audit.Entry{
		Event:         audit.EventInitiate,
		TransactionID: tranID,
		Status:        status,
		Amount:        amount,
		Currency:      currency,
		IP:            actor.IP,
		UserAgent:     actor.UserAgent,
		Details:       details,
	})
}
