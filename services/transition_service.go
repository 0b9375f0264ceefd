package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"gorm.io/gorm"
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrInvalidStatus      = errors.New("invalid confirmed status")
)

// Sources identifying which confirmation path invoked the engine.
const (
	SourceIPN        = "ipn"
	SourceValidation = "validation"
)

// GatewayAttributes are the write-once fields populated on a confirmed
// success. They come from the gateway validation API, never from an
// inbound callback payload.
type GatewayAttributes struct {
	ValidationID string
	BankTranID   string
	CardType     string
	CardIssuer   string
	RawResponse  []byte
}

type ActorContext struct {
	IP        string
	UserAgent string
}

type TransitionResult struct {
	// Applied is true only for the invocation that actually committed
	// the transition. Racing callers observe AlreadyFinal instead.
	Applied      bool
	AlreadyFinal bool
	Status       string
}

// TransitionEngine applies a gateway-confirmed status to a transaction.
// Both the IPN and the redirect path converge here; the persisted
// Payment status is the single source of truth and the transition is a
// conditional single-statement update, so first committer wins.
type TransitionEngine struct {
	db    *gorm.DB
	audit *audit.Logger
}

func NewTransitionEngine(db *gorm.DB, auditLogger *audit.Logger) *TransitionEngine {
	return &TransitionEngine{db: db, audit: auditLogger}
}

func (e *TransitionEngine) Apply(tranID, confirmedStatus string, attrs *GatewayAttributes, source string, actor ActorContext) (*TransitionResult, error) {
	switch confirmedStatus {
	case models.PaymentStatusSuccess, models.PaymentStatusFailed, models.PaymentStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, confirmedStatus)
	}

	var payment models.Payment
	if err := e.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.audit.Log(audit.Entry{
				Event:         source,
				Source:        source,
				TransactionID: tranID,
				Status:        "not_found",
				Severity:      audit.SeverityWarning,
				IP:            actor.IP,
				UserAgent:     actor.UserAgent,
				Details:       "no payment record for transaction id",
			})
			return nil, ErrUnknownTransaction
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", tranID, err)
	}

	// Already at the confirmed terminal state: no-op, but re-sync the
	// enrollment so a partial earlier write self-heals on any caller.
	if payment.Status == confirmedStatus {
		if err := e.syncEnrollment(tranID, confirmedStatus); err != nil {
			return nil, err
		}
		e.logOutcome(source, actor, payment, confirmedStatus, "duplicate confirmation, no-op")
		return &TransitionResult{AlreadyFinal: true, Status: payment.Status}, nil
	}

	// Any non-pending state other than the confirmed one is a terminal
	// state that must never regress.
	if payment.Status != models.PaymentStatusPending {
		e.audit.Log(audit.Entry{
			Event:         source,
			Source:        source,
			TransactionID: tranID,
			Status:        payment.Status,
			Severity:      audit.SeverityWarning,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			IP:            actor.IP,
			UserAgent:     actor.UserAgent,
			Details:       fmt.Sprintf("ignored %s confirmation against terminal state %s", confirmedStatus, payment.Status),
		})
		return &TransitionResult{AlreadyFinal: true, Status: payment.Status}, nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"status": confirmedStatus}
	switch confirmedStatus {
	case models.PaymentStatusSuccess:
		updates["completed_at"] = now
		if attrs != nil {
			updates["validation_id"] = attrs.ValidationID
			updates["bank_tran_id"] = attrs.BankTranID
			updates["card_type"] = attrs.CardType
			updates["card_issuer"] = attrs.CardIssuer
			if len(attrs.RawResponse) > 0 {
				updates["gateway_response"] = attrs.RawResponse
			}
		}
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		updates["failed_at"] = now
	}

	// The compare-and-write: only one caller can move pending forward.
	res := e.db.Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ?", tranID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to transition payment %s: %w", tranID, res.Error)
	}

	if res.RowsAffected == 0 {
		// Lost the race. Reload to report what the winner committed.
		if err := e.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
			return nil, fmt.Errorf("failed to reload payment %s: %w", tranID, err)
		}
		if err := e.syncEnrollment(tranID, payment.Status); err != nil {
			return nil, err
		}
		e.logOutcome(source, actor, payment, payment.Status, "concurrent confirmation already committed")
		return &TransitionResult{AlreadyFinal: true, Status: payment.Status}, nil
	}

	if err := e.syncEnrollment(tranID, confirmedStatus); err != nil {
		// The payment write committed; the enrollment will self-heal on
		// the next invocation through the guard above.
		e.logOutcome(source, actor, payment, confirmedStatus, "enrollment sync deferred: "+err.Error())
		return &TransitionResult{Applied: true, Status: confirmedStatus}, err
	}

	e.logOutcome(source, actor, payment, confirmedStatus, "")
	return &TransitionResult{Applied: true, Status: confirmedStatus}, nil
}

// syncEnrollment converges the paired Enrollment onto the payment's
// terminal state. It is a conditional update keyed on the current
// payment_status, so repeated calls are harmless.
func (e *TransitionEngine) syncEnrollment(tranID, paymentStatus string) error {
	var updates map[string]interface{}
	switch paymentStatus {
	case models.PaymentStatusSuccess:
		updates = map[string]interface{}{
			"payment_status": models.EnrollPaymentPaid,
			"status":         models.EnrollmentStatusActive,
		}
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		updates = map[string]interface{}{"payment_status": models.EnrollPaymentFailed}
	case models.PaymentStatusRefunded:
		updates = map[string]interface{}{"payment_status": models.EnrollPaymentRefunded}
	default:
		return nil
	}

	target := updates["payment_status"]
	res := e.db.Model(&models.Enrollment{}).
		Where("payment_id = ? AND payment_status <> ?", tranID, target).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to sync enrollment for %s: %w", tranID, res.Error)
	}
	return nil
}

func (e *TransitionEngine) logOutcome(source string, actor ActorContext, payment models.Payment, status, details string) {
	event := source
	switch status {
	case models.PaymentStatusSuccess:
		if details == "" {
			event = audit.EventSuccess
		}
	case models.PaymentStatusFailed:
		if details == "" {
			event = audit.EventFailed
		}
	case models.PaymentStatusCancelled:
		if details == "" {
			event = audit.EventCancel
		}
	}

	e.audit.Log(audit.Entry{
		Event:         event,
		Source:        source,
		TransactionID: payment.TransactionID,
		Status:        status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		IP:            actor.IP,
		UserAgent:     actor.UserAgent,
		Details:       details,
	})
}
