package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRefundConflict  = errors.New("refund conflict")
	ErrRefundAmount    = errors.New("refund amount out of range")
	ErrRefundRejected  = errors.New("refund rejected by gateway")
)

// RefundProcessor runs the nested refund state machine on top of an
// already-successful Payment: (none) → initiated → processing →
// refunded | failed. A Payment is refunded at most once.
type RefundProcessor struct {
	db      *gorm.DB
	gateway payments.GatewayClient
	engine  *TransitionEngine
	audit   *audit.Logger
}

func NewRefundProcessor(db *gorm.DB, gateway payments.GatewayClient, engine *TransitionEngine, auditLogger *audit.Logger) *RefundProcessor {
	return &RefundProcessor{db: db, gateway: gateway, engine: engine, audit: auditLogger}
}

// Initiate validates and opens a refund for the payment identified by
// its transaction id. amount nil means a full refund.
func (p *RefundProcessor) Initiate(tranID string, amount *float64, reason string, adminID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := p.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", tranID, err)
	}

	if payment.Status != models.PaymentStatusSuccess {
		return nil, fmt.Errorf("%w: payment status is %s", ErrRefundConflict, payment.Status)
	}
	if payment.BankTranID == nil || *payment.BankTranID == "" {
		return nil, fmt.Errorf("%w: payment has no bank transaction reference", ErrRefundConflict)
	}
	if payment.RefundStatus != nil {
		if *payment.RefundStatus != models.RefundStatusInitiated {
			return nil, fmt.Errorf("%w: refund already %s", ErrRefundConflict, *payment.RefundStatus)
		}
		// An earlier attempt claimed the refund but its gateway call
		// never came back. Resume that claim rather than opening a
		// second refund against the same bank transaction.
		return p.resume(payment)
	}

	refundAmount := payment.Amount
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 || refundAmount > payment.Amount {
		return nil, fmt.Errorf("%w: %.2f against payment of %.2f", ErrRefundAmount, refundAmount, payment.Amount)
	}

	// Claim the refund slot. Only one caller can set refund_status on a
	// successful payment, everyone else gets a conflict.
	res := p.db.Model(&models.Payment{}).
		Where("transaction_id = ? AND status = ? AND refund_status IS NULL", tranID, models.PaymentStatusSuccess).
		Updates(map[string]interface{}{
			"refund_status": models.RefundStatusInitiated,
			"refund_amount": refundAmount,
			"refund_reason": reason,
			"refunded_by":   adminID,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to initiate refund for %s: %w", tranID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: refund already claimed concurrently", ErrRefundConflict)
	}

	return p.dispatch(payment, refundAmount, reason)
}

// dispatch issues the gateway refund call for an already-claimed refund
// and settles the claim to processing or failed.
func (p *RefundProcessor) dispatch(payment models.Payment, refundAmount float64, reason string) (*models.Payment, error) {
	tranID := payment.TransactionID

	resp, err := p.gateway.InitiateRefund(*payment.BankTranID, refundAmount, reason)
	if err != nil {
		// The call may have succeeded server-side before the connection
		// dropped. The claim stays initiated so a retry resumes it
		// through LookupRefund instead of opening a duplicate refund.
		p.logRefund(payment, "retryable", audit.SeverityWarning, "gateway unreachable, claim kept: "+err.Error())
		return nil, fmt.Errorf("gateway refund call failed: %w", err)
	}

	if resp.Status == "failed" {
		p.db.Model(&models.Payment{}).
			Where("transaction_id = ? AND refund_status = ?", tranID, models.RefundStatusInitiated).
			Update("refund_status", models.RefundStatusFailed)
		p.logRefund(payment, models.RefundStatusFailed, audit.SeverityWarning, "gateway rejected refund: "+resp.ErrorReason)
		return nil, fmt.Errorf("%w: %s", ErrRefundRejected, resp.ErrorReason)
	}

	return p.recordAccepted(tranID, resp.RefundRefID, payment)
}

// resume completes a claim whose gateway call was interrupted. If the
// interrupted call did reach the gateway, the existing refund is
// adopted; otherwise the call is reissued with the claimed values.
func (p *RefundProcessor) resume(payment models.Payment) (*models.Payment, error) {
	existing, err := p.gateway.LookupRefund(*payment.BankTranID)
	if err != nil {
		return nil, fmt.Errorf("gateway refund lookup failed: %w", err)
	}
	if existing.RefundRefID != "" {
		return p.recordAccepted(payment.TransactionID, existing.RefundRefID, payment)
	}

	refundAmount := payment.Amount
	if payment.RefundAmount != nil {
		refundAmount = *payment.RefundAmount
	}
	reason := ""
	if payment.RefundReason != nil {
		reason = *payment.RefundReason
	}
	return p.dispatch(payment, refundAmount, reason)
}

func (p *RefundProcessor) recordAccepted(tranID, refundRefID string, payment models.Payment) (*models.Payment, error) {
	if err := p.db.Model(&models.Payment{}).
		Where("transaction_id = ? AND refund_status = ?", tranID, models.RefundStatusInitiated).
		Updates(map[string]interface{}{
			"refund_status": models.RefundStatusProcessing,
			"refund_ref_id": refundRefID,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to record refund reference for %s: %w", tranID, err)
	}

	p.logRefund(payment, models.RefundStatusProcessing, audit.SeverityInfo, "refund accepted, ref "+refundRefID)

	if err := p.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to reload payment %s: %w", tranID, err)
	}
	return &payment, nil
}

// Finalize polls the gateway for a processing refund and settles it to
// refunded or failed. Safe to call repeatedly.
func (p *RefundProcessor) Finalize(refundRefID string) (*models.Payment, error) {
	var payment models.Payment
	if err := p.db.Where("refund_ref_id = ?", refundRefID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment for refund %s: %w", refundRefID, err)
	}

	if payment.RefundStatus == nil || *payment.RefundStatus != models.RefundStatusProcessing {
		return &payment, nil
	}

	resp, err := p.gateway.QueryRefund(refundRefID)
	if err != nil {
		return nil, fmt.Errorf("gateway refund query failed: %w", err)
	}

	switch resp.Status {
	case "refunded":
		now := time.Now().UTC()
		res := p.db.Model(&models.Payment{}).
			Where("transaction_id = ? AND refund_status = ?", payment.TransactionID, models.RefundStatusProcessing).
			Updates(map[string]interface{}{
				"status":        models.PaymentStatusRefunded,
				"refund_status": models.RefundStatusRefunded,
				"refunded_at":   now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to settle refund for %s: %w", payment.TransactionID, res.Error)
		}
		if res.RowsAffected > 0 {
			if err := p.engine.syncEnrollment(payment.TransactionID, models.PaymentStatusRefunded); err != nil {
				return nil, err
			}
			p.logRefund(payment, models.RefundStatusRefunded, audit.SeverityInfo, "refund settled, ref "+refundRefID)
		}
	case "failed":
		res := p.db.Model(&models.Payment{}).
			Where("transaction_id = ? AND refund_status = ?", payment.TransactionID, models.RefundStatusProcessing).
			Update("refund_status", models.RefundStatusFailed)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to mark refund failed for %s: %w", payment.TransactionID, res.Error)
		}
		p.logRefund(payment, models.RefundStatusFailed, audit.SeverityWarning, "refund failed at gateway: "+resp.ErrorReason)
	}

	if err := p.db.Where("transaction_id = ?", payment.TransactionID).First(&payment).Error; err != nil {
		return nil, fmt.Errorf("failed to reload payment %s: %w", payment.TransactionID, err)
	}
	return &payment, nil
}

func (p *RefundProcessor) logRefund(payment models.Payment, status, severity, details string) {
	amount := payment.Amount
	if payment.RefundAmount != nil {
		amount = *payment.RefundAmount
	}
	p.audit.Log(audit.Entry{
		Event:         audit.EventRefund,
		TransactionID: payment.TransactionID,
		Status:        status,
		Severity:      severity,
		Amount:        amount,
		Currency:      payment.Currency,
		Details:       details,
	})
}
