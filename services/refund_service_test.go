package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"gorm.io/gorm"
)

func newRefundFixture(t *testing.T) (*gorm.DB, *payments.FakeGateway, *RefundProcessor) {
	t.Helper()

	db := newTestDB(t)
	gateway := payments.NewFakeGateway()
	engine := NewTransitionEngine(db, newTestAudit(t))
	processor := NewRefundProcessor(db, gateway, engine, newTestAudit(t))
	return db, gateway, processor
}

func seedSuccessfulPayment(t *testing.T, db *gorm.DB, amount float64) string {
	t.Helper()

	tranID := seedPendingPair(t, db, amount)
	bankTranID := "bank-" + tranID
	err := db.Model(&models.Payment{}).Where("transaction_id = ?", tranID).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusSuccess,
			"bank_tran_id": bankTranID,
		}).Error
	if err != nil {
		t.Fatalf("failed to mark payment successful: %v", err)
	}
	err = db.Model(&models.Enrollment{}).Where("payment_id = ?", tranID).
		Updates(map[string]interface{}{
			"payment_status": models.EnrollPaymentPaid,
			"status":         models.EnrollmentStatusActive,
		}).Error
	if err != nil {
		t.Fatalf("failed to mark enrollment paid: %v", err)
	}
	return tranID
}

func TestRefundFullLifecycle(t *testing.T) {
	db, gateway, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)
	admin := uuid.New()

	payment, err := processor.Initiate(tranID, nil, "course cancelled by instructor", admin)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if payment.RefundStatus == nil || *payment.RefundStatus != models.RefundStatusProcessing {
		t.Fatalf("refund status = %v, want processing", payment.RefundStatus)
	}
	if payment.RefundRefID == nil || *payment.RefundRefID == "" {
		t.Fatal("no refund reference recorded")
	}
	if payment.RefundAmount == nil || *payment.RefundAmount != 100 {
		t.Fatalf("refund amount = %v, want full amount", payment.RefundAmount)
	}
	refID := *payment.RefundRefID

	// Still processing at the gateway: Finalize is a no-op.
	payment, err = processor.Finalize(refID)
	if err != nil {
		t.Fatalf("Finalize while processing failed: %v", err)
	}
	if *payment.RefundStatus != models.RefundStatusProcessing {
		t.Fatalf("refund status = %s, want processing", *payment.RefundStatus)
	}

	gateway.SetRefundStatus(refID, "refunded")
	payment, err = processor.Finalize(refID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if payment.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want refunded", payment.Status)
	}
	if *payment.RefundStatus != models.RefundStatusRefunded {
		t.Errorf("refund status = %s, want refunded", *payment.RefundStatus)
	}
	if payment.RefundedAt == nil {
		t.Error("refunded_at not set")
	}

	var enrollment models.Enrollment
	if err := db.Where("payment_id = ?", tranID).First(&enrollment).Error; err != nil {
		t.Fatalf("failed to load enrollment: %v", err)
	}
	if enrollment.PaymentStatus != models.EnrollPaymentRefunded {
		t.Errorf("enrollment payment status = %s, want refunded", enrollment.PaymentStatus)
	}

	// A second refund on the same payment is a conflict.
	if _, err := processor.Initiate(tranID, nil, "again", admin); !errors.Is(err, ErrRefundConflict) {
		t.Fatalf("second refund err = %v, want ErrRefundConflict", err)
	}
}

func TestRefundAmountBounds(t *testing.T) {
	db, _, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)
	admin := uuid.New()

	for _, amount := range []float64{0, -5, 100.01, 500} {
		a := amount
		if _, err := processor.Initiate(tranID, &a, "bad amount", admin); !errors.Is(err, ErrRefundAmount) {
			t.Errorf("amount %.2f: err = %v, want ErrRefundAmount", amount, err)
		}
	}

	var payment models.Payment
	if err := db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatalf("failed to load payment: %v", err)
	}
	if payment.RefundStatus != nil {
		t.Errorf("rejected refund attempts must not set refund status, got %s", *payment.RefundStatus)
	}
}

func TestPartialRefundWithinBounds(t *testing.T) {
	db, _, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)
	partial := 40.0

	payment, err := processor.Initiate(tranID, &partial, "partial goodwill refund", uuid.New())
	if err != nil {
		t.Fatalf("partial refund failed: %v", err)
	}
	if payment.RefundAmount == nil || *payment.RefundAmount != partial {
		t.Fatalf("refund amount = %v, want %.2f", payment.RefundAmount, partial)
	}
}

func TestRefundRequiresSuccessfulPayment(t *testing.T) {
	db, _, processor := newRefundFixture(t)
	tranID := seedPendingPair(t, db, 100)

	if _, err := processor.Initiate(tranID, nil, "too early", uuid.New()); !errors.Is(err, ErrRefundConflict) {
		t.Fatalf("err = %v, want ErrRefundConflict", err)
	}
	if _, err := processor.Initiate("LMS000000NOPE", nil, "missing", uuid.New()); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestRefundGatewayOutageIsRetryable(t *testing.T) {
	db, gateway, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)
	admin := uuid.New()

	gateway.RefundErr = errors.New("connection refused")
	if _, err := processor.Initiate(tranID, nil, "first try", admin); err == nil {
		t.Fatal("expected an error while the gateway is down")
	}

	// The claim survives the outage; only the gateway call is retried.
	var payment models.Payment
	if err := db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatalf("failed to load payment: %v", err)
	}
	if payment.RefundStatus == nil || *payment.RefundStatus != models.RefundStatusInitiated {
		t.Fatalf("refund status = %v after outage, want initiated", payment.RefundStatus)
	}

	gateway.RefundErr = nil
	payment2, err := processor.Initiate(tranID, nil, "retry", admin)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if *payment2.RefundStatus != models.RefundStatusProcessing {
		t.Fatalf("refund status = %s, want processing", *payment2.RefundStatus)
	}
}

func TestRefundTimedOutCallDoesNotDuplicateRefund(t *testing.T) {
	db, gateway, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)
	admin := uuid.New()

	// The gateway executes the refund but the response never arrives.
	gateway.RefundTimeoutErr = errors.New("read timeout")
	if _, err := processor.Initiate(tranID, nil, "first try", admin); err == nil {
		t.Fatal("expected a transport error")
	}

	var payment models.Payment
	if err := db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatalf("failed to load payment: %v", err)
	}
	if payment.RefundStatus == nil || *payment.RefundStatus != models.RefundStatusInitiated {
		t.Fatalf("refund status = %v after timeout, want initiated", payment.RefundStatus)
	}

	// The retry must adopt the refund the interrupted call opened, not
	// issue a second one.
	gateway.RefundTimeoutErr = nil
	payment2, err := processor.Initiate(tranID, nil, "retry", admin)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if *payment2.RefundStatus != models.RefundStatusProcessing {
		t.Fatalf("refund status = %s, want processing", *payment2.RefundStatus)
	}
	if payment2.RefundRefID == nil || *payment2.RefundRefID != "fake-refund-1" {
		t.Fatalf("refund ref = %v, want the refund opened by the first call", payment2.RefundRefID)
	}

	gateway.SetRefundStatus(*payment2.RefundRefID, "refunded")
	settled, err := processor.Finalize(*payment2.RefundRefID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if settled.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want refunded", settled.Status)
	}
}

func TestRefundFailedAtGateway(t *testing.T) {
	db, gateway, processor := newRefundFixture(t)
	tranID := seedSuccessfulPayment(t, db, 100)

	payment, err := processor.Initiate(tranID, nil, "will fail", uuid.New())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	refID := *payment.RefundRefID

	gateway.SetRefundStatus(refID, "failed")
	payment, err = processor.Finalize(refID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if *payment.RefundStatus != models.RefundStatusFailed {
		t.Errorf("refund status = %s, want failed", *payment.RefundStatus)
	}
	if payment.Status != models.PaymentStatusSuccess {
		t.Errorf("payment status = %s, a failed refund must not touch it", payment.Status)
	}

	var enrollment models.Enrollment
	if err := db.Where("payment_id = ?", tranID).First(&enrollment).Error; err != nil {
		t.Fatalf("failed to load enrollment: %v", err)
	}
	if enrollment.PaymentStatus != models.EnrollPaymentPaid {
		t.Errorf("enrollment payment status = %s, want paid untouched", enrollment.PaymentStatus)
	}
}
