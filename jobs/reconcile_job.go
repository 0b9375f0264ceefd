package jobs

import (
	"log"
	"time"

	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/services"
	"gorm.io/gorm"
)

// PendingReconciler sweeps payments that have been pending longer than
// the cutoff and asks the gateway what actually happened to them. A
// lost IPN or an abandoned browser session both converge through the
// same transition engine, so the sweep is idempotent by construction.
type PendingReconciler struct {
	DB        *gorm.DB
	Gateway   payments.GatewayClient
	Engine    *services.TransitionEngine
	Cutoff    time.Duration
	BatchSize int
}

func (j *PendingReconciler) Run() {
	log.Println("Running job: ReconcilePendingPayments...")

	cutoff := time.Now().UTC().Add(-j.Cutoff)

	var stale []models.Payment
	err := j.DB.
		Where("status = ? AND initiated_at < ?", models.PaymentStatusPending, cutoff).
		Order("initiated_at ASC").
		Limit(j.BatchSize).
		Find(&stale).Error
	if err != nil {
		log.Printf("Error listing stale pending payments: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	for _, payment := range stale {
		validation, err := j.Gateway.ValidateTransaction(payment.TransactionID)
		if err != nil {
			log.Printf("Gateway validation failed for %s: %v", payment.TransactionID, err)
			continue
		}

		var confirmed string
		switch validation.Status {
		case payments.GatewayStatusValid, payments.GatewayStatusValidated:
			confirmed = models.PaymentStatusSuccess
		case payments.GatewayStatusFailed, payments.GatewayStatusExpired, payments.GatewayStatusUnattempted:
			confirmed = models.PaymentStatusFailed
		case payments.GatewayStatusCancelled:
			confirmed = models.PaymentStatusCancelled
		default:
			continue
		}

		attrs := &services.GatewayAttributes{
			ValidationID: validation.ValID,
			BankTranID:   validation.BankTranID,
			CardType:     validation.CardType,
			CardIssuer:   validation.CardIssuer,
			RawResponse:  validation.Raw,
		}
		if _, err := j.Engine.Apply(payment.TransactionID, confirmed, attrs, services.SourceValidation, services.ActorContext{}); err != nil {
			log.Printf("Failed to reconcile stale payment %s: %v", payment.TransactionID, err)
		}
	}
}
