package handlers

import (
	"errors"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/notifications"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/services"
	"gorm.io/gorm"
)

var validate = validator.New()

type PaymentHandler struct {
	DB            *gorm.DB
	Gateway       payments.GatewayClient
	Initiator     *services.Initiator
	Engine        *services.TransitionEngine
	Refunds       *services.RefundProcessor
	Audit         *audit.Logger
	ClientBaseURL string
}

func actorFrom(c *fiber.Ctx) services.ActorContext {
	return services.ActorContext{IP: c.IP(), UserAgent: c.Get("User-Agent")}
}

// mapGatewayStatus translates the gateway's vocabulary into a confirmed
// terminal status. Empty means the transaction is still in flight.
func mapGatewayStatus(status string) string {
	switch status {
	case payments.GatewayStatusValid, payments.GatewayStatusValidated:
		return models.PaymentStatusSuccess
	case payments.GatewayStatusFailed, payments.GatewayStatusExpired:
		return models.PaymentStatusFailed
	case payments.GatewayStatusCancelled:
		return models.PaymentStatusCancelled
	default:
		return ""
	}
}

type InitiateRequest struct {
	CourseID  string `json:"courseId" validate:"required,uuid4"`
	StudentID string `json:"studentId" validate:"required,uuid4"`
}

func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req InitiateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	courseID, _ := uuid.Parse(req.CourseID)
	studentID, _ := uuid.Parse(req.StudentID)

	result, err := h.Initiator.Initiate(courseID, studentID, actorFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCourseNotAvailable), errors.Is(err, services.ErrStudentNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": err.Error()})
		case errors.Is(err, services.ErrAlreadyEnrolled):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": err.Error()})
		case errors.Is(err, services.ErrGatewaySession):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": "Payment gateway is unavailable, please try again"})
		default:
			log.Printf("🔥 Payment initiation failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to initiate payment"})
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"transactionId": result.TransactionID,
			"gatewayUrl":    result.GatewayURL,
			"sessionKey":    result.SessionKey,
		},
	})
}

// HandleIPN receives the gateway's server-to-server notification. Every
// field of the form payload is attacker-controllable: the claimed
// amount and currency are checked against the stored Payment, and the
// final status comes from the gateway validation API, never from the
// payload itself.
func (h *PaymentHandler) HandleIPN(c *fiber.Ctx) error {
	tranID := c.FormValue("tran_id")
	claimedStatus := c.FormValue("status")
	if tranID == "" || claimedStatus == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Missing tran_id or status"})
	}

	var payment models.Payment
	if err := h.DB.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.Audit.Log(audit.Entry{
				Event:         audit.EventIPN,
				Source:        services.SourceIPN,
				TransactionID: tranID,
				Status:        "not_found",
				Severity:      audit.SeverityWarning,
				IP:            c.IP(),
				UserAgent:     c.Get("User-Agent"),
				Details:       "IPN for unknown transaction id",
			})
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Unknown transaction"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Database error"})
	}

	claimedAmount, err := strconv.ParseFloat(c.FormValue("amount"), 64)
	if err != nil || math.Abs(claimedAmount-payment.Amount) > 0.009 || c.FormValue("currency") != payment.Currency {
		h.Audit.Log(audit.Entry{
			Event:         audit.EventIPN,
			Source:        services.SourceIPN,
			TransactionID: tranID,
			Status:        "rejected",
			Severity:      audit.SeverityHigh,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			IP:            c.IP(),
			UserAgent:     c.Get("User-Agent"),
			Details:       "IPN amount/currency mismatch: claimed " + c.FormValue("amount") + " " + c.FormValue("currency"),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Payload does not match recorded transaction"})
	}

	// Re-derive the truth from the gateway rather than the payload.
	validation, err := h.Gateway.ValidateTransaction(tranID)
	if err != nil {
		log.Printf("🔥 Gateway validation failed for %s: %v", tranID, err)
		// Non-success response makes the gateway redeliver the IPN.
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"success": false, "error": "Validation temporarily unavailable"})
	}

	confirmed := mapGatewayStatus(validation.Status)
	if confirmed == "" {
		h.Audit.Log(audit.Entry{
			Event:         audit.EventIPN,
			Source:        services.SourceIPN,
			TransactionID: tranID,
			Status:        "ignored",
			Severity:      audit.SeverityWarning,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			IP:            c.IP(),
			UserAgent:     c.Get("User-Agent"),
			Details:       "IPN claimed " + claimedStatus + " but gateway reports " + validation.Status,
		})
		return c.JSON(fiber.Map{"success": true, "message": "Acknowledged, transaction not settled yet"})
	}

	result, err := h.Engine.Apply(tranID, confirmed, attrsFrom(validation), services.SourceIPN, actorFrom(c))
	if err != nil {
		log.Printf("🔥 IPN transition failed for %s: %v", tranID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to process notification"})
	}

	if result.Applied && result.Status == models.PaymentStatusSuccess {
		go h.sendConfirmationEmail(tranID)
	}

	return c.JSON(fiber.Map{"success": true, "status": result.Status})
}

func attrsFrom(v *payments.ValidationResponse) *services.GatewayAttributes {
	return &services.GatewayAttributes{
		ValidationID: v.ValID,
		BankTranID:   v.BankTranID,
		CardType:     v.CardType,
		CardIssuer:   v.CardIssuer,
		RawResponse:  v.Raw,
	}
}

// Redirect endpoints. The deployment can expose either the path-param
// routes the gateway session registers, or the query-param twin; both
// run the same reconciliation.

func (h *PaymentHandler) RedirectSuccess(c *fiber.Ctx) error {
	return h.reconcileRedirect(c, c.Params("tranId"))
}

func (h *PaymentHandler) RedirectFail(c *fiber.Ctx) error {
	return h.reconcileRedirect(c, c.Params("tranId"))
}

func (h *PaymentHandler) RedirectCancel(c *fiber.Ctx) error {
	return h.reconcileRedirect(c, c.Params("tranId"))
}

func (h *PaymentHandler) RedirectByQuery(c *fiber.Ctx) error {
	return h.reconcileRedirect(c, c.Query("tran_id"))
}

// reconcileRedirect re-validates the transaction with the gateway and
// drives the shared transition engine. The browser always ends up on a
// client-facing result page, whatever happens here.
func (h *PaymentHandler) reconcileRedirect(c *fiber.Ctx, tranID string) error {
	if tranID == "" {
		return c.Redirect(h.ClientBaseURL+"/payment/error?error=missing_transaction", fiber.StatusSeeOther)
	}

	var payment models.Payment
	if err := h.DB.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		h.Audit.Log(audit.Entry{
			Event:         audit.EventValidation,
			Source:        services.SourceValidation,
			TransactionID: tranID,
			Status:        "not_found",
			Severity:      audit.SeverityWarning,
			IP:            c.IP(),
			UserAgent:     c.Get("User-Agent"),
			Details:       "redirect for unknown transaction id",
		})
		return c.Redirect(h.ClientBaseURL+"/payment/error?error=unknown_transaction", fiber.StatusSeeOther)
	}

	validation, err := h.Gateway.ValidateTransaction(tranID)
	if err != nil {
		log.Printf("🔥 Gateway validation failed for %s: %v", tranID, err)
		return c.Redirect(h.ClientBaseURL+"/payment/pending?tran_id="+tranID+"&error=gateway_unreachable", fiber.StatusSeeOther)
	}

	confirmed := mapGatewayStatus(validation.Status)
	if confirmed == "" {
		return c.Redirect(h.ClientBaseURL+"/payment/pending?tran_id="+tranID, fiber.StatusSeeOther)
	}

	result, err := h.Engine.Apply(tranID, confirmed, attrsFrom(validation), services.SourceValidation, actorFrom(c))
	if err != nil {
		log.Printf("🔥 Redirect transition failed for %s: %v", tranID, err)
		return c.Redirect(h.ClientBaseURL+"/payment/error?tran_id="+tranID+"&error=internal", fiber.StatusSeeOther)
	}

	if result.Applied && result.Status == models.PaymentStatusSuccess {
		go h.sendConfirmationEmail(tranID)
	}

	switch result.Status {
	case models.PaymentStatusSuccess, models.PaymentStatusRefunded:
		return c.Redirect(h.ClientBaseURL+"/payment/success?tran_id="+tranID, fiber.StatusSeeOther)
	case models.PaymentStatusCancelled:
		return c.Redirect(h.ClientBaseURL+"/payment/cancelled?tran_id="+tranID, fiber.StatusSeeOther)
	default:
		return c.Redirect(h.ClientBaseURL+"/payment/failed?tran_id="+tranID+"&error=payment_failed", fiber.StatusSeeOther)
	}
}

type VerifyRequest struct {
	TranID string `json:"tranId" validate:"required"`
}

// VerifyTransaction lets the client detect forged transaction ids
// before it renders a success page.
func (h *PaymentHandler) VerifyTransaction(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	var enrollment models.Enrollment
	if err := h.DB.Preload("Course").Where("payment_id = ?", req.TranID).First(&enrollment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"exists": false})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Database error"})
	}

	return c.JSON(fiber.Map{"exists": true, "enrollment": enrollment})
}

type RefundRequest struct {
	PaymentID    string   `json:"paymentId" validate:"required"`
	RefundAmount *float64 `json:"refundAmount"`
	RefundReason string   `json:"refundReason" validate:"required"`
	AdminNotes   string   `json:"adminNotes"`
}

func (h *PaymentHandler) CreateRefund(c *fiber.Ctx) error {
	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	payment, err := h.Refunds.Initiate(req.PaymentID, req.RefundAmount, req.RefundReason, adminIDFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Payment not found"})
		case errors.Is(err, services.ErrRefundAmount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
		case errors.Is(err, services.ErrRefundConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": err.Error()})
		case errors.Is(err, services.ErrRefundRejected):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": err.Error()})
		default:
			log.Printf("🔥 Refund initiation failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to initiate refund"})
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"refundRefId": derefString(payment.RefundRefID),
			"status":      derefString(payment.RefundStatus),
		},
	})
}

func (h *PaymentHandler) GetRefundStatus(c *fiber.Ctx) error {
	refundRefID := c.Query("refundRefId")
	if refundRefID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Missing refundRefId"})
	}

	payment, err := h.Refunds.Finalize(refundRefID)
	if err != nil {
		if errors.Is(err, services.ErrPaymentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "Refund not found"})
		}
		log.Printf("🔥 Refund status check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to check refund status"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"refundRefId":   refundRefID,
			"status":        derefString(payment.RefundStatus),
			"paymentStatus": payment.Status,
		},
	})
}

// AuditSummary aggregates one day's audit log by event type.
func (h *PaymentHandler) AuditSummary(c *fiber.Ctx) error {
	day := time.Now().UTC()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid date, expected YYYY-MM-DD"})
		}
		day = parsed
	}

	counts, err := h.Audit.Summary(day)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "Failed to read audit log"})
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"date": day.Format("2006-01-02"), "counts": counts}})
}

func (h *PaymentHandler) sendConfirmationEmail(tranID string) {
	var payment models.Payment
	if err := h.DB.Preload("Student").Preload("Course").Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		log.Printf("Could not load payment %s for confirmation email: %v", tranID, err)
		return
	}
	notifications.SendEmail(
		payment.Student.FullName,
		payment.Student.Email,
		"Your Enrollment is Confirmed!",
		"<h1>Enrollment Confirmed</h1><p>Your payment was successful and you now have access to <b>"+payment.Course.Title+"</b>. Happy learning!</p>",
	)
}

func adminIDFrom(c *fiber.Ctx) uuid.UUID {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil
	}
	raw, _ := claims["user_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
