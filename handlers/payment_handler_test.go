package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/models"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	app     *fiber.App
	db      *gorm.DB
	gateway *payments.FakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "handlers.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Course{}, &models.Payment{}, &models.Enrollment{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	auditLogger := audit.NewLogger(t.TempDir())
	gateway := payments.NewFakeGateway()
	engine := services.NewTransitionEngine(db, auditLogger)
	initiator := services.NewInitiator(db, gateway, auditLogger, "http://localhost:8080")
	refunds := services.NewRefundProcessor(db, gateway, engine, auditLogger)

	h := &PaymentHandler{
		DB:            db,
		Gateway:       gateway,
		Initiator:     initiator,
		Engine:        engine,
		Refunds:       refunds,
		Audit:         auditLogger,
		ClientBaseURL: "http://client.test",
	}

	// Auth middleware is exercised separately; routes here are bare.
	app := fiber.New()
	app.Post("/api/v1/payments/initiate", h.Initiate)
	app.Post("/api/v1/payments/ipn", h.HandleIPN)
	app.Post("/api/v1/payments/verify", h.VerifyTransaction)
	app.Get("/api/v1/payments/success/:tranId", h.RedirectSuccess)
	app.Get("/api/v1/payments/fail/:tranId", h.RedirectFail)
	app.Get("/api/v1/payments/cancel/:tranId", h.RedirectCancel)
	app.Get("/api/v1/payments/redirect", h.RedirectByQuery)

	return &fixture{app: app, db: db, gateway: gateway}
}

func (f *fixture) seedPendingPair(t *testing.T, amount float64) string {
	t.Helper()

	tranID := "LMS" + uuid.NewString()[:16]
	payment := models.Payment{
		TransactionID: tranID,
		StudentID:     uuid.New(),
		CourseID:      uuid.New(),
		Amount:        amount,
		Currency:      "BDT",
		Status:        models.PaymentStatusPending,
		InitiatedAt:   time.Now().UTC(),
	}
	if err := f.db.Create(&payment).Error; err != nil {
		t.Fatalf("failed to seed payment: %v", err)
	}
	enrollment := models.Enrollment{
		StudentID:     payment.StudentID,
		CourseID:      payment.CourseID,
		Status:        models.EnrollmentStatusPending,
		PaymentID:     tranID,
		PaymentStatus: models.EnrollPaymentPending,
		PaymentAmount: amount,
	}
	if err := f.db.Create(&enrollment).Error; err != nil {
		t.Fatalf("failed to seed enrollment: %v", err)
	}
	return tranID
}

func (f *fixture) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (f *fixture) postJSON(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := f.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func ipnForm(tranID, status, amount, currency string) url.Values {
	form := url.Values{}
	form.Set("tran_id", tranID)
	form.Set("status", status)
	form.Set("amount", amount)
	form.Set("currency", currency)
	form.Set("val_id", "val-"+tranID)
	form.Set("bank_tran_id", "bank-"+tranID)
	form.Set("card_type", "VISA")
	form.Set("card_issuer", "TEST BANK")
	return form
}

func TestInitiateEndpoint(t *testing.T) {
	f := newFixture(t)

	instructor := models.User{FullName: "Instructor", Email: "i@example.com", Password: "x", Role: "instructor", IsActive: true}
	if err := f.db.Create(&instructor).Error; err != nil {
		t.Fatal(err)
	}
	course := models.Course{Title: "Go for Backends", Price: 100, Currency: "BDT", IsPublished: true, InstructorID: instructor.ID}
	if err := f.db.Create(&course).Error; err != nil {
		t.Fatal(err)
	}
	student := models.User{FullName: "Student", Email: "s@example.com", Password: "x", Role: "student", IsActive: true}
	if err := f.db.Create(&student).Error; err != nil {
		t.Fatal(err)
	}

	resp := f.postJSON(t, "/api/v1/payments/initiate", fiber.Map{
		"courseId":  course.ID.String(),
		"studentId": student.ID.String(),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			TransactionID string `json:"transactionId"`
			GatewayURL    string `json:"gatewayUrl"`
			SessionKey    string `json:"sessionKey"`
		} `json:"data"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed to parse response %s: %v", raw, err)
	}
	if !body.Success || body.Data.TransactionID == "" || body.Data.GatewayURL == "" || body.Data.SessionKey == "" {
		t.Fatalf("incomplete response: %s", raw)
	}
}

func TestIPNSuccessSettlesPayment(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	f.gateway.SetTransactionStatus(tranID, payments.GatewayStatusValid)

	resp := f.postForm(t, "/api/v1/payments/ipn", ipnForm(tranID, "VALID", "100.00", "BDT"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payment models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatal(err)
	}
	if payment.Status != models.PaymentStatusSuccess {
		t.Errorf("payment status = %s, want success", payment.Status)
	}
	if payment.ValidationID == nil || *payment.ValidationID == "" {
		t.Error("validation id not recorded")
	}
	var enrollment models.Enrollment
	if err := f.db.Where("payment_id = ?", tranID).First(&enrollment).Error; err != nil {
		t.Fatal(err)
	}
	if enrollment.PaymentStatus != models.EnrollPaymentPaid || enrollment.Status != models.EnrollmentStatusActive {
		t.Errorf("enrollment = %s/%s, want active/paid", enrollment.Status, enrollment.PaymentStatus)
	}
}

func TestIPNDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	f.gateway.SetTransactionStatus(tranID, payments.GatewayStatusValid)

	form := ipnForm(tranID, "VALID", "100.00", "BDT")
	if resp := f.postForm(t, "/api/v1/payments/ipn", form); resp.StatusCode != http.StatusOK {
		t.Fatalf("first delivery status = %d", resp.StatusCode)
	}

	var before models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&before).Error; err != nil {
		t.Fatal(err)
	}

	if resp := f.postForm(t, "/api/v1/payments/ipn", form); resp.StatusCode != http.StatusOK {
		t.Fatalf("second delivery status = %d", resp.StatusCode)
	}

	var after models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&after).Error; err != nil {
		t.Fatal(err)
	}
	if after.Status != models.PaymentStatusSuccess {
		t.Errorf("status changed to %s on duplicate IPN", after.Status)
	}
	if before.BankTranID == nil || after.BankTranID == nil || *before.BankTranID != *after.BankTranID {
		t.Error("gateway attributes changed on duplicate IPN")
	}
}

func TestIPNAmountMismatchRejected(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	f.gateway.SetTransactionStatus(tranID, payments.GatewayStatusValid)

	resp := f.postForm(t, "/api/v1/payments/ipn", ipnForm(tranID, "VALID", "50.00", "BDT"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var payment models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatal(err)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("payment status = %s, a rejected IPN must not mutate state", payment.Status)
	}
}

func TestIPNCurrencyMismatchRejected(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)

	resp := f.postForm(t, "/api/v1/payments/ipn", ipnForm(tranID, "VALID", "100.00", "USD"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestIPNUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	resp := f.postForm(t, "/api/v1/payments/ipn", ipnForm("LMS000000NOPE", "VALID", "100.00", "BDT"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRedirectSuccessReconcilesAndForwards(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	f.gateway.SetTransactionStatus(tranID, payments.GatewayStatusValid)

	resp := f.get(t, "/api/v1/payments/success/"+tranID)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.Contains(loc, "/payment/success") || !strings.Contains(loc, tranID) {
		t.Errorf("redirected to %q, want client success page", loc)
	}

	var payment models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatal(err)
	}
	if payment.Status != models.PaymentStatusSuccess {
		t.Errorf("payment status = %s, want success", payment.Status)
	}
}

func TestRedirectQueryParamTwin(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	f.gateway.SetTransactionStatus(tranID, payments.GatewayStatusCancelled)

	resp := f.get(t, "/api/v1/payments/redirect?tran_id="+tranID)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "/payment/cancelled") {
		t.Errorf("redirected to %q, want client cancelled page", loc)
	}

	var payment models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatal(err)
	}
	if payment.Status != models.PaymentStatusCancelled {
		t.Errorf("payment status = %s, want cancelled", payment.Status)
	}
}

func TestRedirectUnknownTransactionNeverFabricatesSuccess(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/v1/payments/success/LMS000000NOPE")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.Contains(loc, "/payment/error") || !strings.Contains(loc, "unknown_transaction") {
		t.Errorf("redirected to %q, want client error page", loc)
	}
}

func TestRedirectPendingTransactionParksUser(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)
	// Gateway has no record of settlement yet.

	resp := f.get(t, "/api/v1/payments/success/"+tranID)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, "/payment/pending") {
		t.Errorf("redirected to %q, want client pending page", loc)
	}

	var payment models.Payment
	if err := f.db.Where("transaction_id = ?", tranID).First(&payment).Error; err != nil {
		t.Fatal(err)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("payment status = %s, want untouched pending", payment.Status)
	}
}

func TestVerifyTransaction(t *testing.T) {
	f := newFixture(t)
	tranID := f.seedPendingPair(t, 100)

	resp := f.postJSON(t, "/api/v1/payments/verify", fiber.Map{"tranId": tranID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Exists bool `json:"exists"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !body.Exists {
		t.Error("expected exists = true for a known transaction")
	}

	resp = f.postJSON(t, "/api/v1/payments/verify", fiber.Map{"tranId": "LMS000000NOPE"})
	raw, _ = io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Exists {
		t.Error("expected exists = false for a forged transaction id")
	}
}
