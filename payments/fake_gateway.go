package payments

import (
	"fmt"
	"strconv"
	"sync"
)

// FakeGateway is the injected stand-in for the real gateway, used by
// tests and by local development. It remembers the sessions it opened
// and reports them with whatever status the scenario configures, so the
// reconciliation code runs unchanged against it.
type FakeGateway struct {
	mu            sync.Mutex
	sessions      map[string]SessionRequest
	statuses      map[string]string
	refunds       map[string]string
	refundsByBank map[string]string
	refundSeq     int

	SessionErr    error
	ValidationErr error
	RefundErr     error
	// RefundTimeoutErr is returned by InitiateRefund after the refund
	// has been recorded, simulating a call that succeeded server-side
	// but timed out on the wire.
	RefundTimeoutErr error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		sessions:      make(map[string]SessionRequest),
		statuses:      make(map[string]string),
		refunds:       make(map[string]string),
		refundsByBank: make(map[string]string),
	}
}

// SetTransactionStatus configures what the validation API will report
// for a transaction id.
func (f *FakeGateway) SetTransactionStatus(tranID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[tranID] = status
}

// SetRefundStatus configures what QueryRefund will report.
func (f *FakeGateway) SetRefundStatus(refundRefID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[refundRefID] = status
}

func (f *FakeGateway) CreateSession(req SessionRequest) (*SessionResponse, error) {
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	f.mu.Lock()
	f.sessions[req.TransactionID] = req
	if _, ok := f.statuses[req.TransactionID]; !ok {
		f.statuses[req.TransactionID] = GatewayStatusPending
	}
	f.mu.Unlock()

	return &SessionResponse{
		Status:         "SUCCESS",
		SessionKey:     "fake-session-" + req.TransactionID,
		GatewayPageURL: "https://gateway.invalid/pay/" + req.TransactionID,
	}, nil
}

func (f *FakeGateway) ValidateTransaction(tranID string) (*ValidationResponse, error) {
	if f.ValidationErr != nil {
		return nil, f.ValidationErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	status, ok := f.statuses[tranID]
	if !ok {
		return &ValidationResponse{Status: GatewayStatusUnattempted, TranID: tranID}, nil
	}

	resp := &ValidationResponse{Status: status, TranID: tranID}
	if sess, ok := f.sessions[tranID]; ok {
		resp.Amount = strconv.FormatFloat(sess.Amount, 'f', 2, 64)
		resp.Currency = sess.Currency
	}
	if status == GatewayStatusValid || status == GatewayStatusValidated {
		resp.ValID = "fake-val-" + tranID
		resp.BankTranID = "fake-bank-" + tranID
		resp.CardType = "VISA-Fake Bank"
		resp.CardIssuer = "FAKE BANK LTD"
	}
	return resp, nil
}

func (f *FakeGateway) InitiateRefund(bankTranID string, amount float64, reason string) (*RefundResponse, error) {
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refundSeq++
	refID := fmt.Sprintf("fake-refund-%d", f.refundSeq)
	f.refunds[refID] = "processing"
	f.refundsByBank[bankTranID] = refID

	if f.RefundTimeoutErr != nil {
		return nil, f.RefundTimeoutErr
	}
	return &RefundResponse{Status: "processing", RefundRefID: refID}, nil
}

func (f *FakeGateway) LookupRefund(bankTranID string) (*RefundResponse, error) {
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	refID, ok := f.refundsByBank[bankTranID]
	if !ok {
		return &RefundResponse{}, nil
	}
	return &RefundResponse{Status: f.refunds[refID], RefundRefID: refID}, nil
}

func (f *FakeGateway) QueryRefund(refundRefID string) (*RefundResponse, error) {
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	status, ok := f.refunds[refundRefID]
	if !ok {
		return &RefundResponse{Status: "failed", RefundRefID: refundRefID, ErrorReason: "unknown refund reference"}, nil
	}
	return &RefundResponse{Status: status, RefundRefID: refundRefID}, nil
}
