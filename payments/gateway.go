package payments

import "encoding/json"

// Gateway transaction statuses as reported by the validation API.
const (
	GatewayStatusValid       = "VALID"
	GatewayStatusValidated   = "VALIDATED"
	GatewayStatusPending     = "PENDING"
	GatewayStatusFailed      = "FAILED"
	GatewayStatusCancelled   = "CANCELLED"
	GatewayStatusUnattempted = "UNATTEMPTED"
	GatewayStatusExpired     = "EXPIRED"
)

type SessionRequest struct {
	TransactionID string
	Amount        float64
	Currency      string
	ProductName   string
	CustomerName  string
	CustomerEmail string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
}

type SessionResponse struct {
	Status         string
	SessionKey     string
	GatewayPageURL string
}

type ValidationResponse struct {
	Status     string
	TranID     string
	ValID      string
	Amount     string
	Currency   string
	BankTranID string
	CardType   string
	CardIssuer string
	Raw        json.RawMessage
}

type RefundResponse struct {
	Status      string
	RefundRefID string
	ErrorReason string
}

// GatewayClient is the boundary to the external payment gateway. The
// production implementation talks HTTP; tests and development mode
// inject FakeGateway instead, so no reconciliation code ever branches
// on an environment flag.
type GatewayClient interface {
	CreateSession(req SessionRequest) (*SessionResponse, error)
	ValidateTransaction(tranID string) (*ValidationResponse, error)
	InitiateRefund(bankTranID string, amount float64, reason string) (*RefundResponse, error)
	// LookupRefund reports the refund previously opened against a bank
	// transaction, if any. A refund call that timed out on the wire may
	// still have gone through server-side; callers resume it through
	// this lookup instead of opening a second refund.
	LookupRefund(bankTranID string) (*RefundResponse, error)
	QueryRefund(refundRefID string) (*RefundResponse, error)
}
