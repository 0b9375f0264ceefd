package payments

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/softcodezyne-ui/codezyne-lms-sub007/configs"
)

// SSLCommerzService implements GatewayClient against the hosted-page
// gateway API: a session-create POST, a merchant-side validation lookup
// and the refund initiate/query endpoints.
type SSLCommerzService struct {
	BaseURL     string
	StoreID     string
	StorePasswd string
	Client      *http.Client
}

func NewSSLCommerzService() *SSLCommerzService {
	return &SSLCommerzService{
		BaseURL:     config.ConfigDefault("SSLCOMMERZ_BASE_URL", "https://sandbox.sslcommerz.com"),
		StoreID:     config.Config("SSLCOMMERZ_STORE_ID"),
		StorePasswd: config.Config("SSLCOMMERZ_STORE_PASSWD"),
		Client:      &http.Client{Timeout: 15 * time.Second},
	}
}

type sessionAPIResponse struct {
	Status         string `json:"status"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
	FailedReason   string `json:"failedreason"`
}

func (s *SSLCommerzService) CreateSession(req SessionRequest) (*SessionResponse, error) {
	form := url.Values{}
	form.Set("store_id", s.StoreID)
	form.Set("store_passwd", s.StorePasswd)
	form.Set("tran_id", req.TransactionID)
	form.Set("total_amount", fmt.Sprintf("%.2f", req.Amount))
	form.Set("currency", req.Currency)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.IPNURL)
	form.Set("product_name", req.ProductName)
	form.Set("product_category", "education")
	form.Set("product_profile", "non-physical-goods")
	form.Set("cus_name", req.CustomerName)
	form.Set("cus_email", req.CustomerEmail)
	form.Set("shipping_method", "NO")

	resp, err := s.Client.PostForm(s.BaseURL+"/gwprocess/v4/api.php", form)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway session API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("Gateway session API error: %s", string(body))
		return nil, fmt.Errorf("gateway session API returned non-200 status: %d", resp.StatusCode)
	}

	var apiResp sessionAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session response: %w", err)
	}
	if !strings.EqualFold(apiResp.Status, "SUCCESS") {
		return nil, fmt.Errorf("gateway refused session for %s: %s", req.TransactionID, apiResp.FailedReason)
	}

	return &SessionResponse{
		Status:         apiResp.Status,
		SessionKey:     apiResp.SessionKey,
		GatewayPageURL: apiResp.GatewayPageURL,
	}, nil
}

type tranQueryResponse struct {
	APIConnect string `json:"APIConnect"`
	TransFound int    `json:"no_of_trans_found"`
	Element    []struct {
		Status     string `json:"status"`
		TranID     string `json:"tran_id"`
		ValID      string `json:"val_id"`
		Amount     string `json:"amount"`
		Currency   string `json:"currency"`
		BankTranID string `json:"bank_tran_id"`
		CardType   string `json:"card_type"`
		CardIssuer string `json:"card_issuer"`
	} `json:"element"`
}

// ValidateTransaction asks the gateway for its own view of a transaction
// id the system generated. The answer, not any callback payload, is what
// the reconciliation path trusts.
func (s *SSLCommerzService) ValidateTransaction(tranID string) (*ValidationResponse, error) {
	q := url.Values{}
	q.Set("tran_id", tranID)
	q.Set("store_id", s.StoreID)
	q.Set("store_passwd", s.StorePasswd)
	q.Set("format", "json")

	endpoint := s.BaseURL + "/validator/api/merchantTransIDvalidationAPI.php?" + q.Encode()
	resp, err := s.Client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway validation API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read validation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway validation API returned non-200 status: %d", resp.StatusCode)
	}

	var apiResp tranQueryResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validation response: %w", err)
	}
	if !strings.EqualFold(apiResp.APIConnect, "DONE") || apiResp.TransFound == 0 || len(apiResp.Element) == 0 {
		return &ValidationResponse{Status: GatewayStatusUnattempted, TranID: tranID, Raw: body}, nil
	}

	el := apiResp.Element[0]
	return &ValidationResponse{
		Status:     strings.ToUpper(el.Status),
		TranID:     el.TranID,
		ValID:      el.ValID,
		Amount:     el.Amount,
		Currency:   el.Currency,
		BankTranID: el.BankTranID,
		CardType:   el.CardType,
		CardIssuer: el.CardIssuer,
		Raw:        body,
	}, nil
}

type refundAPIResponse struct {
	APIConnect  string `json:"APIConnect"`
	BankTranID  string `json:"bank_tran_id"`
	TransID     string `json:"trans_id"`
	RefundRefID string `json:"refund_ref_id"`
	Status      string `json:"status"`
	ErrorReason string `json:"errorReason"`
}

func (s *SSLCommerzService) InitiateRefund(bankTranID string, amount float64, reason string) (*RefundResponse, error) {
	q := url.Values{}
	q.Set("bank_tran_id", bankTranID)
	q.Set("refund_amount", strconv.FormatFloat(amount, 'f', 2, 64))
	q.Set("refund_remarks", reason)
	q.Set("store_id", s.StoreID)
	q.Set("store_passwd", s.StorePasswd)
	q.Set("v", "1")
	q.Set("format", "json")

	apiResp, err := s.callRefundAPI(q)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(apiResp.Status, "success") {
		return &RefundResponse{Status: "failed", ErrorReason: apiResp.ErrorReason}, nil
	}
	return &RefundResponse{Status: "processing", RefundRefID: apiResp.RefundRefID}, nil
}

func (s *SSLCommerzService) LookupRefund(bankTranID string) (*RefundResponse, error) {
	q := url.Values{}
	q.Set("bank_tran_id", bankTranID)
	q.Set("store_id", s.StoreID)
	q.Set("store_passwd", s.StorePasswd)
	q.Set("format", "json")

	apiResp, err := s.callRefundAPI(q)
	if err != nil {
		return nil, err
	}
	if apiResp.RefundRefID == "" {
		// No refund has been opened against this bank transaction.
		return &RefundResponse{}, nil
	}

	switch strings.ToLower(apiResp.Status) {
	case "refunded":
		return &RefundResponse{Status: "refunded", RefundRefID: apiResp.RefundRefID}, nil
	default:
		return &RefundResponse{Status: "processing", RefundRefID: apiResp.RefundRefID}, nil
	}
}

func (s *SSLCommerzService) QueryRefund(refundRefID string) (*RefundResponse, error) {
	q := url.Values{}
	q.Set("refund_ref_id", refundRefID)
	q.Set("store_id", s.StoreID)
	q.Set("store_passwd", s.StorePasswd)
	q.Set("format", "json")

	apiResp, err := s.callRefundAPI(q)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(apiResp.Status) {
	case "refunded":
		return &RefundResponse{Status: "refunded", RefundRefID: refundRefID}, nil
	case "processing":
		return &RefundResponse{Status: "processing", RefundRefID: refundRefID}, nil
	default:
		return &RefundResponse{Status: "failed", RefundRefID: refundRefID, ErrorReason: apiResp.ErrorReason}, nil
	}
}

func (s *SSLCommerzService) callRefundAPI(q url.Values) (*refundAPIResponse, error) {
	endpoint := s.BaseURL + "/validator/api/merchantTransIDvalidationAPI.php?" + q.Encode()
	resp, err := s.Client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway refund API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refund response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("Gateway refund API error: %s", string(body))
		return nil, fmt.Errorf("gateway refund API returned non-200 status: %d", resp.StatusCode)
	}

	var apiResp refundAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refund response: %w", err)
	}
	if !strings.EqualFold(apiResp.APIConnect, "DONE") {
		return nil, fmt.Errorf("gateway refund API connect failed: %s", apiResp.APIConnect)
	}
	return &apiResp, nil
}
