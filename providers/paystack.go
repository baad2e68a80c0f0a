package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultPaystackBaseURL = "https://api.paystack.co"

// PaystackGateway implements PaymentGateway using the Paystack API.
type PaystackGateway struct {
	secretKey   string
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

// NewPaystackGateway creates a new PaystackGateway. Every call is bounded by timeout.
func NewPaystackGateway(secretKey, baseURL, callbackURL string, timeout time.Duration) *PaystackGateway {
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PaystackGateway{
		secretKey:   secretKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ---- Paystack API request/response structs ----

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	GatewayResponse string `json:"gateway_response"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type paystackRecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type paystackRecipientData struct {
	RecipientCode string `json:"recipient_code"`
	Type          string `json:"type"`
	Name          string `json:"name"`
}

type paystackTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type paystackTransferData struct {
	Reference     string `json:"reference"`
	TransferCode  string `json:"transfer_code"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// ---- PaymentGateway implementation ----

// InitializeCharge calls POST /transaction/initialize.
func (p *PaystackGateway) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeInitialization, error) {
	body := paystackInitializeRequest{
		Email:       req.Email,
		Amount:      ToSubunits(req.Amount),
		Currency:    req.Currency,
		CallbackURL: p.callbackURL,
		Metadata:    req.Metadata,
	}

	var data paystackInitializeData
	if err := p.doRequest(ctx, "initialize charge", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.Reference == "" || data.AuthorizationURL == "" {
		return nil, &GatewayError{Operation: "initialize charge", Message: "response missing reference or authorization_url"}
	}

	return &ChargeInitialization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
		Currency:         req.Currency,
	}, nil
}

// VerifyCharge calls GET /transaction/verify/:reference.
func (p *PaystackGateway) VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error) {
	var raw json.RawMessage
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := p.doRequest(ctx, "verify charge", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var data paystackVerifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &GatewayError{Operation: "verify charge", Message: "decode data", Err: err}
	}

	return &ChargeVerification{
		Reference:       data.Reference,
		Status:          data.Status,
		GatewayResponse: data.GatewayResponse,
		Amount:          FromSubunits(data.Amount),
		Currency:        data.Currency,
		Raw:             raw,
	}, nil
}

// CreateRecipient calls POST /transferrecipient.
func (p *PaystackGateway) CreateRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	body := paystackRecipientRequest{
		Type:          req.Type,
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		Currency:      req.Currency,
	}

	var data paystackRecipientData
	if err := p.doRequest(ctx, "create recipient", http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return nil, err
	}
	if data.RecipientCode == "" {
		return nil, &GatewayError{Operation: "create recipient", Message: "response missing recipient_code"}
	}

	return &Recipient{RecipientCode: data.RecipientCode, Type: data.Type, Name: data.Name}, nil
}

// InitiateTransfer calls POST /transfer from the integration balance.
func (p *PaystackGateway) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	body := paystackTransferRequest{
		Source:    "balance",
		Amount:    ToSubunits(req.Amount),
		Currency:  req.Currency,
		Recipient: req.RecipientCode,
		Reason:    req.Reason,
	}

	var data paystackTransferData
	if err := p.doRequest(ctx, "initiate transfer", http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	if data.Reference == "" {
		return nil, &GatewayError{Operation: "initiate transfer", Message: "response missing reference"}
	}

	return &Transfer{Reference: data.Reference, TransferCode: data.TransferCode, Status: data.Status}, nil
}

// VerifyTransfer calls GET /transfer/verify/:reference.
func (p *PaystackGateway) VerifyTransfer(ctx context.Context, reference string) (*TransferVerification, error) {
	var raw json.RawMessage
	path := "/transfer/verify/" + url.PathEscape(reference)
	if err := p.doRequest(ctx, "verify transfer", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var data paystackTransferData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &GatewayError{Operation: "verify transfer", Message: "decode data", Err: err}
	}

	return &TransferVerification{
		Reference:     data.Reference,
		TransferCode:  data.TransferCode,
		Status:        data.Status,
		FailureReason: data.FailureReason,
		Raw:           raw,
	}, nil
}

// ---- HTTP helper ----

// doRequest sends a JSON request and decodes the envelope's data into out.
func (p *PaystackGateway) doRequest(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Operation: op, Message: "marshal request", Err: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return &GatewayError{Operation: op, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Operation: op, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Operation: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var env paystackEnvelope
	decodeErr := json.Unmarshal(respBytes, &env)

	if resp.StatusCode >= 500 {
		return &GatewayError{Operation: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("gateway error (status %d)", resp.StatusCode)}
	}
	if decodeErr != nil {
		return &GatewayError{Operation: op, StatusCode: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("request rejected (status %d)", resp.StatusCode)
		}
		return &GatewayError{Operation: op, StatusCode: resp.StatusCode, Message: msg, Rejected: true}
	}

	if out != nil && len(env.Data) > 0 {
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], env.Data...)
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &GatewayError{Operation: op, StatusCode: resp.StatusCode, Message: "decode data", Err: err}
		}
	}
	return nil
}
