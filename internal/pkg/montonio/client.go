package montonio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/env"
)

const (
	defaultAPIBaseURL = "https://stargate.montonio.com/api"

	// orderTokenTTL bounds the validity of the signed token authenticating
	// this service to Montonio. A fresh token is generated per call; stale
	// tokens are never reused.
	orderTokenTTL = 10 * time.Minute
)

// Order request validation failures, surfaced synchronously as 400-class
// errors. Never retried.
var (
	ErrInvalidAmount      = errors.New("amount must be a positive integer in minor units")
	ErrMissingCurrency    = errors.New("currency is required")
	ErrMissingDescription = errors.New("description is required")
	ErrMissingBank        = errors.New("bankId is required")
)

// Client talks to the Montonio order API. Construct it once at process start
// and pass it by reference to request handlers.
type Client struct {
	AccessKey       string
	SecretKey       string
	APIBaseURL      string
	ReturnURL       string
	NotificationURL string

	HTTPClient *http.Client
}

// Customer carries checkout contact fields. At least one of the personal
// name pair or company name must be present; the caller enforces that.
type Customer struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// OrderRequest describes one checkout attempt. Amount is in minor currency
// units (cents).
type OrderRequest struct {
	Amount      int64
	Currency    string
	Description string
	BankID      string
	Locale      string
	Customer    Customer
}

// OrderResult is the provider's assigned order representation plus the
// payment redirect URL.
type OrderResult struct {
	Order             map[string]interface{}
	PaymentURL        string
	MerchantReference string
}

// OrderCreationError carries the provider's HTTP status and response body
// for diagnostics. Order creation is never retried automatically; the
// checkout UI lets the user retry.
type OrderCreationError struct {
	StatusCode int
	Body       string
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("montonio order creation failed: status=%d body=%s", e.StatusCode, e.Body)
}

// PaymentMethodsQuery filters the payment-methods listing. Empty fields fall
// back to provider-side defaults.
type PaymentMethodsQuery struct {
	GrandTotal string
	Currency   string
	Country    string
	Locale     string
}

// Bank is one payment-initiation method offered by the provider.
type Bank struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl"`
}

// NewClientFromEnv builds a client from MONTONIO_* environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		AccessKey:       strings.TrimSpace(env.GetEnv("MONTONIO_ACCESS_KEY", "")),
		SecretKey:       strings.TrimSpace(env.GetEnv("MONTONIO_SECRET_KEY", "")),
		APIBaseURL:      strings.TrimRight(env.GetEnv("MONTONIO_API_URL", defaultAPIBaseURL), "/"),
		ReturnURL:       strings.TrimSpace(env.GetEnv("MONTONIO_RETURN_URL", "")),
		NotificationURL: strings.TrimSpace(env.GetEnv("MONTONIO_NOTIFICATION_URL", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateOrder opens a payment order with Montonio and returns the redirect
// URL. The provider is the system of record for order state until a webhook
// arrives; nothing is persisted locally here.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, ErrMissingCurrency
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, ErrMissingDescription
	}
	if strings.TrimSpace(req.BankID) == "" {
		return nil, ErrMissingBank
	}

	merchantReference := newMerchantReference()

	token, err := SignToken(c.orderClaims(req, merchantReference), c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order token: %w", err)
	}

	body, err := json.Marshal(map[string]string{"data": token})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &OrderCreationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var order map[string]interface{}
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	result := &OrderResult{
		Order:             order,
		PaymentURL:        stringField(order, "paymentUrl"),
		MerchantReference: stringField(order, "merchantReference"),
	}
	if result.MerchantReference == "" {
		// Provider did not echo the reference back; keep the local one so
		// the order stays correlatable.
		result.MerchantReference = merchantReference
	}
	return result, nil
}

// GetPaymentMethods lists the payment-initiation methods (banks) available
// in the store, flattened across countries.
func (c *Client) GetPaymentMethods(ctx context.Context, q PaymentMethodsQuery) ([]Bank, error) {
	token, err := SignToken(map[string]interface{}{
		"accessKey": c.AccessKey,
		"exp":       time.Now().Add(orderTokenTTL).Unix(),
	}, c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment-methods token: %w", err)
	}

	u, err := url.Parse(c.APIBaseURL + "/stores/payment-methods")
	if err != nil {
		return nil, err
	}
	params := u.Query()
	if q.GrandTotal != "" {
		params.Set("grandTotal", q.GrandTotal)
	}
	if q.Currency != "" {
		params.Set("currency", q.Currency)
	}
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	if q.Locale != "" {
		params.Set("locale", q.Locale)
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("montonio payment-methods request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var raw struct {
		PaymentMethods struct {
			PaymentInitiation struct {
				Setup map[string]struct {
					PaymentMethods []struct {
						Name    string `json:"name"`
						Code    string `json:"code"`
						UUID    string `json:"uuid"`
						LogoURL string `json:"logoUrl"`
					} `json:"paymentMethods"`
				} `json:"setup"`
			} `json:"paymentInitiation"`
		} `json:"paymentMethods"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode payment-methods response: %w", err)
	}

	banks := make([]Bank, 0)
	seen := make(map[string]struct{})
	for _, country := range raw.PaymentMethods.PaymentInitiation.Setup {
		for _, m := range country.PaymentMethods {
			id := m.Code
			if id == "" {
				id = m.UUID
			}
			if id == "" {
				id = strings.ToLower(strings.ReplaceAll(m.Name, " ", "_"))
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			banks = append(banks, Bank{ID: id, Name: m.Name, LogoURL: m.LogoURL})
		}
	}
	return banks, nil
}

// orderClaims builds the full signed order payload. A fresh exp is set per
// call so a stale token can never be replayed.
func (c *Client) orderClaims(req OrderRequest, merchantReference string) map[string]interface{} {
	grandTotal := FormatAmount(req.Amount)
	locale := req.Locale
	if locale == "" {
		locale = "lv"
	}

	billing := map[string]interface{}{
		"firstName":   req.Customer.FirstName,
		"lastName":    req.Customer.LastName,
		"email":       req.Customer.Email,
		"phoneNumber": req.Customer.Phone,
	}
	if req.Customer.CompanyName != "" {
		billing["companyName"] = req.Customer.CompanyName
	}

	return map[string]interface{}{
		"accessKey":         c.AccessKey,
		"merchantReference": merchantReference,
		"returnUrl":         c.ReturnURL,
		"notificationUrl":   c.NotificationURL,
		"currency":          strings.ToUpper(req.Currency),
		"grandTotal":        grandTotal,
		"locale":            locale,
		"billingAddress":    billing,
		"lineItems": []map[string]interface{}{
			{
				"name":       req.Description,
				"quantity":   1,
				"finalPrice": grandTotal,
			},
		},
		"payment": map[string]interface{}{
			"method":   "paymentInitiation",
			"amount":   grandTotal,
			"currency": strings.ToUpper(req.Currency),
			"methodOptions": map[string]interface{}{
				"preferredProvider": req.BankID,
				"paymentReference":  merchantReference,
			},
		},
		"exp": time.Now().Add(orderTokenTTL).Unix(),
	}
}

// FormatAmount renders minor currency units as a fixed two-decimal string,
// e.g. 4550 -> "45.50".
func FormatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// newMerchantReference synthesizes a unique reference correlating the order
// across systems before any provider identifier exists.
func newMerchantReference() string {
	return fmt.Sprintf("octa-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
