package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Cafe137/swarmy-backend/internal/payment"
	"github.com/Cafe137/swarmy-backend/internal/plan"
)

const coinbaseBaseURL = "https://api.commerce.coinbase.com"

var ErrChargeNotFound = errors.New("coinbase charge not found")

// ChargeState is the terminal-or-not settlement state of a crypto charge.
type ChargeState string

const (
	ChargeStatePending   ChargeState = "PENDING"
	ChargeStateCompleted ChargeState = "COMPLETED"
	ChargeStateExpired   ChargeState = "EXPIRED"
)

// Charge is a hosted crypto payment page.
type Charge struct {
	Code      string
	HostedURL string
}

// ChargeCreator is the Coinbase Commerce surface the crypto flow uses.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, name string, amountCents int64, currency string) (*Charge, error)
	ChargeState(ctx context.Context, code string) (ChargeState, error)
}

// CoinbaseClient talks to the Coinbase Commerce charges API.
type CoinbaseClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewCoinbaseClient creates a Coinbase Commerce client.
func NewCoinbaseClient(apiKey string) *CoinbaseClient {
	return &CoinbaseClient{
		baseURL: coinbaseBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type coinbaseCharge struct {
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	Timeline  []struct {
		Status string `json:"status"`
	} `json:"timeline"`
}

func (c *CoinbaseClient) CreateCharge(ctx context.Context, name string, amountCents int64, currency string) (*Charge, error) {
	body, err := json.Marshal(map[string]any{
		"name":         name,
		"pricing_type": "fixed_price",
		"local_price": map[string]string{
			"amount":   strconv.FormatFloat(float64(amountCents)/100, 'f', 2, 64),
			"currency": currency,
		},
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/charges", body, &out); err != nil {
		return nil, err
	}
	return &Charge{Code: out.Data.Code, HostedURL: out.Data.HostedURL}, nil
}

// ChargeState reduces the charge timeline to the latest settlement state.
func (c *CoinbaseClient) ChargeState(ctx context.Context, code string) (ChargeState, error) {
	var out struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/charges/"+code, nil, &out); err != nil {
		return "", err
	}
	state := ChargeStatePending
	for _, entry := range out.Data.Timeline {
		switch entry.Status {
		case "COMPLETED", "RESOLVED":
			state = ChargeStateCompleted
		case "EXPIRED", "CANCELED":
			state = ChargeStateExpired
		}
	}
	return state, nil
}

func (c *CoinbaseClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", "2018-03-22")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coinbase %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// InitCryptoSubscription opens a crypto charge for a subscription. The charge
// code doubles as the merchant transaction reference so the settlement sweep
// can poll it later.
func (s *Service) InitCryptoSubscription(ctx context.Context, charges ChargeCreator, orgID, storageGB, bandwidthGB int64) (string, error) {
	if _, err := s.orgs.Get(ctx, orgID); err != nil {
		return "", err
	}
	if s.wallet != nil {
		if err := s.wallet.VerifyBalanceFor(ctx, float64(storageGB)); err != nil {
			s.alerts.SendAlert("subscription blocked on operator wallet balance", err)
			return "", fmt.Errorf("%w: %w", ErrInsufficientOperatorFunds, err)
		}
	}

	p, err := s.plans.CreatePendingPlan(ctx, orgID, storageGB, bandwidthGB, plan.PaymentTypeCrypto)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("Swarmy %d GB storage / %d GB bandwidth", storageGB, bandwidthGB)
	charge, err := charges.CreateCharge(ctx, name, p.AmountCents, p.Currency)
	if err != nil {
		return "", err
	}
	if _, err := s.payments.CreatePending(ctx, charge.Code, orgID, p.ID, p.AmountCents, p.Currency, payment.ProviderCoinbase); err != nil {
		return "", err
	}
	s.logger.Info("opened crypto charge", "organizationId", orgID, "planId", p.ID, "chargeCode", charge.Code)
	return charge.HostedURL, nil
}

// SettleCryptoPayment polls one pending crypto payment and applies its
// outcome. Pending charges are left for the next sweep.
func (s *Service) SettleCryptoPayment(ctx context.Context, charges ChargeCreator, pay payment.Payment) error {
	state, err := charges.ChargeState(ctx, pay.MerchantTransactionID)
	if err != nil {
		return fmt.Errorf("polling charge %s: %w", pay.MerchantTransactionID, err)
	}
	switch state {
	case ChargeStateCompleted:
		if err := s.payments.MarkSuccess(ctx, pay.ID); err != nil {
			return err
		}
		if err := s.plans.ActivatePlan(ctx, pay.OrganizationID, pay.PlanID); err != nil {
			return err
		}
		s.logger.Info("settled crypto charge", "chargeCode", pay.MerchantTransactionID, "organizationId", pay.OrganizationID)
	case ChargeStateExpired:
		if err := s.payments.MarkFailed(ctx, pay.ID); err != nil {
			return err
		}
		s.logger.Info("crypto charge expired", "chargeCode", pay.MerchantTransactionID)
	}
	return nil
}
