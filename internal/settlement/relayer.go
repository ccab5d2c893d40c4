package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/metamarket/internal/crypto"
	"github.com/alanyoungcy/metamarket/internal/domain"
)

const settlementsPath = "/v1/settlements"

// RelayerConfig configures the HTTP relayer provider.
type RelayerConfig struct {
	BaseURL      string
	Key          string
	Secret       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Relayer submits settlements to an external HTTP relayer and polls until
// the transaction is sealed or failed.
type Relayer struct {
	baseURL    string
	auth       *crypto.HMACAuth
	poll       time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.SettlementProvider = (*Relayer)(nil)

// NewRelayer creates a relayer-backed provider.
func NewRelayer(cfg RelayerConfig, logger *slog.Logger) *Relayer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Relayer{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       &crypto.HMACAuth{Key: cfg.Key, Secret: cfg.Secret},
		poll:       poll,
		httpClient: client,
		logger:     logger.With(slog.String("component", "settlement_relayer")),
	}
}

// Mode implements domain.SettlementProvider.
func (r *Relayer) Mode() string { return "relayer" }

// Submit posts the request and waits for a terminal status.
func (r *Relayer) Submit(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	if req.Signer == "" {
		req.Signer = "anonymous"
	}
	var res domain.SettlementResult
	if err := r.do(ctx, http.MethodPost, settlementsPath, req, &res); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement/relayer: submit: %w", err)
	}
	if res.TxID == "" {
		return domain.SettlementResult{}, fmt.Errorf("settlement/relayer: submit: response has no txId")
	}

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for res.Status == domain.TxPending || res.Status == "" {
		select {
		case <-ctx.Done():
			r.logger.ErrorContext(ctx, "settlement still pending at deadline",
				slog.String("tx_id", res.TxID),
				slog.String("market_id", req.MarketID),
			)
			return res, fmt.Errorf("settlement/relayer: wait %s: %w", res.TxID, ctx.Err())
		case <-ticker.C:
		}
		next, err := r.Status(ctx, res.TxID)
		if err != nil {
			return res, err
		}
		res = next
	}
	return res, nil
}

// Status fetches the current state of a transaction.
func (r *Relayer) Status(ctx context.Context, txID string) (domain.SettlementResult, error) {
	var res domain.SettlementResult
	if err := r.do(ctx, http.MethodGet, settlementsPath+"/"+txID, nil, &res); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement/relayer: status %s: %w", txID, err)
	}
	return res, nil
}

func (r *Relayer) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.auth.Headers(method, path, string(payload)) {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode >= 300:
		return fmt.Errorf("relayer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
