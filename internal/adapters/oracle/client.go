package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0kol/IPledge/internal/domain"
	"github.com/l0kol/IPledge/internal/ports"
)

// Client reads asset valuations from the IP valuation service over HTTP.
// Every failure is reported as domain.ErrOracleUnavailable so the engine can
// fall back to cached or stored readings.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("valuation oracle base url %q is invalid", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, httpClient: httpClient}, nil
}

type valuationResponse struct {
	AssetID string       `json:"asset_id"`
	Value   domain.Money `json:"value"`
	AsOf    time.Time    `json:"as_of"`
}

func (c *Client) GetValuation(ctx context.Context, assetID string) (domain.AssetValuation, error) {
	endpoint := c.baseURL + "/v1/assets/" + url.PathEscape(assetID) + "/valuation"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AssetValuation{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AssetValuation{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.AssetValuation{}, fmt.Errorf("%w: status=%d body=%s", domain.ErrOracleUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out valuationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AssetValuation{}, fmt.Errorf("%w: decode valuation: %v", domain.ErrOracleUnavailable, err)
	}
	if out.AssetID != "" && out.AssetID != assetID {
		return domain.AssetValuation{}, fmt.Errorf("%w: asked for %s, got %s", domain.ErrOracleUnavailable, assetID, out.AssetID)
	}
	if out.Value < 0 || out.AsOf.IsZero() {
		return domain.AssetValuation{}, fmt.Errorf("%w: malformed valuation for %s", domain.ErrOracleUnavailable, assetID)
	}
	return domain.AssetValuation{AssetID: assetID, Value: out.Value, AsOf: out.AsOf.UTC()}, nil
}

var _ ports.ValuationOracle = (*Client)(nil)
