package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBirdeyeBaseURL = "https://public-api.birdeye.so"
	defaultBirdeyeTimeout = 5 * time.Second
)

// BirdeyeOracle quotes token prices over the Birdeye public HTTP API.
// Endpoint paths drifted across deployments, so both base URL and paths are
// configuration rather than constants.
type BirdeyeOracle struct {
	client       *http.Client
	baseURL      string
	pricePath    string
	metadataPath string
	listPath     string
	apiKey       string
}

// BirdeyeConfig configures the Birdeye client. Zero values fall back to the
// public endpoint defaults.
type BirdeyeConfig struct {
	BaseURL      string
	PricePath    string
	MetadataPath string
	ListPath     string
	APIKey       string
	Timeout      time.Duration
}

// NewBirdeyeOracle creates a Birdeye-backed oracle.
func NewBirdeyeOracle(cfg BirdeyeConfig) *BirdeyeOracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBirdeyeBaseURL
	}
	if cfg.PricePath == "" {
		cfg.PricePath = "/public/price"
	}
	if cfg.MetadataPath == "" {
		cfg.MetadataPath = "/public/token_overview"
	}
	if cfg.ListPath == "" {
		cfg.ListPath = "/public/tokenlist"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBirdeyeTimeout
	}
	return &BirdeyeOracle{
		client:       &http.Client{Timeout: cfg.Timeout},
		baseURL:      cfg.BaseURL,
		pricePath:    cfg.PricePath,
		metadataPath: cfg.MetadataPath,
		listPath:     cfg.ListPath,
		apiKey:       cfg.APIKey,
	}
}

type birdeyePriceResponse struct {
	Data struct {
		Value float64 `json:"value"`
	} `json:"data"`
	Success bool `json:"success"`
}

type birdeyeMetadataResponse struct {
	Data struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"data"`
	Success bool `json:"success"`
}

type birdeyeListResponse struct {
	Data struct {
		Tokens []struct {
			Address        string  `json:"address"`
			Symbol         string  `json:"symbol"`
			Name           string  `json:"name"`
			Price          float64 `json:"price"`
			PriceChange24h float64 `json:"price_change_24h"`
		} `json:"tokens"`
	} `json:"data"`
	Success bool `json:"success"`
}

// GetPrice returns the token's current unit price in USD.
func (o *BirdeyeOracle) GetPrice(ctx context.Context, token string) (float64, error) {
	var resp birdeyePriceResponse
	if err := o.get(ctx, o.pricePath, token, &resp); err != nil {
		return 0, err
	}
	if !resp.Success || resp.Data.Value <= 0 {
		return 0, errors.Errorf("birdeye returned no price for %s", token)
	}
	return resp.Data.Value, nil
}

// GetMetadata returns descriptive fields for the token when the API has them.
func (o *BirdeyeOracle) GetMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	var resp birdeyeMetadataResponse
	if err := o.get(ctx, o.metadataPath, token, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Errorf("birdeye returned no metadata for %s", token)
	}
	return &TokenMetadata{Symbol: resp.Data.Symbol, Name: resp.Data.Name}, nil
}

// SearchTokens queries the token list by name or symbol, most traded first.
func (o *BirdeyeOracle) SearchTokens(ctx context.Context, query string, limit int) ([]TokenListing, error) {
	q := fmt.Sprintf("sort_by=volume&sort_type=desc&offset=0&limit=%d&query=%s", limit, url.QueryEscape(query))
	return o.list(ctx, q)
}

// TopGainers returns tokens ranked by 24h price change, best first.
func (o *BirdeyeOracle) TopGainers(ctx context.Context, limit int) ([]TokenListing, error) {
	return o.list(ctx, fmt.Sprintf("sort_by=price_change_24h&sort_type=desc&offset=0&limit=%d", limit))
}

// TopLosers returns tokens ranked by 24h price change, worst first.
func (o *BirdeyeOracle) TopLosers(ctx context.Context, limit int) ([]TokenListing, error) {
	return o.list(ctx, fmt.Sprintf("sort_by=price_change_24h&sort_type=asc&offset=0&limit=%d", limit))
}

func (o *BirdeyeOracle) list(ctx context.Context, query string) ([]TokenListing, error) {
	var resp birdeyeListResponse
	if err := o.request(ctx, o.listPath, query, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.New("birdeye returned no token list")
	}
	listings := make([]TokenListing, 0, len(resp.Data.Tokens))
	for _, tk := range resp.Data.Tokens {
		listings = append(listings, TokenListing{
			Address:   tk.Address,
			Symbol:    tk.Symbol,
			Name:      tk.Name,
			Price:     tk.Price,
			Change24h: tk.PriceChange24h,
		})
	}
	return listings, nil
}

func (o *BirdeyeOracle) get(ctx context.Context, path, token string, out any) error {
	return o.request(ctx, path, "address="+url.QueryEscape(token), out)
}

func (o *BirdeyeOracle) request(ctx context.Context, path, query string, out any) error {
	endpoint := fmt.Sprintf("%s%s?%s", o.baseURL, path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "build birdeye request")
	}
	if o.apiKey != "" {
		req.Header.Set("X-API-KEY", o.apiKey)
	}

	res, err := o.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "birdeye request failed")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return errors.Errorf("birdeye responded with status %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode birdeye response")
	}
	return nil
}
