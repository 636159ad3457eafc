package oracle

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// StaticOracle serves prices from a fixed in-memory table. Used in tests and
// for offline simulation runs.
type StaticOracle struct {
	mu       sync.RWMutex
	prices   map[string]float64
	metadata map[string]TokenMetadata
	listings []TokenListing
}

// NewStaticOracle creates a static oracle preloaded with the given prices.
func NewStaticOracle(prices map[string]float64) *StaticOracle {
	if prices == nil {
		prices = make(map[string]float64)
	}
	return &StaticOracle{
		prices:   prices,
		metadata: make(map[string]TokenMetadata),
	}
}

// SetPrice sets or updates a token's quoted price.
func (o *StaticOracle) SetPrice(token string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[token] = price
}

// Remove drops a token so subsequent quotes fail.
func (o *StaticOracle) Remove(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.prices, token)
}

// SetMetadata sets descriptive fields for a token.
func (o *StaticOracle) SetMetadata(token string, md TokenMetadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metadata[token] = md
}

// GetPrice returns the configured price, or an error for unknown tokens.
func (o *StaticOracle) GetPrice(_ context.Context, token string) (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[token]
	if !ok {
		return 0, errors.Errorf("no static price for token %s", token)
	}
	return price, nil
}

// SetListings replaces the discovery table.
func (o *StaticOracle) SetListings(listings []TokenListing) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listings = listings
}

// SearchTokens matches listings whose symbol or name contains query.
func (o *StaticOracle) SearchTokens(_ context.Context, query string, limit int) ([]TokenListing, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	query = strings.ToLower(query)
	var out []TokenListing
	for _, l := range o.listings {
		if len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(l.Symbol), query) || strings.Contains(strings.ToLower(l.Name), query) {
			out = append(out, l)
		}
	}
	return out, nil
}

// TopGainers returns listings sorted by 24h change, best first.
func (o *StaticOracle) TopGainers(_ context.Context, limit int) ([]TokenListing, error) {
	return o.ranked(limit, func(a, b TokenListing) bool { return a.Change24h > b.Change24h }), nil
}

// TopLosers returns listings sorted by 24h change, worst first.
func (o *StaticOracle) TopLosers(_ context.Context, limit int) ([]TokenListing, error) {
	return o.ranked(limit, func(a, b TokenListing) bool { return a.Change24h < b.Change24h }), nil
}

func (o *StaticOracle) ranked(limit int, less func(a, b TokenListing) bool) []TokenListing {
	o.mu.RLock()
	out := make([]TokenListing, len(o.listings))
	copy(out, o.listings)
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetMetadata returns configured metadata, if any.
func (o *StaticOracle) GetMetadata(_ context.Context, token string) (*TokenMetadata, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	md, ok := o.metadata[token]
	if !ok {
		return nil, errors.Errorf("no metadata for token %s", token)
	}
	return &md, nil
}
