package oracle

import (
	"context"
	"strconv"
	"strings"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
)

// BybitOracle quotes exchange-listed symbols via the Bybit V5 market API.
type BybitOracle struct {
	client  *bybit.Client
	symbols map[string]string // token address -> exchange symbol
}

// NewBybitOracle creates a Bybit-backed oracle.
func NewBybitOracle(client *bybit.Client, symbols map[string]string) *BybitOracle {
	return &BybitOracle{client: client, symbols: symbols}
}

// GetPrice returns the spot last price for the token's mapped symbol.
func (o *BybitOracle) GetPrice(_ context.Context, token string) (float64, error) {
	mapped, ok := o.symbols[token]
	if !ok {
		return 0, errors.Errorf("no bybit symbol mapped for token %s", token)
	}
	symbol := bybit.SymbolV5(mapped)

	result, err := o.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "bybit price request failed for %s", mapped)
	}
	if len(result.Result.Spot.List) == 0 {
		return 0, errors.Errorf("bybit API returned empty prices for %s", mapped)
	}

	price, err := strconv.ParseFloat(result.Result.Spot.List[0].LastPrice, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse bybit price for %s", mapped)
	}
	return price, nil
}

// GetMetadata derives a symbol from the mapping table.
func (o *BybitOracle) GetMetadata(_ context.Context, token string) (*TokenMetadata, error) {
	mapped, ok := o.symbols[token]
	if !ok {
		return nil, errors.Errorf("no bybit symbol mapped for token %s", token)
	}
	return &TokenMetadata{Symbol: strings.TrimSuffix(mapped, "USDT")}, nil
}
