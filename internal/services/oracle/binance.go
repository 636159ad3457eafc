package oracle

import (
	"context"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
)

// BinanceOracle quotes exchange-listed symbols via the Binance public API.
// It maps a token address to its exchange symbol through a configured table;
// unmapped tokens cannot be quoted here.
type BinanceOracle struct {
	client  *binance.Client
	symbols map[string]string // token address -> exchange symbol, e.g. "SOLUSDT"
}

// NewBinanceOracle creates a Binance-backed oracle. The public price API
// needs no credentials; keys may be empty.
func NewBinanceOracle(apiKey, apiSecret string, symbols map[string]string) *BinanceOracle {
	return &BinanceOracle{
		client:  binance.NewClient(apiKey, apiSecret),
		symbols: symbols,
	}
}

// GetPrice returns the last price for the token's mapped symbol.
func (o *BinanceOracle) GetPrice(ctx context.Context, token string) (float64, error) {
	symbol, ok := o.symbols[token]
	if !ok {
		return 0, errors.Errorf("no binance symbol mapped for token %s", token)
	}

	prices, err := o.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "binance price request failed for %s", symbol)
	}
	if len(prices) == 0 {
		return 0, errors.Errorf("binance API returned empty prices for %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse binance price for %s", symbol)
	}
	return price, nil
}

// GetMetadata derives a symbol from the mapping table; Binance carries no
// further token metadata.
func (o *BinanceOracle) GetMetadata(_ context.Context, token string) (*TokenMetadata, error) {
	symbol, ok := o.symbols[token]
	if !ok {
		return nil, errors.Errorf("no binance symbol mapped for token %s", token)
	}
	return &TokenMetadata{Symbol: strings.TrimSuffix(symbol, "USDT")}, nil
}
