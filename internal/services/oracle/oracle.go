// Package oracle provides current token prices from external quote services.
package oracle

import "context"

// TokenMetadata carries optional descriptive fields for a token. The ledger
// never depends on it; it only decorates chat confirmations.
type TokenMetadata struct {
	Symbol string
	Name   string
}

// Oracle quotes the current unit price of a token. Implementations must
// honor ctx deadlines; a timeout is surfaced to callers as a quote failure,
// identical to any other unavailability.
type Oracle interface {
	GetPrice(ctx context.Context, token string) (float64, error)
	GetMetadata(ctx context.Context, token string) (*TokenMetadata, error)
}

// TokenListing is one row of a token-discovery query.
type TokenListing struct {
	Address   string
	Symbol    string
	Name      string
	Price     float64
	Change24h float64
}

// Discovery finds tokens by name and ranks them by 24h price change.
// Exchange-symbol backends cannot browse the token universe, so discovery is
// optional: callers feature-check with a type assertion.
type Discovery interface {
	SearchTokens(ctx context.Context, query string, limit int) ([]TokenListing, error)
	TopGainers(ctx context.Context, limit int) ([]TokenListing, error)
	TopLosers(ctx context.Context, limit int) ([]TokenListing, error)
}
