package domain

import (
	"strconv"
	"strings"
)

// base58Alphabet is the fixed alphabet shared by token mints and wallet
// addresses: no 0, O, I or l. No checksum is applied; token and wallet
// addresses are indistinguishable by shape.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	minAddressLen = 32
	maxAddressLen = 44
)

// IsValidAddress reports whether text looks like a base58 address of 32-44
// characters.
func IsValidAddress(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < minAddressLen || len(text) > maxAddressLen {
		return false
	}
	for _, r := range text {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// ParseAmount parses a positive usd amount from user text. Accepts an
// optional leading "$" and thousands-free decimal notation.
func ParseAmount(text string) (float64, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "$"))
	amount, err := strconv.ParseFloat(text, 64)
	if err != nil || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return amount, nil
}

// ParsePercent parses a sell percentage in (0, 100] from user text. Accepts
// an optional trailing "%".
func ParsePercent(text string) (float64, error) {
	text = strings.TrimSuffix(strings.TrimSpace(text), "%")
	percent, err := strconv.ParseFloat(text, 64)
	if err != nil || percent <= 0 || percent > 100 {
		return 0, ErrInvalidPercent
	}
	return percent, nil
}
