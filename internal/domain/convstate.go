package domain

import "github.com/pkg/errors"

// ConversationMode enumerates the steps of the multi-step chat flows.
type ConversationMode int

const (
	ModeIdle ConversationMode = iota
	ModeAwaitingBuyAddress
	ModeAwaitingBuyAmount
	ModeAwaitingSellToken
	ModeAwaitingSellPercent
	ModeAwaitingWalletAddress
)

// String returns the string representation of the mode.
func (m ConversationMode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAwaitingBuyAddress:
		return "awaiting_buy_address"
	case ModeAwaitingBuyAmount:
		return "awaiting_buy_amount"
	case ModeAwaitingSellToken:
		return "awaiting_sell_token"
	case ModeAwaitingSellPercent:
		return "awaiting_sell_percent"
	case ModeAwaitingWalletAddress:
		return "awaiting_wallet_address"
	default:
		return "unknown"
	}
}

// ConversationState is a tagged variant: the current flow step plus the
// pending token collected in an earlier step. Constructors reject
// mode/payload combinations that the transition table can never produce.
type ConversationState struct {
	Mode         ConversationMode `json:"mode"`
	PendingToken string           `json:"pending_token,omitempty"`
}

// Idle is the resting state between flows.
func Idle() ConversationState {
	return ConversationState{Mode: ModeIdle}
}

// AwaitingBuyAddress starts the buy flow.
func AwaitingBuyAddress() ConversationState {
	return ConversationState{Mode: ModeAwaitingBuyAddress}
}

// AwaitingBuyAmount stores the token collected by the buy flow.
func AwaitingBuyAmount(token string) (ConversationState, error) {
	if token == "" {
		return ConversationState{}, errors.New("awaiting_buy_amount requires a pending token")
	}
	return ConversationState{Mode: ModeAwaitingBuyAmount, PendingToken: token}, nil
}

// AwaitingSellToken starts the sell flow.
func AwaitingSellToken() ConversationState {
	return ConversationState{Mode: ModeAwaitingSellToken}
}

// AwaitingSellPercent stores the token selected by the sell flow.
func AwaitingSellPercent(token string) (ConversationState, error) {
	if token == "" {
		return ConversationState{}, errors.New("awaiting_sell_percent requires a pending token")
	}
	return ConversationState{Mode: ModeAwaitingSellPercent, PendingToken: token}, nil
}

// AwaitingWalletAddress starts the wallet-tracking flow.
func AwaitingWalletAddress() ConversationState {
	return ConversationState{Mode: ModeAwaitingWalletAddress}
}

// IsIdle reports whether no flow is in progress.
func (s ConversationState) IsIdle() bool {
	return s.Mode == ModeIdle
}

// Valid reports whether the mode/payload combination is one the transition
// table can produce. Persisted states are checked on load; an invalid stored
// state is replaced with Idle rather than trusted.
func (s ConversationState) Valid() bool {
	switch s.Mode {
	case ModeAwaitingBuyAmount, ModeAwaitingSellPercent:
		return s.PendingToken != ""
	case ModeIdle, ModeAwaitingBuyAddress, ModeAwaitingSellToken, ModeAwaitingWalletAddress:
		return s.PendingToken == ""
	default:
		return false
	}
}
