// Package push sends multicast push notifications, prunes delivery tokens the
// provider reports as permanently invalid and records an audit entry for
// every dispatch.
package push

import (
	"context"
	"errors"
)

// Provider error codes. Only the first two mark a token as permanently
// invalid.
const (
	CodeTokenNotRegistered = "messaging/registration-token-not-registered"
	CodeInvalidToken       = "messaging/invalid-registration-token"
	CodeInvalidArgument    = "messaging/invalid-argument"
	CodeQuotaExceeded      = "messaging/quota-exceeded"
	CodeUnavailable        = "messaging/unavailable"
	CodeInternal           = "messaging/internal-error"
	CodeUnknown            = "messaging/unknown-error"
)

var (
	ErrDispatchDisabled = errors.New("push dispatch is disabled: provider credentials not configured")
	ErrNoTokens         = errors.New("no delivery tokens")
)

// Message is one multicast request.
type Message struct {
	Title  string
	Body   string
	Tokens []string
	Data   map[string]string
	Link   string
}

// TokenResult is the provider outcome for a single token.
type TokenResult struct {
	Token     string
	Success   bool
	MessageID string
	ErrorCode string
}

// BatchResult holds one TokenResult per input token, in input order. A
// partial result returned with an error covers a prefix of the tokens.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Responses    []TokenResult
}

// Sender is the push provider. Implementations must return Responses
// positionally aligned with msg.Tokens. On error the result is nil unless
// some tokens were already delivered.
type Sender interface {
	SendMulticast(ctx context.Context, msg Message) (*BatchResult, error)
}

// IsPermanentFailure reports whether the provider will never accept the token
// again.
func IsPermanentFailure(code string) bool {
	return code == CodeTokenNotRegistered || code == CodeInvalidToken
}
