package push

import (
	"context"

	"github.com/franzego/salon-reminders/internal/metrics"
	"go.uber.org/zap"
)

// TokenStore removes tokens from a client profile. RemoveTokens must only
// pull the named values so it can run alongside token registration.
type TokenStore interface {
	RemoveTokens(ctx context.Context, clientID string, tokens []string) error
}

// InvalidTokens returns the tokens whose outcome carries a permanent failure
// code. tokens and res.Responses are matched by position.
func InvalidTokens(tokens []string, res *BatchResult) []string {
	if res == nil {
		return nil
	}
	var invalid []string
	for i, r := range res.Responses {
		if i >= len(tokens) {
			break
		}
		if !r.Success && IsPermanentFailure(r.ErrorCode) {
			invalid = append(invalid, tokens[i])
		}
	}
	return invalid
}

// Reconciler prunes permanently invalid tokens from the owning profile.
type Reconciler struct {
	store  TokenStore
	logger *zap.Logger
}

func NewReconciler(store TokenStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile removes the invalid tokens and returns them. Nothing is written
// when no token needs removal. Store errors are logged, never returned.
func (r *Reconciler) Reconcile(ctx context.Context, clientID string, tokens []string, res *BatchResult) []string {
	invalid := InvalidTokens(tokens, res)
	if len(invalid) == 0 {
		return nil
	}
	if clientID == "" {
		r.logger.Info("invalid tokens reported for a send without a target user, nothing to prune",
			zap.Int("count", len(invalid)),
		)
		return nil
	}

	if err := r.store.RemoveTokens(ctx, clientID, invalid); err != nil {
		r.logger.Error("failed to remove invalid tokens",
			zap.String("client_id", clientID),
			zap.Int("count", len(invalid)),
			zap.Error(err),
		)
		return nil
	}

	metrics.PushTokensRemoved.Add(float64(len(invalid)))
	r.logger.Info("removed invalid tokens",
		zap.String("client_id", clientID),
		zap.Int("count", len(invalid)),
	)
	return invalid
}
