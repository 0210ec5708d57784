package reminder

import "context"

type ProfileStore interface {
	ClientTokens(ctx context.Context, clientID string) ([]string, error)
}

// Resolver maps a client reference to its current delivery tokens.
type Resolver struct {
	profiles ProfileStore
}

func NewResolver(profiles ProfileStore) *Resolver {
	return &Resolver{profiles: profiles}
}

// Tokens returns the client's tokens without blanks or repeats. Walk-ins
// (empty clientID) resolve to nothing without touching the store.
func (r *Resolver) Tokens(ctx context.Context, clientID string) ([]string, error) {
	if clientID == "" {
		return nil, nil
	}
	raw, err := r.profiles.ClientTokens(ctx, clientID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens, nil
}
