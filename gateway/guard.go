package gateway

import (
	"context"

	"github.com/rs/zerolog"
)

// TokenClearer drops the current session token
type TokenClearer interface {
	Clear() error
}

// Guard applies the global rejection rule to every call that passes through it:
// an unauthorized result clears the session token and notifies onRejected,
// whichever component issued the call.
type Guard struct {
	next       Caller
	tokens     TokenClearer
	onRejected func(err error)
	logger     zerolog.Logger
}

var _ Caller = (*Guard)(nil)

func NewGuard(next Caller, tokens TokenClearer, onRejected func(err error), logger zerolog.Logger) *Guard {
	return &Guard{
		next:       next,
		tokens:     tokens,
		onRejected: onRejected,
		logger:     logger,
	}
}

func (g *Guard) Call(ctx context.Context, method, path string, body, out any) error {
	err := g.next.Call(ctx, method, path, body, out)
	if !IsKind(err, KindUnauthorized) {
		return err
	}

	g.logger.Info().Str("method", method).Str("path", path).Msg("Session token rejected")
	if g.tokens != nil {
		if clearErr := g.tokens.Clear(); clearErr != nil {
			g.logger.Err(clearErr).Msg("Failed to clear rejected token")
		}
	}
	if g.onRejected != nil {
		g.onRejected(err)
	}
	return err
}
