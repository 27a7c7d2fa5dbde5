package idempotency

import (
	"context"

	"github.com/richardliu001/eventkernel/internal/command"
)

// Middleware puts the guard in a command pipeline. Only commands
// implementing command.Idempotent are guarded; every guarded result is a
// json.RawMessage, cached or fresh.
func (g *Guard) Middleware() command.Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, cmd command.Command) (any, error) {
			ic, ok := cmd.(command.Idempotent)
			if !ok || ic.IdempotencyKey() == "" {
				return next(ctx, cmd)
			}
			return g.Do(ctx, cmd.CommandType(), ic.IdempotencyKey(), func(ctx context.Context) (any, error) {
				return next(ctx, cmd)
			})
		}
	}
}
