package command

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Validation rejects commands whose Validate fails before any other work.
func Validation() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) (any, error) {
			if v, ok := cmd.(Validator); ok {
				if err := v.Validate(); err != nil {
					return nil, err
				}
			}
			return next(ctx, cmd)
		}
	}
}

// Logging records type, duration and outcome of every command.
func Logging(log *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd Command) (any, error) {
			start := time.Now()
			res, err := next(ctx, cmd)
			if err != nil {
				log.Warnw("command failed", "command", cmd.CommandType(), "took", time.Since(start), "error", err)
				return res, err
			}
			log.Infow("command executed", "command", cmd.CommandType(), "took", time.Since(start))
			return res, nil
		}
	}
}
