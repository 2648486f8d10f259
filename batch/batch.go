// Package batch runs independent per-module work in parallel. A module's
// declaration graph is not safe for concurrent use, so each task owns the
// modules it loads.
package batch

import (
	"context"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/ilweave/model"
)

// DefaultLimit is the fan-out used when Run is given a limit below one.
func DefaultLimit() int { return runtime.GOMAXPROCS(0) }

// Run calls fn for every input with at most limit calls in flight and
// returns the results in input order. The first error cancels the context
// passed to the remaining calls and is returned.
func Run[In, Out any](ctx context.Context, inputs []In, limit int, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	if limit < 1 {
		limit = DefaultLimit()
	}
	out := make([]Out, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, in := range inputs {
		i, in := i, in
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, in)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Modules loads every path with opts, hands the module to fn and closes it
// afterwards.
func Modules[Out any](ctx context.Context, paths []string, limit int, fn func(context.Context, string, *model.Module) (Out, error), opts ...model.Option) ([]Out, error) {
	log := Logger()
	return Run(ctx, paths, limit, func(ctx context.Context, path string) (Out, error) {
		var zero Out
		m, err := model.LoadFile(ctx, path, opts...)
		if err != nil {
			log.Debug("load failed", zap.String("path", path), zap.Error(err))
			return zero, err
		}
		defer m.Close()
		r, err := fn(ctx, path, m)
		if err != nil {
			return zero, err
		}
		log.Debug("module processed", zap.String("path", path))
		return r, nil
	})
}
