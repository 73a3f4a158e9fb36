package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/logger"
	"github.com/ownership-graph/rollwin/pkg/retry"
)

// ErrBaseGraphMissing means the base projection could not be verified or
// recreated. A run cannot continue without it.
var ErrBaseGraphMissing = errors.New("base graph unavailable")

type Builder struct {
	engine      gds.Engine
	projection  gds.BaseProjection
	retryConfig retry.Config
}

func NewBuilder(engine gds.Engine, projection gds.BaseProjection, attempts int) *Builder {
	return &Builder{
		engine:     engine,
		projection: projection,
		retryConfig: retry.Config{
			MaxAttempts:    max(attempts, 1),
			InitialDelay:   time.Second,
			MaxDelay:       15 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Retryable: func(err error) bool {
				return !errors.Is(err, gds.ErrEmptyProjection)
			},
			Logger: logger.GetLogger(),
		},
	}
}

func (b *Builder) GraphName() string {
	return b.projection.GraphName
}

// Ensure makes sure the base graph exists and carries every required node
// property. With rebuild set an existing graph is dropped first.
func (b *Builder) Ensure(ctx context.Context, rebuild bool) (gds.GraphInfo, error) {
	info, err := retry.DoWithResult(ctx, b.retryConfig, func() (gds.GraphInfo, error) {
		return b.ensureOnce(ctx, rebuild)
	})
	if err != nil {
		if ctx.Err() != nil {
			return gds.GraphInfo{}, ctx.Err()
		}
		return gds.GraphInfo{}, fmt.Errorf("%w: %s: %w", ErrBaseGraphMissing, b.projection.GraphName, err)
	}
	return info, nil
}

func (b *Builder) ensureOnce(ctx context.Context, rebuild bool) (gds.GraphInfo, error) {
	name := b.projection.GraphName

	exists, err := b.engine.Exists(ctx, name)
	if err != nil {
		return gds.GraphInfo{}, err
	}

	if exists {
		if !rebuild {
			info, err := b.engine.Info(ctx, name)
			if err != nil {
				return gds.GraphInfo{}, err
			}
			missing := info.HasNodeProperties(b.projection.RequiredNodeProperties()...)
			if len(missing) == 0 {
				logger.Debug("Base graph present", zap.String("graph", name), zap.Int64("nodes", info.NodeCount))
				return info, nil
			}
			logger.Warn("Base graph lacks required properties, rebuilding",
				zap.String("graph", name),
				zap.Strings("missing", missing),
			)
		}
		if err := b.engine.Drop(ctx, name); err != nil {
			return gds.GraphInfo{}, err
		}
	}

	start := time.Now()
	info, err := b.engine.Project(ctx, b.projection)
	if err != nil {
		return gds.GraphInfo{}, err
	}
	if info.NodeCount == 0 {
		_ = b.engine.Drop(ctx, name)
		return gds.GraphInfo{}, fmt.Errorf("%w: %s", gds.ErrEmptyProjection, name)
	}

	logger.Info("Base graph projected",
		zap.String("graph", name),
		zap.Int64("nodes", info.NodeCount),
		zap.Int64("relationships", info.RelationshipCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return info, nil
}

// DropBase removes the base graph. Window runs never call it.
func (b *Builder) DropBase(ctx context.Context) error {
	if err := b.engine.Drop(ctx, b.projection.GraphName); err != nil {
		return fmt.Errorf("failed to drop base graph: %w", err)
	}
	logger.Info("Base graph dropped", zap.String("graph", b.projection.GraphName))
	return nil
}
