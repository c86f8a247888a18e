// Package source materializes repositories at exact revisions into isolated
// per-run directories.
package source

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// Request asks for one slot to be materialized
type Request struct {
	Slot       domain.Slot
	Repo       string
	Ref        string
	Submodules bool
	// Dir is the target directory. It must not exist or be empty.
	Dir string
}

func (r Request) String() string {
	return fmt.Sprintf("%s=%s@%s", r.Slot, r.Repo, r.Ref)
}

// Materializer produces a working tree for a request
type Materializer interface {
	Materialize(ctx context.Context, req Request) (domain.MaterializedSource, error)
}

// AcquireAll materializes every request concurrently. Requests write to
// disjoint directories. The first failure cancels the others and is
// returned; no partial result is returned with it.
func AcquireAll(ctx context.Context, m Materializer, reqs []Request, logger *log.Logger) (map[domain.Slot]domain.MaterializedSource, error) {
	if logger == nil {
		logger = log.Discard()
	}

	ctx, span := telemetry.StartStageSpan(ctx, "acquire", attribute.Int("slots", len(reqs)))
	defer span.End()

	seen := make(map[string]domain.Slot, len(reqs))
	for _, r := range reqs {
		if other, dup := seen[r.Dir]; dup {
			return nil, errors.New(errors.ErrCodeAcquireWorkspace,
				fmt.Sprintf("slots %s and %s share directory %s", other, r.Slot, r.Dir))
		}
		seen[r.Dir] = r.Slot
	}

	results := make([]domain.MaterializedSource, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			start := time.Now()
			src, err := m.Materialize(gctx, req)
			if err != nil {
				return err
			}
			logger.Info("materialized source",
				"slot", req.Slot, "repo", req.Repo, "ref", req.Ref,
				"commit", src.Commit, "duration", time.Since(start))
			results[i] = src
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	out := make(map[domain.Slot]domain.MaterializedSource, len(results))
	for _, src := range results {
		out[src.Slot] = src
	}
	telemetry.RecordSuccess(span)
	return out, nil
}
