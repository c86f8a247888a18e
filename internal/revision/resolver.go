package revision

import (
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// Resolver fills a RevisionSet from defaults and directives.
type Resolver struct {
	baseline string
}

// NewResolver creates a Resolver whose trunk and branch-binding defaults are
// the given baseline branch.
func NewResolver(baseline string) *Resolver {
	return &Resolver{baseline: baseline}
}

// Resolve computes the RevisionSet for the binding with the given directive
// prefix. It has no side effects: identical inputs give identical output.
func (r *Resolver) Resolve(rc domain.RunContext, prefix string, d Directives) (domain.RevisionSet, error) {
	pick := func(key, fallback string) string {
		if v, ok := d.Get(key); ok {
			return v
		}
		return fallback
	}

	set := domain.RevisionSet{
		TrunkBindingRef:  pick(TrunkBindingRefKey(prefix), r.baseline),
		TrunkCoreRef:     pick(KeyTrunkCoreRef, r.baseline),
		BranchBindingRef: pick(BindingRefKey(prefix), r.baseline),
		BranchCoreRef:    pick(KeyBranchCoreRef, rc.HeadSHA()),
	}
	if repo, ok := d.Get(BindingRepoKey(prefix)); ok {
		set.BranchBindingRepo = repo
	}

	if err := set.Validate(); err != nil {
		return domain.RevisionSet{}, errors.Wrap(errors.ErrCodeRevisionMissing, "revision set is incomplete", err).
			WithSuggestion("Set core.baseline_branch in the configuration")
	}
	return set, nil
}
