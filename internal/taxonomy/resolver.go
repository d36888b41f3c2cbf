package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
)

// Store is the taxonomy surface of the document store.
type Store interface {
	List(ctx context.Context, kind paperless.Kind) ([]paperless.Item, error)
	Create(ctx context.Context, kind paperless.Kind, name string) (paperless.Item, error)
}

// Resolver maps names to store ids, creating missing entries.
//
// Two resolutions of the same new name running at once may both create it;
// processing is sequential so this is accepted rather than locked against.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Snapshot is the taxonomy lists fetched for one reconciliation. Each kind is
// fetched at most once; entries created through it are appended so later
// lookups see them. Not safe for concurrent use.
type Snapshot struct {
	r       *Resolver
	items   map[paperless.Kind][]paperless.Item
	Created []Created
}

// Created records an entry made during resolution.
type Created struct {
	Kind paperless.Kind
	Item paperless.Item
}

// Fetch lists the given kinds concurrently. Any failure fails the whole fetch.
func (r *Resolver) Fetch(ctx context.Context, kinds ...paperless.Kind) (*Snapshot, error) {
	start := time.Now()
	kinds = uniqueKinds(kinds)
	lists := make([][]paperless.Item, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			items, err := r.store.List(gctx, kind)
			if err != nil {
				return fmt.Errorf("list %s: %w", kind, err)
			}
			lists[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Error("taxonomy.fetch.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.NewReconciliationError(common.KindTaxonomyFetchFailed, "fetch taxonomy", err)
	}

	s := &Snapshot{r: r, items: make(map[paperless.Kind][]paperless.Item, len(kinds))}
	for i, kind := range kinds {
		s.items[kind] = lists[i]
	}
	r.logger.Debug("taxonomy.fetch.ok", "kinds", len(kinds), "elapsed_ms", time.Since(start).Milliseconds())
	return s, nil
}

// Resolve fetches kind and resolves a single name.
func (r *Resolver) Resolve(ctx context.Context, kind paperless.Kind, name string) (int, error) {
	s, err := r.Fetch(ctx, kind)
	if err != nil {
		return 0, err
	}
	return s.Resolve(ctx, kind, name)
}

// Names returns the names of kind in store order.
func (s *Snapshot) Names(kind paperless.Kind) []string {
	items := s.items[kind]
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

// Lookup finds name by case-insensitive exact match; the first match wins.
func (s *Snapshot) Lookup(kind paperless.Kind, name string) (paperless.Item, bool) {
	name = strings.TrimSpace(name)
	for _, it := range s.items[kind] {
		if strings.EqualFold(strings.TrimSpace(it.Name), name) {
			return it, true
		}
	}
	return paperless.Item{}, false
}

// Resolve returns the id for name, creating the entry in the store if missing.
func (s *Snapshot) Resolve(ctx context.Context, kind paperless.Kind, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("empty %s name", kind.Singular())
	}
	if _, fetched := s.items[kind]; !fetched {
		return 0, fmt.Errorf("%s were not fetched", kind)
	}
	if it, ok := s.Lookup(kind, name); ok {
		return it.ID, nil
	}
	it, err := s.r.store.Create(ctx, kind, name)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, common.NewReconciliationError(common.KindUpdateRejected, "create "+kind.Singular()+" "+name, err)
	}
	s.items[kind] = append(s.items[kind], it)
	s.Created = append(s.Created, Created{Kind: kind, Item: it})
	s.r.logger.Info("taxonomy.created", "kind", string(kind), "id", it.ID, "name", it.Name)
	return it.ID, nil
}

// ResolveAll resolves names in order, dropping blanks and duplicate ids.
func (s *Snapshot) ResolveAll(ctx context.Context, kind paperless.Kind, names []string) ([]int, error) {
	seen := map[int]bool{}
	out := make([]int, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		id, err := s.Resolve(ctx, kind, n)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func uniqueKinds(kinds []paperless.Kind) []paperless.Kind {
	seen := map[paperless.Kind]bool{}
	out := make([]paperless.Kind, 0, len(kinds))
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
