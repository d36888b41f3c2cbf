package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
	"github.com/joseph-ayodele/paperless-ai/internal/taxonomy"
)

// DocumentStore is the store surface the reconciler writes through.
type DocumentStore interface {
	taxonomy.Store
	GetDocument(ctx context.Context, id int) (paperless.Document, error)
	UpdateDocument(ctx context.Context, id int, u paperless.Update) error
}

// Request describes one application of suggested metadata.
type Request struct {
	DocumentID        int
	Metadata          llm.SuggestedMetadata
	Fields            []llm.Field // nil = every field present in Metadata
	ClearExistingTags bool
	ProcessingTagID   *int
	Current           *paperless.Document // fetched when nil and tags change
}

// Outcome is what was (or would be) sent to the store.
type Outcome struct {
	Update  paperless.Update
	Tags    []int // final tag set when tags change
	Created []taxonomy.Created
	Skipped []llm.Field
	Applied bool
}

type Reconciler struct {
	store    DocumentStore
	resolver *taxonomy.Resolver
	logger   *slog.Logger
}

func NewReconciler(store DocumentStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, resolver: taxonomy.NewResolver(store, logger), logger: logger}
}

// Apply resolves names, merges tags and issues a single partial update.
// Fields not selected are never sent, so they stay untouched remotely.
func (r *Reconciler) Apply(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)

	out, err := r.Plan(ctx, req)
	if err != nil {
		return out, err
	}
	if out.Update.IsEmpty() {
		r.logger.Info("reconcile.update.skipped", "req_id", reqID, "document_id", req.DocumentID, "reason", "nothing to change")
		return out, nil
	}
	if err := r.store.UpdateDocument(ctx, req.DocumentID, out.Update); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		r.logger.Error("reconcile.update.failed", "req_id", reqID, "document_id", req.DocumentID, "error", err)
		return out, common.NewReconciliationError(common.KindUpdateRejected, fmt.Sprintf("update document %d", req.DocumentID), err)
	}
	out.Applied = true
	r.logger.Info("reconcile.update.ok",
		"req_id", reqID,
		"document_id", req.DocumentID,
		"fields", len(out.Update.Fields()),
		"tags", len(out.Tags),
		"created", len(out.Created),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Plan builds the update without sending it. Missing taxonomy entries are
// still created, since their ids are part of the update.
func (r *Reconciler) Plan(ctx context.Context, req Request) (Outcome, error) {
	var out Outcome
	md := req.Metadata
	fields := md.Present()
	if req.Fields != nil {
		fields = md.Select(req.Fields...).Present()
	}
	selected := map[llm.Field]bool{}
	for _, f := range fields {
		selected[f] = true
	}

	u := paperless.Update{}
	if selected[llm.FieldTitle] {
		if t := strings.TrimSpace(*md.Title); t != "" {
			u.Title = &t
		} else {
			out.Skipped = append(out.Skipped, llm.FieldTitle)
		}
	}
	if selected[llm.FieldDocumentDate] {
		created := md.DocumentDate.Time
		u.Created = &created
	}
	if selected[llm.FieldKeywords] {
		// the store has no keywords field
		out.Skipped = append(out.Skipped, llm.FieldKeywords)
	}

	names := map[paperless.Kind]string{}
	for _, fk := range []struct {
		f    llm.Field
		kind paperless.Kind
	}{
		{llm.FieldCorrespondent, paperless.KindCorrespondent},
		{llm.FieldDocumentType, paperless.KindDocumentType},
		{llm.FieldStoragePath, paperless.KindStoragePath},
	} {
		f, kind := fk.f, fk.kind
		if !selected[f] {
			continue
		}
		if n := strings.TrimSpace(stringField(md, f)); n != "" {
			names[kind] = n
		} else {
			out.Skipped = append(out.Skipped, f)
		}
	}
	suggestTags := selected[llm.FieldTags]
	tagsChange := suggestTags || req.ProcessingTagID != nil

	kinds := make([]paperless.Kind, 0, len(paperless.Kinds))
	for _, k := range paperless.Kinds {
		if _, ok := names[k]; ok || (k == paperless.KindTag && suggestTags && len(md.SuggestedTags) > 0) {
			kinds = append(kinds, k)
		}
	}

	var existing []int
	if tagsChange && !(suggestTags && req.ClearExistingTags) {
		cur, err := r.current(ctx, req)
		if err != nil {
			return out, err
		}
		existing = cur.Tags
	}

	var snap *taxonomy.Snapshot
	if len(kinds) > 0 {
		var err error
		if snap, err = r.resolver.Fetch(ctx, kinds...); err != nil {
			return out, err
		}
	}
	resolve := func(kind paperless.Kind) (*int, error) {
		n, ok := names[kind]
		if !ok {
			return nil, nil
		}
		id, err := snap.Resolve(ctx, kind, n)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	var err error
	if u.Correspondent, err = resolve(paperless.KindCorrespondent); err != nil {
		return r.fail(out, snap, err)
	}
	if u.DocumentType, err = resolve(paperless.KindDocumentType); err != nil {
		return r.fail(out, snap, err)
	}
	if u.StoragePath, err = resolve(paperless.KindStoragePath); err != nil {
		return r.fail(out, snap, err)
	}

	if tagsChange {
		var suggested []int
		if suggestTags && len(md.SuggestedTags) > 0 {
			if suggested, err = snap.ResolveAll(ctx, paperless.KindTag, md.SuggestedTags); err != nil {
				return r.fail(out, snap, err)
			}
		}
		base := existing
		if suggestTags && req.ClearExistingTags {
			base = nil
		}
		u.Tags = MergeTags(base, suggested, req.ProcessingTagID)
		out.Tags = u.Tags
	}

	if snap != nil {
		out.Created = snap.Created
	}
	out.Update = u
	return out, nil
}

func (r *Reconciler) fail(out Outcome, snap *taxonomy.Snapshot, err error) (Outcome, error) {
	if snap != nil {
		out.Created = snap.Created
	}
	return out, err
}

func (r *Reconciler) current(ctx context.Context, req Request) (paperless.Document, error) {
	if req.Current != nil {
		return *req.Current, nil
	}
	doc, err := r.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if ctx.Err() != nil {
			return paperless.Document{}, ctx.Err()
		}
		return paperless.Document{}, common.NewReconciliationError(common.KindTaxonomyFetchFailed,
			fmt.Sprintf("fetch document %d", req.DocumentID), err)
	}
	return doc, nil
}

// MergeTags returns base followed by add and the processing tag, without duplicate ids.
func MergeTags(base, add []int, processing *int) []int {
	out := make([]int, 0, len(base)+len(add)+1)
	seen := map[int]bool{}
	push := func(id int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range base {
		push(id)
	}
	for _, id := range add {
		push(id)
	}
	if processing != nil {
		push(*processing)
	}
	return out
}

func stringField(md llm.SuggestedMetadata, f llm.Field) string {
	var p *string
	switch f {
	case llm.FieldCorrespondent:
		p = md.Correspondent
	case llm.FieldDocumentType:
		p = md.DocumentType
	case llm.FieldStoragePath:
		p = md.StoragePath
	}
	if p == nil {
		return ""
	}
	return *p
}
