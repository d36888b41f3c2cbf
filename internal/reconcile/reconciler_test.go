package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
)

type fakeStore struct {
	mu        sync.Mutex
	items     map[paperless.Kind][]paperless.Item
	docs      map[int]*paperless.Document
	nextID    int
	lists     int
	updates   []paperless.Update
	listErr   error
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: map[paperless.Kind][]paperless.Item{
			paperless.KindTag:           {{ID: 1, Name: "finance"}, {ID: 2, Name: "bills"}},
			paperless.KindCorrespondent: {{ID: 10, Name: "Globex"}},
		},
		docs: map[int]*paperless.Document{
			42: {ID: 42, Title: "scan", Content: "Invoice from Acme Corp dated 2024-03-01", Tags: []int{1}},
		},
		nextID: 100,
	}
}

func (f *fakeStore) List(_ context.Context, kind paperless.Kind) ([]paperless.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]paperless.Item(nil), f.items[kind]...), nil
}

func (f *fakeStore) Create(_ context.Context, kind paperless.Kind, name string) (paperless.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return paperless.Item{}, f.createErr
	}
	f.nextID++
	it := paperless.Item{ID: f.nextID, Name: name}
	f.items[kind] = append(f.items[kind], it)
	return it, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id int) (paperless.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return paperless.Document{}, &paperless.APIError{Method: "GET", StatusCode: 404, Body: "Not found."}
	}
	return *d, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, id int, u paperless.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	d := f.docs[id]
	if u.Tags != nil {
		d.Tags = append([]int(nil), u.Tags...)
	}
	if u.Title != nil {
		d.Title = *u.Title
	}
	if u.Correspondent != nil {
		d.Correspondent = u.Correspondent
	}
	return nil
}

func (f *fakeStore) tagNames(ids []int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, id := range ids {
		for _, it := range f.items[paperless.KindTag] {
			if it.ID == id {
				out = append(out, it.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestTagMergeProperty(t *testing.T) {
	cases := []struct {
		name       string
		clear      bool
		processing *int
		want       []string
	}{
		{"union", false, nil, []string{"A", "B", "C"}},
		{"replace", true, nil, []string{"B", "C"}},
		{"replace with processing tag", true, intp(1), []string{"B", "C", "finance"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			store.items[paperless.KindTag] = append(store.items[paperless.KindTag],
				paperless.Item{ID: 20, Name: "A"}, paperless.Item{ID: 21, Name: "B"})
			store.docs[42].Tags = []int{20, 21}

			out, err := NewReconciler(store, nil).Apply(context.Background(), Request{
				DocumentID:        42,
				Metadata:          llm.SuggestedMetadata{SuggestedTags: []string{"b", "C"}},
				ClearExistingTags: tc.clear,
				ProcessingTagID:   tc.processing,
			})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if diff := cmp.Diff(tc.want, store.tagNames(out.Tags)); diff != "" {
				t.Fatalf("tags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyWithClearIsIdempotent(t *testing.T) {
	store := newFakeStore()
	rec := NewReconciler(store, nil)
	req := Request{
		DocumentID:        42,
		Metadata:          llm.SuggestedMetadata{SuggestedTags: []string{"invoice", "2024"}},
		ClearExistingTags: true,
	}
	first, err := rec.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := rec.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if diff := cmp.Diff(first.Tags, second.Tags); diff != "" {
		t.Fatalf("second application changed tags (-first +second):\n%s", diff)
	}
	if len(second.Created) != 0 {
		t.Fatalf("second application should not create tags, got %+v", second.Created)
	}
}

func TestApplyEndToEndAcme(t *testing.T) {
	store := newFakeStore()
	res, err := llm.DecodeSuggestion(`{"title":"Invoice - Acme Corp","document_date":"2024-03-01","correspondent":"Acme Corp","suggested_tags":["invoice","2024"]}`, true, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	out, err := NewReconciler(store, nil).Apply(context.Background(), Request{DocumentID: 42, Metadata: res.Metadata})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff([]string{"2024", "finance", "invoice"}, store.tagNames(out.Tags)); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	doc := store.docs[42]
	if doc.Title != "Invoice - Acme Corp" || doc.Correspondent == nil {
		t.Fatalf("unexpected document after update %+v", doc)
	}
	var acme bool
	for _, c := range out.Created {
		if c.Kind == paperless.KindCorrespondent && c.Item.Name == "Acme Corp" && c.Item.ID == *doc.Correspondent {
			acme = true
		}
	}
	if !acme {
		t.Fatalf("expected Acme Corp to be created, got %+v", out.Created)
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected one PATCH, got %d", len(store.updates))
	}
	created := store.updates[0].Created
	if created == nil || !created.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created date %v", created)
	}
}

func TestApplySendsOnlySelectedFields(t *testing.T) {
	store := newFakeStore()
	md := llm.SuggestedMetadata{
		Title:         strp("Water bill"),
		Correspondent: strp("City Water"),
		SuggestedTags: []string{"utilities"},
	}
	_, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID: 42,
		Metadata:   md,
		Fields:     []llm.Field{llm.FieldTitle},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"title": "Water bill"}, store.updates[0].Fields()); diff != "" {
		t.Fatalf("patch mismatch (-want +got):\n%s", diff)
	}
	if store.lists != 0 {
		t.Fatalf("no taxonomy should be listed, got %d list calls", store.lists)
	}
}

func TestApplySkipsKeywordsAndBlankNames(t *testing.T) {
	store := newFakeStore()
	out, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID: 42,
		Metadata:   llm.SuggestedMetadata{Keywords: strp("a, b"), Correspondent: strp("  ")},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Applied || len(store.updates) != 0 {
		t.Fatalf("nothing should be sent, got %+v", store.updates)
	}
	if diff := cmp.Diff([]llm.Field{llm.FieldKeywords, llm.FieldCorrespondent}, out.Skipped); diff != "" {
		t.Fatalf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessingTagKeepsExistingWhenTagsNotSelected(t *testing.T) {
	store := newFakeStore()
	out, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID:        42,
		Metadata:          llm.SuggestedMetadata{Title: strp("x"), SuggestedTags: []string{"new"}},
		Fields:            []llm.Field{llm.FieldTitle},
		ClearExistingTags: true,
		ProcessingTagID:   intp(2),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, out.Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestTaxonomyFailureIssuesNoUpdate(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("dial tcp: connection refused")
	_, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID: 42,
		Metadata:   llm.SuggestedMetadata{Title: strp("x"), Correspondent: strp("Acme Corp")},
	})
	var re *common.ReconciliationError
	if !errors.As(err, &re) || re.Kind != common.KindTaxonomyFetchFailed {
		t.Fatalf("expected taxonomy_fetch_failed, got %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("no partial update may be sent, got %+v", store.updates)
	}
}

func TestUpdateFailureSurfacesStoreError(t *testing.T) {
	store := newFakeStore()
	store.updateErr = &paperless.APIError{Method: "PATCH", Endpoint: "/api/documents/42/", StatusCode: 400, Body: `{"title":["Ensure this field has no more than 128 characters."]}`}
	_, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID: 42,
		Metadata:   llm.SuggestedMetadata{Title: strp("x")},
	})
	var re *common.ReconciliationError
	if !errors.As(err, &re) || re.Kind != common.KindUpdateRejected {
		t.Fatalf("expected update_rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "Ensure this field has no more than 128 characters.") {
		t.Fatalf("store error should be carried verbatim, got %v", err)
	}
}

func TestMergeTags(t *testing.T) {
	got := MergeTags([]int{3, 1, 3}, []int{1, 4}, intp(4))
	if diff := cmp.Diff([]int{3, 1, 4}, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateFailureIssuesNoUpdate(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("store unreachable")

	_, err := NewReconciler(store, nil).Apply(context.Background(), Request{
		DocumentID: 42,
		Metadata:   llm.SuggestedMetadata{Title: strp("Invoice"), Correspondent: strp("Acme Corp")},
	})
	var re *common.ReconciliationError
	if !errors.As(err, &re) || re.Kind != common.KindUpdateRejected {
		t.Fatalf("expected update_rejected, got %v", err)
	}
	if len(store.updates) != 0 {
		t.Fatalf("no update may be sent after a creation failure, got %+v", store.updates)
	}
	if store.docs[42].Title != "scan" {
		t.Fatalf("document changed: %+v", store.docs[42])
	}
}
