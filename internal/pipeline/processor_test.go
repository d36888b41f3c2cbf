package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/extract"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[int]*paperless.Document
	items   map[paperless.Kind][]paperless.Item
	nextID  int
	updates map[int][]paperless.Update
	byTag   map[int][]int
}

func newFakeStore(ids ...int) *fakeStore {
	s := &fakeStore{
		docs: map[int]*paperless.Document{},
		items: map[paperless.Kind][]paperless.Item{
			paperless.KindTag:           {{ID: 1, Name: "finance"}},
			paperless.KindCorrespondent: {{ID: 10, Name: "Globex"}},
		},
		nextID:  100,
		updates: map[int][]paperless.Update{},
		byTag:   map[int][]int{},
	}
	for _, id := range ids {
		s.docs[id] = &paperless.Document{ID: id, Title: "scan", Content: "Invoice from Acme Corp dated 2024-03-01", Tags: []int{1}}
	}
	return s
}

func (s *fakeStore) GetDocument(ctx context.Context, id int) (paperless.Document, error) {
	if err := ctx.Err(); err != nil {
		return paperless.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return paperless.Document{}, &paperless.APIError{Method: "GET", Endpoint: "/api/documents/", StatusCode: 404, Body: `{"detail":"Not found."}`}
	}
	return *d, nil
}

func (s *fakeStore) DownloadDocument(context.Context, int) ([]byte, string, error) {
	return nil, "", errors.New("no original")
}

func (s *fakeStore) ListDocuments(_ context.Context, f paperless.DocumentFilter) ([]paperless.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []paperless.Document
	for _, id := range s.byTag[f.TagIDs[0]] {
		out = append(out, *s.docs[id])
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context, kind paperless.Kind) ([]paperless.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paperless.Item(nil), s.items[kind]...), nil
}

func (s *fakeStore) Create(_ context.Context, kind paperless.Kind, name string) (paperless.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	it := paperless.Item{ID: s.nextID, Name: name}
	s.items[kind] = append(s.items[kind], it)
	return it, nil
}

func (s *fakeStore) UpdateDocument(_ context.Context, id int, u paperless.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = append(s.updates[id], u)
	if u.Tags != nil {
		s.docs[id].Tags = append([]int(nil), u.Tags...)
	}
	return nil
}

type suggestFunc func(ctx context.Context, in llm.Invocation) (llm.Result, error)

func (f suggestFunc) Suggest(ctx context.Context, in llm.Invocation) (llm.Result, error) {
	return f(ctx, in)
}

func acmeSuggestion(context.Context, llm.Invocation) (llm.Result, error) {
	dec, err := llm.DecodeSuggestion(`{"title":"Invoice - Acme Corp","correspondent":"Acme Corp","suggested_tags":["invoice"]}`, true, nil)
	if err != nil {
		return llm.Result{}, err
	}
	return llm.Result{Metadata: dec.Metadata, JSON: dec.JSON, TokenUsage: 321, Model: "gpt-4o"}, nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []*entity.ProcessingHistoryEntry
}

func (h *memHistory) Start(_ context.Context, documentID int, title string, tagID *int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &entity.ProcessingHistoryEntry{
		ID: int64(len(h.entries) + 1), DocumentID: documentID, DocumentTitle: title, TagID: tagID,
		Status: constants.HistoryStatusPending, CreatedAt: time.Now(),
	}
	h.entries = append(h.entries, e)
	return e.ID, nil
}

func (h *memHistory) update(id int64, from constants.HistoryStatus, fn func(e *entity.ProcessingHistoryEntry)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entries[id-1]
	if e.Status != from {
		return repository.ErrInvalidTransition
	}
	fn(e)
	return nil
}

func (h *memHistory) MarkProcessing(_ context.Context, id int64) error {
	return h.update(id, constants.HistoryStatusPending, func(e *entity.ProcessingHistoryEntry) {
		e.Status = constants.HistoryStatusProcessing
	})
}

func (h *memHistory) Complete(_ context.Context, id int64, p repository.CompleteParams) error {
	return h.update(id, constants.HistoryStatusProcessing, func(e *entity.ProcessingHistoryEntry) {
		e.Status = constants.HistoryStatusCompleted
		e.TextSource = p.TextSource
		e.ModelResponse = p.ModelResponse
		e.TokenUsage = p.TokenUsage
	})
}

func (h *memHistory) Fail(_ context.Context, id int64, message string) error {
	return h.update(id, constants.HistoryStatusProcessing, func(e *entity.ProcessingHistoryEntry) {
		e.Status = constants.HistoryStatusFailed
		e.ErrorMessage = &message
	})
}

func (h *memHistory) MarkCancelled(_ context.Context, id int64) error {
	return h.update(id, constants.HistoryStatusProcessing, func(e *entity.ProcessingHistoryEntry) {
		msg := "cancelled"
		e.ErrorMessage = &msg
	})
}

func (h *memHistory) MarkApplied(_ context.Context, id int64) error {
	return h.update(id, constants.HistoryStatusCompleted, func(e *entity.ProcessingHistoryEntry) {
		e.MetadataApplied = true
	})
}

func (h *memHistory) Latest(_ context.Context, documentID int) (*entity.ProcessingHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].DocumentID == documentID {
			e := *h.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (h *memHistory) forDocument(id int) []*entity.ProcessingHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*entity.ProcessingHistoryEntry
	for _, e := range h.entries {
		if e.DocumentID == id {
			out = append(out, e)
		}
	}
	return out
}

type memPrompts struct {
	active *entity.PromptTemplate
}

func (m memPrompts) Active(context.Context) (*entity.PromptTemplate, error) { return m.active, nil }

func (m memPrompts) GetByName(_ context.Context, name string) (*entity.PromptTemplate, error) {
	if m.active != nil && m.active.Name == name {
		return m.active, nil
	}
	return nil, common.NewAppError("NOT_FOUND", name, common.ErrNotFound)
}

func testSettings() settings.Settings {
	return settings.Settings{
		PaperlessURL:      "http://paperless",
		PaperlessToken:    "t",
		OpenAIAPIKey:      "k",
		MaxTextLength:     10000,
		DisplayTextLength: 10,
		UseJSONMode:       true,
	}
}

func newTestProcessor(store *fakeStore, s Suggester, h *memHistory) *Processor {
	return NewProcessor(testSettings(), Deps{
		Store:     store,
		Selector:  extract.NewSelector(extract.Config{MaxTextLength: 10000}, store, nil, nil),
		Suggester: s,
		History:   h,
	}, nil)
}

func TestProcessRecordsCompletedAttempt(t *testing.T) {
	store := newFakeStore(42)
	h := &memHistory{}
	res, err := newTestProcessor(store, suggestFunc(acmeSuggestion), h).Process(context.Background(), ProcessRequest{
		DocumentID: 42,
		Mode:       constants.ModePaperlessOCR,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Extraction.Source != constants.SourcePaperlessOCR || res.Extraction.Preview != "Invoice fr" {
		t.Fatalf("unexpected extraction %+v", res.Extraction)
	}
	if res.Metadata.Title == nil || *res.Metadata.Title != "Invoice - Acme Corp" || res.TokenUsage != 321 {
		t.Fatalf("unexpected result %+v", res)
	}
	entries := h.forDocument(42)
	if len(entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != constants.HistoryStatusCompleted || e.MetadataApplied || e.TokenUsage != 321 || e.TextSource != "paperless_ocr" {
		t.Fatalf("unexpected history entry %+v", e)
	}
	if !strings.Contains(string(e.ModelResponse), "Acme Corp") {
		t.Fatalf("model response not stored: %s", e.ModelResponse)
	}
	if len(store.updates[42]) != 0 {
		t.Fatalf("nothing may be written without confirmation, got %+v", store.updates[42])
	}
}

func TestProcessAutoApplyWritesAndMarksApplied(t *testing.T) {
	store := newFakeStore(42)
	h := &memHistory{}
	res, err := newTestProcessor(store, suggestFunc(acmeSuggestion), h).Process(context.Background(), ProcessRequest{
		DocumentID: 42,
		AutoApply:  true,
		ApplyOptions: ApplyOptions{
			Fields: []llm.Field{llm.FieldTitle, llm.FieldTags},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Applied == nil || !res.Applied.Applied {
		t.Fatalf("expected an applied outcome, got %+v", res.Applied)
	}
	if len(store.updates[42]) != 1 {
		t.Fatalf("expected one update, got %d", len(store.updates[42]))
	}
	got := store.updates[42][0].Fields()
	if _, ok := got["correspondent"]; ok {
		t.Fatalf("unselected correspondent was sent: %v", got)
	}
	if diff := cmp.Diff([]int{1, 101}, store.docs[42].Tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	if e := h.forDocument(42)[0]; !e.MetadataApplied || e.Status != constants.HistoryStatusCompleted {
		t.Fatalf("history not marked applied: %+v", e)
	}
}

func TestProcessFailureFinalizesHistoryWithCategory(t *testing.T) {
	store := newFakeStore(42)
	h := &memHistory{}
	timeout := suggestFunc(func(context.Context, llm.Invocation) (llm.Result, error) {
		return llm.Result{}, common.NewModelError(common.KindTimeout, 0, "chat completion", context.DeadlineExceeded)
	})
	_, err := newTestProcessor(store, timeout, h).Process(context.Background(), ProcessRequest{DocumentID: 42})
	if common.Category(err) != common.CategoryModel {
		t.Fatalf("expected a model error, got %v", err)
	}
	e := h.forDocument(42)[0]
	if e.Status != constants.HistoryStatusFailed || e.ErrorMessage == nil || !strings.HasPrefix(*e.ErrorMessage, "model error (timeout)") {
		t.Fatalf("unexpected history entry %+v", e)
	}
}

func TestProcessMissingDocumentIsDownloadFailure(t *testing.T) {
	h := &memHistory{}
	_, err := newTestProcessor(newFakeStore(), suggestFunc(acmeSuggestion), h).Process(context.Background(), ProcessRequest{DocumentID: 7})
	var ee *common.ExtractionError
	if !errors.As(err, &ee) || ee.Kind != common.KindDownloadFailed {
		t.Fatalf("expected download_failed, got %v", err)
	}
	if e := h.forDocument(7); len(e) != 1 || e[0].Status != constants.HistoryStatusFailed {
		t.Fatalf("failed attempt must be recorded, got %+v", e)
	}
}

func TestProcessRejectsInvalidID(t *testing.T) {
	h := &memHistory{}
	_, err := newTestProcessor(newFakeStore(), suggestFunc(acmeSuggestion), h).Process(context.Background(), ProcessRequest{DocumentID: 0})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.entries) != 0 {
		t.Fatalf("invalid requests must not create history")
	}
}

func TestProcessPromptUsesActiveConfigurationAndTaxonomy(t *testing.T) {
	store := newFakeStore(42)
	var prompt llm.Prompt
	var jsonMode bool
	capture := suggestFunc(func(ctx context.Context, in llm.Invocation) (llm.Result, error) {
		prompt, jsonMode = in.Prompt, in.JSONMode
		return acmeSuggestion(ctx, in)
	})
	cfg := testSettings()
	cfg.UseJSONMode = false
	cfg.PromptSystem = "You file documents for {filename}."
	p := NewProcessor(cfg, Deps{
		Store:     store,
		Selector:  extract.NewSelector(extract.Config{MaxTextLength: 10000}, store, nil, nil),
		Suggester: capture,
		History:   &memHistory{},
		Prompts:   memPrompts{active: &entity.PromptTemplate{Name: "german", FreeInstructions: "Antworte auf Deutsch.", JSONMode: true}},
	}, nil)
	p.now = func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) }

	if _, err := p.Process(context.Background(), ProcessRequest{DocumentID: 42}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !jsonMode {
		t.Fatalf("the configuration's json_mode must force JSON")
	}
	for _, want := range []string{"Globex", "finance", "Antworte auf Deutsch.", "Invoice from Acme Corp"} {
		if !strings.Contains(prompt.User, want) {
			t.Fatalf("user prompt lacks %q:\n%s", want, prompt.User)
		}
	}
	if !strings.HasPrefix(prompt.System, "You file documents for document-42.pdf.") {
		t.Fatalf("unexpected system prompt %q", prompt.System)
	}
}

func TestApplyMarksLatestCompletedAttempt(t *testing.T) {
	store := newFakeStore(42)
	h := &memHistory{}
	p := newTestProcessor(store, suggestFunc(acmeSuggestion), h)
	res, err := p.Process(context.Background(), ProcessRequest{DocumentID: 42})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	out, err := p.Apply(context.Background(), ApplyRequest{
		DocumentID: 42,
		Metadata:   res.Metadata.Select(llm.FieldTitle),
		ApplyOptions: ApplyOptions{
			ClearExistingTags: true,
		},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.Applied || out.Tags != nil {
		t.Fatalf("title-only apply must leave tags untouched, got %+v", out)
	}
	if !h.forDocument(42)[0].MetadataApplied {
		t.Fatalf("history entry not marked applied")
	}
}
