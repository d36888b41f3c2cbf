package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Progress
}

func (r *recordingNotifier) Publish(_ context.Context, p Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
	return nil
}

func drain(ch chan Progress) []Progress {
	var out []Progress
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestBulkCancellationMidFlight(t *testing.T) {
	store := newFakeStore(1, 2, 3, 4, 5)
	h := &memHistory{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	s := suggestFunc(func(ctx context.Context, in llm.Invocation) (llm.Result, error) {
		calls++
		if calls == 3 {
			// the caller aborts while document 3's model call is in flight
			cancel()
			<-ctx.Done()
			return llm.Result{}, ctx.Err()
		}
		return acmeSuggestion(ctx, in)
	})

	progress := make(chan Progress, 10)
	tally, err := newTestProcessor(store, s, h).BulkProcess(ctx, BulkRequest{DocumentIDs: []int{1, 2, 3, 4, 5}}, progress)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if tally.Processed != 2 || tally.Succeeded != 2 || tally.Failed != 0 || !tally.Cancelled || tally.Total != 5 {
		t.Fatalf("unexpected tally %+v", tally)
	}

	third := h.forDocument(3)
	if len(third) != 1 || third[0].Status == constants.HistoryStatusFailed {
		t.Fatalf("document 3 must not be recorded as failed: %+v", third)
	}
	if third[0].ErrorMessage == nil || *third[0].ErrorMessage != "cancelled" {
		t.Fatalf("document 3 should carry the cancellation note: %+v", third[0])
	}
	if len(h.forDocument(4)) != 0 || len(h.forDocument(5)) != 0 {
		t.Fatalf("no document may start after cancellation")
	}

	var statuses []string
	for _, p := range drain(progress) {
		statuses = append(statuses, p.Status)
	}
	if diff := cmp.Diff([]string{ProgressCompleted, ProgressCompleted, ProgressCancelled}, statuses); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkContinuesAfterFailure(t *testing.T) {
	store := newFakeStore(1, 3)
	notifier := &recordingNotifier{}
	p := NewProcessor(testSettings(), Deps{
		Store:     store,
		Selector:  newTestProcessor(store, nil, nil).selector,
		Suggester: suggestFunc(acmeSuggestion),
		History:   &memHistory{},
		Notifiers: []Notifier{notifier},
	}, nil)

	progress := make(chan Progress, 10)
	tally, err := p.BulkProcess(context.Background(), BulkRequest{DocumentIDs: []int{1, 2, 3, 1}}, progress)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	want := Tally{RunID: tally.RunID, Total: 3, Processed: 3, Succeeded: 2, Failed: 1}
	if diff := cmp.Diff(want, tally); diff != "" {
		t.Fatalf("tally mismatch (-want +got):\n%s", diff)
	}

	events := drain(progress)
	if len(events) != 3 || len(notifier.events) != 3 {
		t.Fatalf("expected 3 events on each sink, got %d and %d", len(events), len(notifier.events))
	}
	failed := events[1]
	if failed.DocumentID != 2 || failed.Status != ProgressFailed || failed.Category != common.CategoryExtraction || failed.Failed != 1 {
		t.Fatalf("unexpected failure event %+v", failed)
	}
	last := events[2]
	if last.Processed != 3 || last.Succeeded != 2 || last.Index != 3 || last.RunID != tally.RunID {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestBulkByTagSkipsAppliedAndAddsDefaultTag(t *testing.T) {
	store := newFakeStore(1, 2)
	store.byTag[9] = []int{1, 2}
	h := &memHistory{}

	cfg := testSettings()
	defaultTag := 9
	cfg.DefaultTagID = &defaultTag
	p := NewProcessor(cfg, Deps{
		Store:     store,
		Selector:  newTestProcessor(store, nil, nil).selector,
		Suggester: suggestFunc(acmeSuggestion),
		History:   h,
	}, nil)

	req := BulkRequest{
		TagID:       &defaultTag,
		AutoApply:   true,
		SkipApplied: true,
		ApplyOptions: ApplyOptions{
			Fields: []llm.Field{llm.FieldTitle},
		},
	}
	first, err := p.BulkProcess(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Succeeded != 2 || first.Skipped != 0 {
		t.Fatalf("unexpected first tally %+v", first)
	}
	if diff := cmp.Diff([]int{1, 9}, store.docs[1].Tags); diff != "" {
		t.Fatalf("processing tag not added (-want +got):\n%s", diff)
	}

	second, err := p.BulkProcess(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Skipped != 2 || second.Processed != 0 {
		t.Fatalf("applied documents must be skipped, got %+v", second)
	}
	if len(h.forDocument(1)) != 1 {
		t.Fatalf("skipped documents must not create history")
	}
}

func TestBulkSkipCompletedAvoidsRepeatModelCalls(t *testing.T) {
	store := newFakeStore(1)
	tag := 5
	store.byTag[tag] = []int{1}
	h := &memHistory{}

	calls := 0
	s := suggestFunc(func(ctx context.Context, in llm.Invocation) (llm.Result, error) {
		calls++
		return acmeSuggestion(ctx, in)
	})
	p := newTestProcessor(store, s, h)
	req := BulkRequest{TagID: &tag, SkipApplied: true, SkipCompleted: true}

	first, err := p.BulkProcess(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Succeeded != 1 {
		t.Fatalf("unexpected first tally %+v", first)
	}
	second, err := p.BulkProcess(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Skipped != 1 || second.Processed != 0 {
		t.Fatalf("completed document must be skipped, got %+v", second)
	}
	if calls != 1 || len(h.forDocument(1)) != 1 {
		t.Fatalf("expected one model call and one history row, got %d and %d", calls, len(h.forDocument(1)))
	}

	// without the flag an unapplied suggestion is attempted again
	req.SkipCompleted = false
	if _, err := p.BulkProcess(context.Background(), req, nil); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a second model call, got %d", calls)
	}
}

func TestBulkRequiresDocuments(t *testing.T) {
	_, err := newTestProcessor(newFakeStore(), suggestFunc(acmeSuggestion), &memHistory{}).
		BulkProcess(context.Background(), BulkRequest{}, nil)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
