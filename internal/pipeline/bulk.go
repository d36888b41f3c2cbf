package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
)

// BulkProcess processes documents one at a time. A failed document is
// counted and the run continues. Cancelling ctx stops the run before the
// next document and aborts the current one, which is then not counted.
//
// One Progress is sent to progress (when non-nil) and to every notifier per
// document. The channel is not closed.
func (p *Processor) BulkProcess(ctx context.Context, req BulkRequest, progress chan<- Progress) (Tally, error) {
	runID := uuid.New().String()
	ctx = common.WithRunID(ctx, runID)
	tally := Tally{RunID: runID}
	start := time.Now()

	ids, err := p.bulkDocuments(ctx, req)
	if err != nil {
		return tally, err
	}
	tally.Total = len(ids)
	if req.ProcessingTagID == nil {
		req.ProcessingTagID = p.cfg.DefaultTagID
	}
	p.logger.Info("pipeline.bulk.start", "run_id", runID, "documents", len(ids), "auto_apply", req.AutoApply)

	for i, id := range ids {
		if ctx.Err() != nil {
			tally.Cancelled = true
			break
		}
		ev := Progress{RunID: runID, DocumentID: id, Index: i + 1, Total: len(ids)}

		if p.skip(ctx, id, req) {
			tally.Skipped++
			ev.Status = ProgressSkipped
			p.emit(ctx, progress, tally, ev)
			continue
		}

		dctx := common.WithRequestID(ctx, uuid.New().String())
		_, err := p.Process(dctx, ProcessRequest{
			DocumentID:   id,
			Mode:         req.Mode,
			TagID:        req.TagID,
			AutoApply:    req.AutoApply,
			ApplyOptions: req.ApplyOptions,
		})
		switch {
		case err != nil && isCancelled(ctx, err):
			tally.Cancelled = true
			ev.Status = ProgressCancelled
		case err != nil:
			tally.Processed++
			tally.Failed++
			ev.Status = ProgressFailed
			ev.Category = common.Category(err)
			ev.Error = err.Error()
		default:
			tally.Processed++
			tally.Succeeded++
			ev.Status = ProgressCompleted
		}
		p.emit(ctx, progress, tally, ev)
		if tally.Cancelled {
			break
		}
	}

	p.logger.Info("pipeline.bulk.done",
		"run_id", runID,
		"total", tally.Total,
		"processed", tally.Processed,
		"succeeded", tally.Succeeded,
		"failed", tally.Failed,
		"skipped", tally.Skipped,
		"cancelled", tally.Cancelled,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if tally.Cancelled {
		return tally, context.Cause(ctx)
	}
	return tally, nil
}

func (p *Processor) bulkDocuments(ctx context.Context, req BulkRequest) ([]int, error) {
	if len(req.DocumentIDs) > 0 {
		v := common.NewValidator()
		for _, id := range req.DocumentIDs {
			v.Field("document_ids", id, common.PositiveID)
		}
		if err := v.Error(); err != nil {
			return nil, err
		}
		return dedupe(req.DocumentIDs), nil
	}
	if req.TagID == nil {
		return nil, common.NewAppError("INVALID_INPUT", "document ids or a tag id are required", common.ErrInvalidInput)
	}
	docs, err := p.store.ListDocuments(ctx, paperless.DocumentFilter{TagIDs: []int{*req.TagID}})
	if err != nil {
		return nil, common.WrapError(err, "list documents by tag")
	}
	ids := make([]int, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// skip reports whether the latest attempt for id makes another one
// redundant under the request's skip policy.
func (p *Processor) skip(ctx context.Context, id int, req BulkRequest) bool {
	if !req.SkipApplied && !req.SkipCompleted {
		return false
	}
	latest, err := p.history.Latest(ctx, id)
	if err != nil {
		p.logger.Warn("pipeline.bulk.history_lookup_failed", "document_id", id, "error", err)
		return false
	}
	if latest == nil || latest.Status != constants.HistoryStatusCompleted {
		return false
	}
	return req.SkipCompleted || latest.MetadataApplied
}

func (p *Processor) emit(ctx context.Context, progress chan<- Progress, t Tally, ev Progress) {
	ev.Processed, ev.Succeeded, ev.Failed, ev.Skipped = t.Processed, t.Succeeded, t.Failed, t.Skipped
	p.logger.Info("pipeline.bulk.progress",
		"run_id", ev.RunID,
		"document_id", ev.DocumentID,
		"index", ev.Index,
		"status", ev.Status,
		"processed", ev.Processed,
		"succeeded", ev.Succeeded,
		"failed", ev.Failed,
	)
	nctx := context.WithoutCancel(ctx)
	for _, n := range p.notifiers {
		if err := n.Publish(nctx, ev); err != nil {
			p.logger.Warn("pipeline.bulk.notify_failed", "run_id", ev.RunID, "error", err)
		}
	}
	if progress == nil {
		return
	}
	if ctx.Err() != nil {
		// the reader may have gone away with the cancellation
		select {
		case progress <- ev:
		default:
		}
		return
	}
	select {
	case progress <- ev:
	case <-ctx.Done():
	}
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
