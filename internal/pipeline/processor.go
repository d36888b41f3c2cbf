package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/extract"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
	"github.com/joseph-ayodele/paperless-ai/internal/reconcile"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
	"github.com/joseph-ayodele/paperless-ai/internal/taxonomy"
)

// Deps are the collaborators of a Processor.
type Deps struct {
	Store     DocumentStore
	Selector  TextSelector
	Suggester Suggester
	History   HistoryRecorder
	Prompts   PromptSource // optional; the default template is used without it
	Notifiers []Notifier
}

// Processor coordinates text selection, prompting, the model call and
// reconciliation for one settings snapshot.
type Processor struct {
	cfg        settings.Settings
	store      DocumentStore
	selector   TextSelector
	suggester  Suggester
	history    HistoryRecorder
	prompts    PromptSource
	notifiers  []Notifier
	reconciler *reconcile.Reconciler
	resolver   *taxonomy.Resolver
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(cfg settings.Settings, deps Deps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:        cfg,
		store:      deps.Store,
		selector:   deps.Selector,
		suggester:  deps.Suggester,
		history:    deps.History,
		prompts:    deps.Prompts,
		notifiers:  deps.Notifiers,
		reconciler: reconcile.NewReconciler(deps.Store, logger),
		resolver:   taxonomy.NewResolver(deps.Store, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Process extracts text for a document, asks the model for metadata and,
// with AutoApply, writes it back. The attempt is recorded in history and
// finalized exactly once; a cancelled attempt is left unfinalized.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if err := common.NewValidator().
		Field("document_id", req.DocumentID, common.PositiveID).
		Field("tag_id", req.TagID, common.PositiveID).
		Field("processing_tag_id", req.ProcessingTagID, common.PositiveID).
		Error(); err != nil {
		return ProcessResult{}, err
	}
	if req.Mode == "" {
		req.Mode = constants.ModeAuto
	}
	ctx = common.WithDocumentID(ctx, req.DocumentID)
	reqID := common.RequestIDFromContext(ctx)
	ctx = common.WithRequestID(ctx, reqID)
	start := time.Now()
	res := ProcessResult{DocumentID: req.DocumentID}

	doc, err := p.store.GetDocument(ctx, req.DocumentID)
	if err != nil && ctx.Err() == nil {
		err = common.NewExtractionError(common.KindDownloadFailed, fmt.Sprintf("fetch document %d", req.DocumentID), err)
	}
	title := doc.Title
	res.Title = title

	hid, herr := p.history.Start(ctx, req.DocumentID, title, req.TagID)
	if herr != nil {
		return res, herr
	}
	res.HistoryID = hid
	if herr := p.history.MarkProcessing(ctx, hid); herr != nil {
		return res, herr
	}
	p.logger.Info("pipeline.process.start",
		"req_id", reqID, "document_id", req.DocumentID, "history_id", hid, "mode", string(req.Mode), "auto_apply", req.AutoApply)

	if err == nil {
		err = p.run(ctx, req, doc, &res)
	}
	if err != nil {
		return res, p.finishFailed(ctx, hid, err, start)
	}

	if err := p.history.Complete(ctx, hid, repository.CompleteParams{
		TextSource:    string(res.Extraction.Source),
		ModelResponse: historyResponse(res),
		TokenUsage:    res.TokenUsage,
	}); err != nil {
		return res, err
	}
	if res.Applied != nil && res.Applied.Applied {
		if err := p.history.MarkApplied(ctx, hid); err != nil {
			return res, err
		}
	}
	p.logger.Info("pipeline.process.ok",
		"req_id", reqID,
		"document_id", req.DocumentID,
		"history_id", hid,
		"source", string(res.Extraction.Source),
		"fields", len(res.Metadata.Present()),
		"tokens", res.TokenUsage,
		"applied", res.Applied != nil && res.Applied.Applied,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Processor) run(ctx context.Context, req ProcessRequest, doc paperless.Document, res *ProcessResult) error {
	tpl, err := p.template(ctx)
	if err != nil {
		return err
	}

	text, err := p.selector.Select(ctx, doc, req.Mode)
	if err != nil {
		return err
	}
	vision := text.NeedsImages()
	jsonMode := p.cfg.UseJSONMode || tpl.JSONMode || vision

	pc := llm.PromptContext{
		DocumentID:         doc.ID,
		Filename:           doc.Filename(),
		CurrentTitle:       doc.Title,
		CurrentDate:        p.now().Format(time.DateOnly),
		ExtractedText:      text.Text,
		OriginalTextLength: text.OriginalLength,
		MaxTextLength:      p.cfg.MaxTextLength,
	}
	p.availableNames(ctx, &pc)
	if err := ctx.Err(); err != nil {
		return err
	}

	prompt := llm.BuildPrompt(tpl, pc, llm.PromptOptions{
		SystemPrompt: p.cfg.PromptSystem,
		JSONMode:     jsonMode,
		Vision:       vision,
	})
	out, err := p.suggester.Suggest(ctx, llm.Invocation{Prompt: prompt, Images: text.Images, JSONMode: jsonMode})
	if err != nil {
		return err
	}
	if vision {
		if out.ExtractedText == "" {
			p.logger.Warn("pipeline.vision.no_text", "req_id", common.RequestIDFromContext(ctx), "document_id", doc.ID)
		}
		text.Text = extract.HeadRunes(out.ExtractedText, p.cfg.MaxTextLength)
		text.OriginalLength = len([]rune(out.ExtractedText))
		text.CharLength = len([]rune(text.Text))
		text.Truncated = text.CharLength < text.OriginalLength
	}

	res.Extraction = ExtractionInfo{
		Source:         text.Source,
		SourceInfo:     text.SourceInfo,
		CharLength:     text.CharLength,
		OriginalLength: text.OriginalLength,
		Truncated:      text.Truncated,
		Preview:        extract.HeadRunes(text.Text, p.cfg.DisplayTextLength),
		Attempts:       text.Attempts,
	}
	res.Metadata = out.Metadata
	res.TokenUsage = out.TokenUsage
	res.Model = out.Model
	res.Dropped = out.Dropped
	res.ModelResponse = out.JSON

	if !req.AutoApply {
		return nil
	}
	outcome, err := p.reconciler.Apply(ctx, reconcile.Request{
		DocumentID:        doc.ID,
		Metadata:          out.Metadata,
		Fields:            req.Fields,
		ClearExistingTags: req.ClearExistingTags,
		ProcessingTagID:   req.ProcessingTagID,
		Current:           &doc,
	})
	if err != nil {
		return err
	}
	res.Applied = &outcome
	return nil
}

// Apply writes caller-confirmed metadata and marks the attempt applied.
func (p *Processor) Apply(ctx context.Context, req ApplyRequest) (reconcile.Outcome, error) {
	if err := common.NewValidator().
		Field("document_id", req.DocumentID, common.PositiveID).
		Field("processing_tag_id", req.ProcessingTagID, common.PositiveID).
		Error(); err != nil {
		return reconcile.Outcome{}, err
	}
	ctx = common.WithDocumentID(ctx, req.DocumentID)
	ctx = common.WithRequestID(ctx, common.RequestIDFromContext(ctx))

	outcome, err := p.reconciler.Apply(ctx, reconcile.Request{
		DocumentID:        req.DocumentID,
		Metadata:          req.Metadata,
		Fields:            req.Fields,
		ClearExistingTags: req.ClearExistingTags,
		ProcessingTagID:   req.ProcessingTagID,
	})
	if err != nil {
		return outcome, err
	}
	if outcome.Applied {
		p.markApplied(ctx, req)
	}
	return outcome, nil
}

func (p *Processor) markApplied(ctx context.Context, req ApplyRequest) {
	var hid int64
	if req.HistoryID != nil {
		hid = *req.HistoryID
	} else {
		latest, err := p.history.Latest(ctx, req.DocumentID)
		if err != nil || latest == nil || latest.Status != constants.HistoryStatusCompleted {
			p.logger.Debug("pipeline.apply.no_history", "document_id", req.DocumentID, "error", err)
			return
		}
		hid = latest.ID
	}
	if err := p.history.MarkApplied(ctx, hid); err != nil {
		p.logger.Warn("pipeline.apply.history_not_marked", "document_id", req.DocumentID, "history_id", hid, "error", err)
	}
}

func (p *Processor) finishFailed(ctx context.Context, hid int64, err error, start time.Time) error {
	reqID := common.RequestIDFromContext(ctx)
	docID := common.DocumentIDFromContext(ctx)
	bg := context.WithoutCancel(ctx)
	if isCancelled(ctx, err) {
		if herr := p.history.MarkCancelled(bg, hid); herr != nil {
			p.logger.Warn("pipeline.history.cancel_failed", "history_id", hid, "error", herr)
		}
		p.logger.Info("pipeline.process.cancelled",
			"req_id", reqID, "document_id", docID, "history_id", hid, "elapsed_ms", time.Since(start).Milliseconds())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if herr := p.history.Fail(bg, hid, err.Error()); herr != nil {
		p.logger.Error("pipeline.history.fail_failed", "history_id", hid, "error", herr)
	}
	p.logger.Error("pipeline.process.failed",
		"req_id", reqID,
		"document_id", docID,
		"history_id", hid,
		"category", common.Category(err),
		"error", err,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return err
}

// template resolves the prompt configuration: the active_prompt setting,
// then the configuration marked active, then the built-in default.
func (p *Processor) template(ctx context.Context) (entity.PromptTemplate, error) {
	tpl := entity.DefaultPromptTemplate()
	if p.prompts != nil {
		var (
			found *entity.PromptTemplate
			err   error
		)
		if p.cfg.ActivePrompt != "" {
			found, err = p.prompts.GetByName(ctx, p.cfg.ActivePrompt)
			if errors.Is(err, common.ErrNotFound) {
				p.logger.Warn("pipeline.prompt.missing", "name", p.cfg.ActivePrompt)
				found, err = p.prompts.Active(ctx)
			}
		} else {
			found, err = p.prompts.Active(ctx)
		}
		if err != nil {
			return tpl, common.WrapError(err, "load prompt configuration")
		}
		if found != nil {
			tpl = *found
		}
	}
	if p.cfg.PromptTemplate != "" {
		tpl.FreeInstructions = p.cfg.PromptTemplate
	}
	return tpl, nil
}

// availableNames fills the taxonomy lists shown to the model. The prompt
// still works without them, so a fetch failure only degrades it.
func (p *Processor) availableNames(ctx context.Context, pc *llm.PromptContext) {
	snap, err := p.resolver.Fetch(ctx, paperless.Kinds...)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("pipeline.taxonomy.unavailable", "req_id", common.RequestIDFromContext(ctx), "error", err)
		}
		return
	}
	pc.AvailableCorrespondents = snap.Names(paperless.KindCorrespondent)
	pc.AvailableDocumentTypes = snap.Names(paperless.KindDocumentType)
	pc.AvailableStoragePaths = snap.Names(paperless.KindStoragePath)
	pc.AvailableTags = snap.Names(paperless.KindTag)
}

func historyResponse(res ProcessResult) json.RawMessage {
	if len(res.ModelResponse) > 0 {
		return res.ModelResponse
	}
	b, err := json.Marshal(res.Metadata)
	if err != nil {
		return nil
	}
	return b
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
