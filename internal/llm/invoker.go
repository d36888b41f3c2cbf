package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
)

// Invocation is one rendered prompt plus optional page images.
type Invocation struct {
	Prompt   Prompt
	Images   []Image
	JSONMode bool
}

// Result is a decoded model suggestion.
type Result struct {
	Metadata      SuggestedMetadata
	ExtractedText string // vision mode only
	TokenUsage    int
	Model         string
	Raw           string
	JSON          []byte // normalized suggestion persisted in history
	Dropped       []string
}

// Invoker calls the model and decodes its answer into SuggestedMetadata.
type Invoker struct {
	completer Completer
	logger    *slog.Logger
}

func NewInvoker(completer Completer, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{completer: completer, logger: logger}
}

// Suggest runs one completion. Individually invalid fields are dropped; an
// answer that cannot be read at all is a ModelError{malformed_response}.
// The returned Result carries Raw even on decode failure.
func (iv *Invoker) Suggest(ctx context.Context, in Invocation) (Result, error) {
	start := time.Now()
	comp, err := iv.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: in.Prompt.System,
		UserPrompt:   in.Prompt.User,
		Images:       in.Images,
		JSONMode:     in.JSONMode,
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{Raw: comp.Raw, TokenUsage: comp.TokenUsage, Model: comp.Model}

	dec, err := DecodeSuggestion(comp.Raw, in.JSONMode, iv.logger)
	if err != nil {
		iv.logger.Error("llm.suggest.malformed", "req_id", common.RequestIDFromContext(ctx), "raw_len", len(comp.Raw))
		return res, common.NewModelError(common.KindMalformedResponse, 0, "response is not a metadata object", err)
	}
	res.Metadata = dec.Metadata
	res.ExtractedText = dec.ExtractedText
	res.JSON = dec.JSON
	res.Dropped = dec.Dropped

	iv.logger.Info("llm.suggest.ok",
		"format", dec.Format,
		"fields", len(dec.Metadata.Present()),
		"dropped", len(dec.Dropped),
		"tokens", comp.TokenUsage,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
