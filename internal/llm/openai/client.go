package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
)

const (
	completionsPath  = "/chat/completions"
	maxLoggedPayload = 10 << 10
)

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Completer against chat/completions. Transient
// failures (429, 5xx, network errors, timeouts) are retried with exponential
// backoff; everything else fails on the first attempt.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return llm.Completion{}, common.NewConfigurationError("openai_api_key", "is not set")
	}
	reqID := common.RequestIDFromContext(ctx)
	ctx = common.WithRequestID(ctx, reqID)
	start := time.Now()

	body, summary, err := c.buildBody(req)
	if err != nil {
		return llm.Completion{}, err
	}

	c.logger.Info("llm.complete.start",
		"req_id", reqID,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"json_mode", req.JSONMode,
		"images", len(req.Images),
		"prompt_len", len(req.SystemPrompt)+len(req.UserPrompt),
	)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("llm.complete.retry",
				"req_id", reqID, "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return llm.Completion{}, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return llm.Completion{}, ctx.Err()
			}
			return llm.Completion{}, common.NewModelError(common.KindRateLimited, 0, "local rate limiter", err)
		}

		out, err := c.attempt(ctx, body, summary)
		if err == nil {
			c.logger.Info("llm.complete.ok",
				"req_id", reqID,
				"attempts", attempt+1,
				"tokens", out.TokenUsage,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return out, nil
		}
		if ctx.Err() != nil {
			return llm.Completion{}, ctx.Err()
		}
		lastErr = err

		var me *common.ModelError
		if !errors.As(err, &me) || !me.Transient() {
			break
		}
	}
	c.logger.Error("llm.complete.failed",
		"req_id", reqID, "error", lastErr, "elapsed_ms", time.Since(start).Milliseconds())
	return llm.Completion{}, lastErr
}

func (c *Client) attempt(ctx context.Context, body []byte, summary string) (llm.Completion, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := llm.SendJSON(attemptCtx, c.http, c.cfg.BaseURL+completionsPath, body, headers, c.logger)
	elapsed := time.Since(start)

	if err != nil {
		merr := classify(attemptCtx, status, err)
		c.record(ctx, status, summary, raw, merr, elapsed)
		return llm.Completion{}, merr
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		merr := common.NewModelError(common.KindMalformedResponse, status, "decode completion", err)
		c.record(ctx, status, summary, raw, merr, elapsed)
		return llm.Completion{}, merr
	}
	if len(cr.Choices) == 0 {
		merr := common.NewModelError(common.KindMalformedResponse, status, "no choices in response", nil)
		c.record(ctx, status, summary, raw, merr, elapsed)
		return llm.Completion{}, merr
	}
	c.record(ctx, status, summary, raw, nil, elapsed)

	model := cr.Model
	if model == "" {
		model = c.cfg.Model
	}
	return llm.Completion{
		Raw:        strings.TrimSpace(cr.Choices[0].Message.Content),
		TokenUsage: cr.Usage.TotalTokens,
		Model:      model,
	}, nil
}

func classify(attemptCtx context.Context, status int, err error) *common.ModelError {
	var se *llm.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return common.NewModelError(common.KindRateLimited, se.StatusCode, se.Body, err)
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return common.NewModelError(common.KindAuthFailed, se.StatusCode, se.Body, err)
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusGatewayTimeout:
			return common.NewModelError(common.KindTimeout, se.StatusCode, se.Body, err)
		default:
			return common.NewModelError(common.KindRequestFailed, se.StatusCode, se.Body, err)
		}
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return common.NewModelError(common.KindTimeout, status, "request timed out", err)
	}
	return common.NewModelError(common.KindRequestFailed, status, "request failed", err)
}

func (c *Client) buildBody(req llm.CompletionRequest) ([]byte, string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
		if len(req.Images) > 0 {
			maxTokens = c.cfg.VisionMaxTokens
		}
	}

	build := func(imageURL func(llm.Image) string) map[string]any {
		var user any = req.UserPrompt
		if len(req.Images) > 0 {
			parts := []map[string]any{{"type": "text", "text": req.UserPrompt}}
			for _, img := range req.Images {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": imageURL(img), "detail": "high"},
				})
			}
			user = parts
		}
		body := map[string]any{
			"model":       c.cfg.Model,
			"temperature": c.cfg.Temperature,
			"max_tokens":  maxTokens,
			"messages": []map[string]any{
				{"role": "system", "content": req.SystemPrompt},
				{"role": "user", "content": user},
			},
		}
		if req.JSONMode {
			body["response_format"] = map[string]any{"type": "json_object"}
		}
		return body
	}

	b, err := json.Marshal(build(llm.Image.DataURL))
	if err != nil {
		return nil, "", fmt.Errorf("encode request: %w", err)
	}
	// the logged copy replaces image data with its size
	s, err := json.Marshal(build(func(img llm.Image) string {
		return fmt.Sprintf("<%d bytes %s>", len(img.Data), img.MimeType)
	}))
	if err != nil {
		return nil, "", fmt.Errorf("encode request summary: %w", err)
	}
	return b, truncate(string(s)), nil
}

func (c *Client) record(ctx context.Context, status int, reqSummary string, raw []byte, callErr error, elapsed time.Duration) {
	if c.recorder == nil {
		return
	}
	entry := entity.APICallLog{
		Service:      constants.ServiceModelAPI,
		Endpoint:     completionsPath,
		Method:       http.MethodPost,
		RequestData:  reqSummary,
		ResponseData: truncate(string(raw)),
		DurationMS:   elapsed.Milliseconds(),
	}
	if status != 0 {
		entry.StatusCode = &status
	}
	if callErr != nil {
		msg := callErr.Error()
		entry.ErrorMessage = &msg
	}
	if err := c.recorder.RecordCall(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("llm.api_log.record_failed", "error", err)
	}
}

func truncate(s string) string {
	if len(s) <= maxLoggedPayload {
		return s
	}
	return s[:maxLoggedPayload] + "...(truncated)"
}
