package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
)

type memRecorder struct {
	mu    sync.Mutex
	calls []entity.APICallLog
}

func (r *memRecorder) RecordCall(_ context.Context, call entity.APICallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return nil
}

const okBody = `{"model":"gpt-test","choices":[{"message":{"content":"{\"title\":\"Invoice\"}"}}],"usage":{"total_tokens":321}}`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *memRecorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rec := &memRecorder{}
	c := NewClient(Config{
		APIKey:         "sk-test",
		BaseURL:        srv.URL + "/v1/",
		Model:          "gpt-test",
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	}, rec, nil)
	return c, rec
}

func TestCompleteJSONModeParsesUsage(t *testing.T) {
	var body map[string]any
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, okBody)
	})

	out, err := c.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys", UserPrompt: "user", JSONMode: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Raw != `{"title":"Invoice"}` || out.TokenUsage != 321 || out.Model != "gpt-test" {
		t.Fatalf("unexpected completion %+v", out)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", body["response_format"])
	}
	if body["max_tokens"] != float64(2000) {
		t.Fatalf("expected text max_tokens 2000, got %v", body["max_tokens"])
	}
	if len(rec.calls) != 1 || rec.calls[0].Service != constants.ServiceModelAPI || *rec.calls[0].StatusCode != 200 {
		t.Fatalf("unexpected api log %+v", rec.calls)
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var n int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&n, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, okBody)
		}
	})

	out, err := c.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "u"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.TokenUsage != 321 {
		t.Fatalf("unexpected completion %+v", out)
	}
	if got := atomic.LoadInt32(&n); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if len(rec.calls) != 3 {
		t.Fatalf("expected one api log per attempt, got %d", len(rec.calls))
	}
	if rec.calls[0].ErrorMessage == nil || rec.calls[2].ErrorMessage != nil {
		t.Fatalf("unexpected error messages in logs: %+v", rec.calls)
	}
}

func TestCompleteDoesNotRetryNonTransient(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   common.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, common.KindAuthFailed},
		{"forbidden", http.StatusForbidden, common.KindAuthFailed},
		{"bad request", http.StatusBadRequest, common.KindRequestFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var n int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&n, 1)
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
			})
			_, err := c.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "u"})
			var me *common.ModelError
			if !errors.As(err, &me) || me.Kind != tc.kind || me.StatusCode != tc.status {
				t.Fatalf("expected %s model error, got %v", tc.kind, err)
			}
			if got := atomic.LoadInt32(&n); got != 1 {
				t.Fatalf("expected a single attempt, got %d", got)
			}
		})
	}
}

func TestCompleteGivesUpAfterMaxRetries(t *testing.T) {
	var n int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "u"})
	var me *common.ModelError
	if !errors.As(err, &me) || me.Kind != common.KindRequestFailed || me.StatusCode != 503 {
		t.Fatalf("expected request_failed 503, got %v", err)
	}
	if got := atomic.LoadInt32(&n); got != 4 {
		t.Fatalf("expected 1 attempt + 3 retries, got %d", got)
	}
}

func TestCompleteEmptyChoicesIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})
	_, err := c.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "u"})
	var me *common.ModelError
	if !errors.As(err, &me) || me.Kind != common.KindMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", err)
	}
}

func TestCompleteVisionSendsImageParts(t *testing.T) {
	var body struct {
		MaxTokens int `json:"max_tokens"`
		Messages  []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, okBody)
	})

	_, err := c.Complete(context.Background(), llm.CompletionRequest{
		UserPrompt: "read these",
		Images:     []llm.Image{{MimeType: "image/png", Data: []byte("png-bytes")}},
		JSONMode:   true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if body.MaxTokens != 4000 {
		t.Fatalf("expected vision max_tokens 4000, got %d", body.MaxTokens)
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL    string `json:"url"`
			Detail string `json:"detail"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(body.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content should be a part list: %v", err)
	}
	if len(parts) != 2 || parts[0].Text != "read these" || parts[1].Type != "image_url" {
		t.Fatalf("unexpected parts %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") || parts[1].ImageURL.Detail != "high" {
		t.Fatalf("unexpected image part %+v", parts[1])
	}
	if strings.Contains(rec.calls[0].RequestData, "base64") || !strings.Contains(rec.calls[0].RequestData, "<9 bytes image/png>") {
		t.Fatalf("logged request should carry image sizes only: %s", rec.calls[0].RequestData)
	}
}

func TestCompleteCancelledDuringBackoff(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	_, err := c.Complete(ctx, llm.CompletionRequest{UserPrompt: "u"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCompleteWithoutAPIKeyIsConfigurationError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil, nil)
	_, err := c.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "u"})
	if !common.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
