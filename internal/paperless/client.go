package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

const maxLoggedPayload = 10 << 10

// CallRecorder receives one entry per outbound request.
type CallRecorder interface {
	RecordCall(ctx context.Context, call entity.APICallLog) error
}

// Config for the document store client.
type Config struct {
	BaseURL  string        // e.g. https://paperless.example.com
	Token    string        // API token, sent as "Authorization: Token <token>"
	Timeout  time.Duration // per request
	PageSize int           // list page size, default 1000
}

// Client talks to the Paperless-NGX REST API. Requests are never retried.
type Client struct {
	cfg      Config
	http     *http.Client
	recorder CallRecorder
	logger   *slog.Logger
}

func NewClient(cfg Config, recorder CallRecorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		recorder: recorder,
		logger:   logger,
	}
}

// GetDocument fetches a document's metadata including its OCR content.
func (c *Client) GetDocument(ctx context.Context, id int) (Document, error) {
	var doc Document
	if _, _, err := c.do(ctx, http.MethodGet, c.documentPath(id), nil, nil, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// DownloadDocument returns the document bytes and the served content type.
func (c *Client) DownloadDocument(ctx context.Context, id int) ([]byte, string, error) {
	return c.do(ctx, http.MethodGet, c.documentPath(id)+"download/", nil, nil, nil)
}

// ListDocuments returns every document matching filter, following pagination.
func (c *Client) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	q := filter.values()
	q.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	q.Set("ordering", "id")
	return listAll[Document](ctx, c, c.cfg.BaseURL+"/api/documents/?"+q.Encode())
}

// List returns every entity of kind.
func (c *Client) List(ctx context.Context, kind Kind) ([]Item, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(c.cfg.PageSize))
	return listAll[Item](ctx, c, c.cfg.BaseURL+kind.endpoint()+"?"+q.Encode())
}

// Create adds a new entity of kind with the given name.
func (c *Client) Create(ctx context.Context, kind Kind, name string) (Item, error) {
	body := map[string]any{"name": name}
	if kind == KindStoragePath {
		// storage paths need a path template
		body["path"] = name + "/{title}"
	}
	var item Item
	if _, _, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+kind.endpoint(), nil, body, &item); err != nil {
		return Item{}, err
	}
	c.logger.Info("paperless.taxonomy.created", "kind", string(kind), "id", item.ID, "name", item.Name)
	return item, nil
}

// UpdateDocument issues a single PATCH with only the set fields.
func (c *Client) UpdateDocument(ctx context.Context, id int, u Update) error {
	_, _, err := c.do(ctx, http.MethodPatch, c.documentPath(id), nil, u.Fields(), nil)
	return err
}

func (c *Client) documentPath(id int) string {
	return fmt.Sprintf("%s/api/documents/%d/", c.cfg.BaseURL, id)
}

func listAll[T any](ctx context.Context, c *Client, next string) ([]T, error) {
	var out []T
	for next != "" {
		var p page[T]
		if _, _, err := c.do(ctx, http.MethodGet, next, nil, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return out, nil
}

// do sends one request to fullURL, records it, and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, fullURL string, query url.Values, body any, out any) ([]byte, string, error) {
	reqID := common.RequestIDFromContext(ctx)
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	endpoint := endpointOf(fullURL)

	var reqBody []byte
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode json: %w", err)
		}
		reqBody = b
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.Token)
	req.Header.Set("Accept", "application/json; version=5")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("paperless.http.request", "req_id", reqID, "method", method, "endpoint", endpoint)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		c.logger.Error("paperless.http.send_error",
			"req_id", reqID, "method", method, "endpoint", endpoint,
			"error", err, "elapsed_ms", elapsed.Milliseconds(),
		)
		c.record(ctx, method, endpoint, nil, reqBody, nil, "", err, elapsed)
		return nil, "", fmt.Errorf("paperless %s %s: %w", method, endpoint, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("paperless.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, readErr := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	contentType := resp.Header.Get("Content-Type")
	status := resp.StatusCode

	c.logger.Info("paperless.http.response",
		"req_id", reqID, "method", method, "endpoint", endpoint,
		"status", status, "bytes", len(raw), "elapsed_ms", elapsed.Milliseconds(),
	)

	if readErr != nil {
		c.record(ctx, method, endpoint, &status, reqBody, raw, contentType, readErr, elapsed)
		return nil, "", fmt.Errorf("paperless %s %s: read body: %w", method, endpoint, readErr)
	}
	if status/100 != 2 {
		apiErr := &APIError{Method: method, Endpoint: endpoint, StatusCode: status, Body: strings.TrimSpace(string(raw))}
		c.record(ctx, method, endpoint, &status, reqBody, raw, contentType, apiErr, elapsed)
		return raw, contentType, apiErr
	}
	c.record(ctx, method, endpoint, &status, reqBody, raw, contentType, nil, elapsed)

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, contentType, fmt.Errorf("paperless %s %s: decode response: %w", method, endpoint, err)
		}
	}
	return raw, contentType, nil
}

func (c *Client) record(ctx context.Context, method, endpoint string, status *int, reqBody, respBody []byte, contentType string, callErr error, elapsed time.Duration) {
	if c.recorder == nil {
		return
	}
	entry := entity.APICallLog{
		Service:      constants.ServiceDocumentStore,
		Endpoint:     endpoint,
		Method:       method,
		StatusCode:   status,
		RequestData:  payloadForLog(reqBody, "application/json"),
		ResponseData: payloadForLog(respBody, contentType),
		DurationMS:   elapsed.Milliseconds(),
	}
	if callErr != nil {
		msg := callErr.Error()
		entry.ErrorMessage = &msg
	}
	// the log must survive a cancelled request context
	if err := c.recorder.RecordCall(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("paperless.api_log.record_failed", "endpoint", endpoint, "error", err)
	}
}

func payloadForLog(b []byte, contentType string) string {
	if len(b) == 0 {
		return ""
	}
	textual := strings.Contains(contentType, "json") || strings.HasPrefix(contentType, "text/")
	if !textual || !utf8.Valid(b) {
		return fmt.Sprintf("<%d bytes %s>", len(b), contentType)
	}
	if len(b) > maxLoggedPayload {
		return string(b[:maxLoggedPayload]) + "...(truncated)"
	}
	return string(b)
}

func endpointOf(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
