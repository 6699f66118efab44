package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	hibikiErrors "github.com/harunnryd/hibiki/internal/errors"
	"github.com/harunnryd/hibiki/internal/logger"
)

const (
	defaultTimeout = 30 * time.Second

	// listPageLimit is the page size used when draining paginated listings.
	listPageLimit = 100
)

// Client is a typed HTTP client for the knowledge-base service. It holds no
// mutable state and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateConversation creates a new conversation, optionally titled.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	body := map[string]string{}
	if strings.TrimSpace(title) != "" {
		body["title"] = title
	}

	var resp createConversationResponse
	if err := c.post(ctx, "/api/conversations", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Conversation, nil
}

// ListMessages fetches every persisted message of a conversation in creation
// order, following the service's cursor pagination until exhausted.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var all []Message
	cursor := ""

	for {
		endpoint := fmt.Sprintf("/api/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), listPageLimit)
		if cursor != "" {
			endpoint += "&cursor=" + url.QueryEscape(cursor)
		}

		var page listMessagesResponse
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Data...)
		if !page.Pagination.HasNext || page.Pagination.NextCursor == "" {
			return all, nil
		}
		cursor = page.Pagination.NextCursor
	}
}

// SaveMessage appends one message to the conversation log.
func (c *Client) SaveMessage(ctx context.Context, req SaveMessageRequest) (*Message, error) {
	var resp saveMessageResponse
	if err := c.post(ctx, "/tools/save-message", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// SearchQA runs a full-text search over the knowledge base.
func (c *Client) SearchQA(ctx context.Context, query string, limit int) (*SearchQAResponse, error) {
	var resp SearchQAResponse
	if err := c.post(ctx, "/tools/search-qa", SearchQARequest{Query: query, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SemanticSearchQA runs the service-side vector similarity search.
func (c *Client) SemanticSearchQA(ctx context.Context, query string, topK int) (*SemanticSearchResponse, error) {
	var resp SemanticSearchResponse
	if err := c.post(ctx, "/tools/semantic-search-qa", SemanticSearchRequest{Query: query, TopK: topK}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetQAByIDs fetches specific knowledge-base entries.
func (c *Client) GetQAByIDs(ctx context.Context, ids []string) (*GetQAByIDsResponse, error) {
	var resp GetQAByIDsResponse
	if err := c.post(ctx, "/tools/get-qa-by-ids", GetQAByIDsRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListQA drains the paginated QA listing; used by the semantic index refresher.
func (c *Client) ListQA(ctx context.Context) ([]QAPair, error) {
	var all []QAPair
	cursor := ""

	for {
		endpoint := fmt.Sprintf("/api/qa-pairs?limit=%d", listPageLimit)
		if cursor != "" {
			endpoint += "&cursor=" + url.QueryEscape(cursor)
		}

		var page listQAResponse
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Data...)
		if !page.Pagination.HasNext || page.Pagination.NextCursor == "" {
			return all, nil
		}
		cursor = page.Pagination.NextCursor
	}
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return hibikiErrors.Wrap(err, "build request")
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return hibikiErrors.Wrap(err, "encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return hibikiErrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	traceID := logger.GetTraceID(req.Context())

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Backend request failed", "method", req.Method, "url", req.URL.Path, "error", err, "trace_id", traceID)
		return fmt.Errorf("backend %s %s: %v: %w", req.Method, req.URL.Path, err, hibikiErrors.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Backend returned non-success", "method", req.Method, "url", req.URL.Path, "status", resp.StatusCode, "trace_id", traceID)
		return fmt.Errorf("backend %s %s: status %d: %s: %w", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)), hibikiErrors.ErrUpstream)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %v: %w", err, hibikiErrors.ErrUpstream)
	}

	return nil
}
