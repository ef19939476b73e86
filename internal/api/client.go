// ABOUTME: HTTP client for the conversation backend: start, update, poll, upload, feedback.
// ABOUTME: All failures come back as classified *Error values; retries belong to the caller.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternlabs/chatsession/internal/chat"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 2048

// Client talks to the conversation backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	credential string
	tenant     string
	http       *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client. Pass nil httpClient for a default with
// a 30s timeout, nil logger for the default logger.
func NewClient(baseURL, credential, tenant string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: credential,
		tenant:     tenant,
		http:       httpClient,
		logger:     logger.With("component", "api"),
	}
}

// StartResponse is the result of opening a new conversation.
type StartResponse struct {
	ConversationID  string   `json:"conversation_id"`
	WelcomeMessage  string   `json:"welcome_message,omitempty"`
	PossibleQueries []string `json:"possible_queries,omitempty"`
}

// StartConversation opens a new in-progress conversation.
func (c *Client) StartConversation(ctx context.Context, metadata map[string]string, captchaToken string) (*StartResponse, error) {
	body := map[string]any{"metadata": metadata}
	if captchaToken != "" {
		body["captcha_token"] = captchaToken
	}

	var out StartResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/in-progress/start", body, &out); err != nil {
		return nil, err
	}
	if out.ConversationID == "" {
		return nil, &Error{Kind: KindClient, Status: 200, Body: "response missing conversation_id"}
	}
	return &out, nil
}

// UpdateConversation sends new messages for an existing conversation.
func (c *Client) UpdateConversation(ctx context.Context, conversationID string, msgs []chat.Message, extra map[string]string, captchaToken string) error {
	body := map[string]any{"messages": msgs}
	if len(extra) > 0 {
		body["metadata"] = extra
	}
	if captchaToken != "" {
		body["captcha_token"] = captchaToken
	}
	path := fmt.Sprintf("/api/conversations/in-progress/%s", url.PathEscape(conversationID))
	return c.doJSON(ctx, http.MethodPatch, path, body, nil)
}

// PollResponse is the heartbeat poll result.
type PollResponse struct {
	Status   string         `json:"status"`
	Messages []chat.Message `json:"messages"`
}

// PollInProgress fetches the conversation status and any messages produced
// since the transcript the client already holds.
func (c *Client) PollInProgress(ctx context.Context, conversationID string) (*PollResponse, error) {
	path := fmt.Sprintf("/api/conversations/in-progress/%s/poll", url.PathEscape(conversationID))
	var out PollResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadResponse describes a stored file.
type UploadResponse struct {
	FileID  string `json:"file_id"`
	FileURL string `json:"file_url"`
}

// UploadFile sends a file as multipart form data scoped to a conversation.
func (c *Client) UploadFile(ctx context.Context, conversationID, name, contentType string, r io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}
	if contentType != "" {
		_ = mw.WriteField("content_type", contentType)
	}
	if err := mw.Close(); err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}

	path := fmt.Sprintf("/api/conversations/in-progress/%s/files", url.PathEscape(conversationID))
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResponse
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddFeedback records a thumbs up/down for a message.
func (c *Client) AddFeedback(ctx context.Context, messageID, value, message string) error {
	body := map[string]any{"feedback": value}
	if message != "" {
		body["feedback_message"] = message
	}
	path := fmt.Sprintf("/api/messages/%s/feedback", url.PathEscape(messageID))
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// doJSON issues a request with an optional JSON body and decodes a JSON
// response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindClient, Err: err}
		}
		payload = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	if c.tenant != "" {
		req.Header.Set("X-Tenant-ID", c.tenant)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// A cancelled request is the caller's doing, not a backend outage.
		// Everything else without a response is conservatively a network error.
		if errors.Is(err, context.Canceled) {
			return &Error{Kind: KindClient, Err: err}
		}
		c.logger.Debug("request failed", "method", req.Method, "url", req.URL.Path, "error", err)
		return &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := classifyStatus(resp.StatusCode, string(body))
		c.logger.Debug("request rejected",
			"method", req.Method,
			"url", req.URL.Path,
			"status", resp.StatusCode,
			"kind", apiErr.Kind,
		)
		return apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindClient, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
