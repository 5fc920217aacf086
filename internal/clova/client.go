// Package clova is an HTTP client for the remote chat-completion service and
// its sliding-window trimming tool.
package clova

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/heritage-guide/internal/domain"
	"github.com/google/uuid"
)

const (
	apiSlidingWindow = "sliding-window"
	apiCompletion    = "chat-completion"

	defaultModel   = "HCX-003"
	defaultTimeout = 60 * time.Second
)

// Config holds the endpoints and credentials of the completion service.
type Config struct {
	CompletionHost string
	SlidingHost    string
	APIKey         string
	GatewayKey     string
	Model          string
	Timeout        time.Duration
}

// Client calls the completion and sliding-window endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A nil logger falls back to slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SlidingHost == "" {
		cfg.SlidingHost = cfg.CompletionHost
	}
	cfg.CompletionHost = strings.TrimRight(cfg.CompletionHost, "/")
	cfg.SlidingHost = strings.TrimRight(cfg.SlidingHost, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// TrimWindow asks the remote tool to cut messages down to maxTokens and returns
// the trimmed list. The remote side may append an assistant reply.
func (c *Client) TrimWindow(ctx context.Context, requestID string, messages []domain.Message, maxTokens int) ([]domain.Message, error) {
	url := fmt.Sprintf("%s/v1/api-tools/sliding/chat-messages/%s", c.cfg.SlidingHost, c.cfg.Model)

	var out trimResponse
	if err := c.post(ctx, apiSlidingWindow, url, requestID, trimRequest{Messages: messages, MaxTokens: maxTokens}, &out); err != nil {
		return nil, err
	}
	if out.Result.Messages == nil {
		return nil, &domain.APICallError{API: apiSlidingWindow, StatusCode: http.StatusOK, Message: "response has no messages"}
	}
	return out.Result.Messages, nil
}

// CompleteChat requests one completion and returns the assistant text without
// surrounding whitespace.
func (c *Client) CompleteChat(ctx context.Context, requestID string, messages []domain.Message, params SamplingParams) (string, error) {
	url := fmt.Sprintf("%s/testapp/v1/chat-completions/%s", c.cfg.CompletionHost, c.cfg.Model)
	if params.StopBefore == nil {
		params.StopBefore = []string{}
	}

	var out completionResponse
	if err := c.post(ctx, apiCompletion, url, requestID, completionRequest{Messages: messages, SamplingParams: params}, &out); err != nil {
		return "", err
	}

	switch {
	case out.Result.Message != nil:
		return strings.TrimSpace(out.Result.Message.Content), nil
	case len(out.Choices) > 0:
		return strings.TrimSpace(out.Choices[0].Message.Content), nil
	default:
		return "", &domain.APICallError{API: apiCompletion, StatusCode: http.StatusOK, Message: "response has no message"}
	}
}

func (c *Client) post(ctx context.Context, api, url, requestID string, body, out any) error {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", api, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", api, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-NCP-CLOVASTUDIO-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-NCP-APIGW-API-KEY", c.cfg.GatewayKey)
	req.Header.Set("X-NCP-CLOVASTUDIO-REQUEST-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", api, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", api, err)
	}

	c.logger.Debug("Completion service call",
		"api", api,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		return &domain.APICallError{API: api, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &domain.APICallError{API: api, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Status != nil && er.Status.Message != "" {
		return er.Status.Message
	}
	return "Unknown error"
}
