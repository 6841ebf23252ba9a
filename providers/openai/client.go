package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentecuantica/game-of-gods/llm"
)

const (
	defaultMaxAttempts    = 3
	defaultAttemptTimeout = 120 * time.Second
	defaultBackoffBase    = 30 * time.Second
	defaultBackoffCap     = 240 * time.Second
	defaultMaxReplyBytes  = 4000
)

// Client calls an OpenAI-compatible chat-completion endpoint. Transient
// failures (timeout, connection error, 5xx) and rate limits are retried with
// capped exponential backoff up to MaxAttempts; authorization failures are
// surfaced after a single attempt.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	MaxReplyBytes  int
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		APIKey:         apiKey,
		HTTP:           &http.Client{Timeout: 5 * time.Minute},
		MaxAttempts:    defaultMaxAttempts,
		AttemptTimeout: defaultAttemptTimeout,
		BackoffBase:    defaultBackoffBase,
		BackoffCap:     defaultBackoffCap,
		MaxReplyBytes:  defaultMaxReplyBytes,
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr *llm.Error
	for attempt := 0; attempt < attempts; attempt++ {
		res, cerr := c.do(ctx, req)
		if cerr == nil {
			res.Duration = time.Since(start)
			return res, nil
		}
		lastErr = cerr

		switch cerr.Kind {
		case llm.KindUnauthorized, llm.KindMalformedResponse:
			return llm.Result{}, cerr
		}
		if attempt == attempts-1 {
			break
		}

		wait := c.backoffWait(attempt)
		if cerr.Kind == llm.KindRateLimited && cerr.Hint > 0 && cerr.Hint < c.backoffCap() {
			wait = cerr.Hint
		}
		slog.Warn("completion_retry",
			"kind", string(cerr.Kind),
			"attempt", attempt+1,
			"max_attempts", attempts,
			"wait", wait.String(),
		)
		select {
		case <-ctx.Done():
			return llm.Result{}, &llm.Error{Kind: llm.KindTimeout, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return llm.Result{}, lastErr
}

func (c *Client) do(ctx context.Context, req llm.Request) (llm.Result, *llm.Error) {
	attemptTimeout := c.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = defaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, &llm.Error{Kind: llm.KindMalformedResponse, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return llm.Result{}, &llm.Error{Kind: llm.KindNetworkError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Result{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Result{}, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Result{}, classifyStatus(resp, raw)
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Result{}, &llm.Error{Kind: llm.KindMalformedResponse, Status: resp.StatusCode, Err: err}
	}
	if len(out.Choices) == 0 {
		return llm.Result{}, &llm.Error{
			Kind:   llm.KindMalformedResponse,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("openai: empty choices"),
		}
	}

	maxReply := c.MaxReplyBytes
	if maxReply <= 0 {
		maxReply = defaultMaxReplyBytes
	}
	return llm.Result{
		Text: llm.Sanitize(out.Choices[0].Message.Content, maxReply),
		Usage: llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

func classifyStatus(resp *http.Response, raw []byte) *llm.Error {
	status := resp.StatusCode
	detail := fmt.Errorf("openai http %d: %s", status, strings.TrimSpace(string(raw)))

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != nil && out.Error.Message != "" {
		detail = fmt.Errorf("openai http %d: %s", status, out.Error.Message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &llm.Error{
			Kind:   llm.KindRateLimited,
			Status: status,
			Hint:   retryAfter(resp),
			Err:    detail,
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &llm.Error{Kind: llm.KindUnauthorized, Status: status, Err: detail}
	default:
		return &llm.Error{Kind: llm.KindServerError, Status: status, Err: detail}
	}
}

func classifyTransportError(err error) *llm.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	return &llm.Error{Kind: llm.KindNetworkError, Err: err}
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) backoffWait(attempt int) time.Duration {
	base := c.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	wait := base << attempt
	if limit := c.backoffCap(); wait > limit {
		wait = limit
	}
	return wait
}

func (c *Client) backoffCap() time.Duration {
	if c.BackoffCap > 0 {
		return c.BackoffCap
	}
	return defaultBackoffCap
}
