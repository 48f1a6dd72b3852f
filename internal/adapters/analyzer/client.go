// Package analyzer calls an OpenAI-compatible chat completion API to write assessment reports.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	"github.com/psyassess/assessd/config"
	"github.com/psyassess/assessd/internal/core"
	"github.com/psyassess/assessd/internal/domain/model"
)

const (
	chatCompletionsPath  = "/chat/completions"
	maxErrorBodyBytes    = 4 * 1024
	maxResponseBodyBytes = 4 * 1024 * 1024
	defaultTimeout       = 5 * time.Minute
)

var (
	// ErrNotConfigured is returned when required analyzer settings are missing.
	ErrNotConfigured = errors.New("analyzer is not configured")
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("analyzer returned unexpected status")
	// ErrNoResult is returned when the result expression selects nothing usable.
	ErrNoResult = errors.New("analyzer response contained no report text")
)

// Options configures a Client.
type Options struct {
	Config config.AnalyzerConfig
	// Transport is the base round tripper beneath the bearer-token transport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client is a core.Analyzer backed by a chat completion endpoint.
type Client struct {
	endpoint   string
	model      string
	system     string
	resultExpr string
	prompt     *template.Template
	http       *http.Client
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// New builds a Client. The API key is attached to every request as a bearer token.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}

	expr := strings.TrimSpace(cfg.ResultExpression)
	if expr == "" {
		expr = "choices[0].message.content"
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("compile result expression %q: %w", expr, err)
	}

	prompt, err := newPromptTemplate(cfg.PromptTemplate)
	if err != nil {
		return nil, err
	}

	system := strings.TrimSpace(cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + chatCompletionsPath,
		model:      cfg.Model,
		system:     system,
		resultExpr: expr,
		prompt:     prompt,
		http: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
				Base:   base,
			},
		},
		logger: logger.With("component", "analyzer"),
	}, nil
}

// Analyze renders the prompt for input, calls the model and extracts the report text.
func (c *Client) Analyze(ctx context.Context, input model.AnalysisInput) (string, error) {
	userPrompt, err := renderPrompt(c.prompt, input)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.system},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call analyzer: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read analyzer response: %w", err)
	}

	text, err := c.extract(raw)
	if err != nil {
		return "", err
	}

	c.logger.DebugContext(ctx, "analyzer call finished",
		"assessment_id", input.AssessmentID,
		"duration", time.Since(start),
		"chars", len(text),
	)
	return text, nil
}

func (c *Client) extract(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode analyzer response: %w", err)
	}
	result, err := jmespath.Search(c.resultExpr, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate result expression: %w", err)
	}
	text, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("%w: expression %q", ErrNoResult, c.resultExpr)
	}
	return text, nil
}

var _ core.Analyzer = (*Client)(nil)
