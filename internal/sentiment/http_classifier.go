package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/observability"
)

const systemPrompt = "You classify hospital feedback. Reply with exactly one word: positive, neutral or negative."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// HTTPClassifier calls an OpenAI-compatible chat completion endpoint.
type HTTPClassifier struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClassifier builds a classifier from configuration.
func NewHTTPClassifier(cfg config.SentimentConfig, logger *zap.Logger) *HTTPClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClassifier{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		logger:     logger,
	}
}

// Classify returns the verdict for text. Blank text is neutral and never
// reaches the endpoint; every other failure is a *ClassificationError.
func (c *HTTPClassifier) Classify(ctx context.Context, text string, hints Hints) (verdict domain.Sentiment, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultVerdict, nil
	}

	ctx, span := observability.StartSpan(ctx, "sentiment", "classify",
		attribute.String("ai.model", c.model),
		attribute.String("feedback.category", string(hints.Category)),
		attribute.Int("text.length", len(text)),
	)
	defer observability.FinishSpan(span, &err)

	if c.baseURL == "" {
		return "", &ClassificationError{Reason: "no endpoint", Err: ErrNotConfigured}
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(text, hints)},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return "", &ClassificationError{Reason: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ClassificationError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ClassificationError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ClassificationError{Reason: "read response", Err: err}
	}
	c.logger.Debug("classifier responded",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return "", &ClassificationError{Reason: fmt.Sprintf("status %d", resp.StatusCode), Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ClassificationError{Reason: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return "", &ClassificationError{Reason: "api error", Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ClassificationError{Reason: "no choices"}
	}

	label, ok := ParseLabel(parsed.Choices[0].Message.Content)
	if !ok {
		return "", &ClassificationError{Reason: fmt.Sprintf("unrecognised label %q", parsed.Choices[0].Message.Content)}
	}
	span.SetAttributes(attribute.String("sentiment.label", string(label)))
	return label, nil
}

func buildPrompt(text string, hints Hints) string {
	var b strings.Builder
	if hints.Category != "" {
		fmt.Fprintf(&b, "Submitted by: %s\n", hints.Category)
	}
	if hints.FeedbackType != "" {
		fmt.Fprintf(&b, "Feedback type: %s\n", hints.FeedbackType)
	}
	if hints.Department != "" {
		fmt.Fprintf(&b, "Department: %s\n", hints.Department)
	}
	if hints.Rating != nil {
		fmt.Fprintf(&b, "Rating: %d/5\n", *hints.Rating)
	}
	if hints.ImpactSeverity != nil {
		fmt.Fprintf(&b, "Impact severity: %s\n", *hints.ImpactSeverity)
	}
	fmt.Fprintf(&b, "Feedback:\n%s", text)
	return b.String()
}
