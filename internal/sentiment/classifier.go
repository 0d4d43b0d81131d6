package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// DefaultVerdict is returned for empty text and by the lenient wrapper on failure.
const DefaultVerdict = domain.SentimentNeutral

// ErrNotConfigured is wrapped when no classifier endpoint is configured.
var ErrNotConfigured = errors.New("sentiment classifier not configured")

// Hints gives the classifier context about where the text came from.
type Hints struct {
	Category       domain.Category
	FeedbackType   string
	Department     string
	Rating         *int
	ImpactSeverity *domain.ImpactSeverity
}

// HintsFor derives classification hints from a record.
func HintsFor(rec *domain.FeedbackRecord) Hints {
	return Hints{
		Category:       rec.Category,
		FeedbackType:   rec.FeedbackType,
		Department:     rec.Department,
		Rating:         rec.Rating,
		ImpactSeverity: rec.ImpactSeverity,
	}
}

// Classifier labels free text as positive, neutral or negative.
type Classifier interface {
	Classify(ctx context.Context, text string, hints Hints) (domain.Sentiment, error)
}

// ClassificationError reports that a verdict could not be obtained. Callers
// can tell it apart from a genuine neutral verdict.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification failed: %s: %v", e.Reason, e.Err)
	}
	return "classification failed: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// IsClassificationError reports whether err carries a ClassificationError.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

var labelPattern = regexp.MustCompile(`\b(positive|neutral|negative)\b`)

// ParseLabel extracts a sentiment label from a model reply. Both bare words
// and {"sentiment": "..."} objects are accepted.
func ParseLabel(reply string) (domain.Sentiment, bool) {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "{") {
		var obj struct {
			Sentiment string `json:"sentiment"`
		}
		if err := json.Unmarshal([]byte(reply), &obj); err == nil {
			s := domain.Sentiment(strings.ToLower(strings.TrimSpace(obj.Sentiment)))
			return s, s.Valid()
		}
	}
	match := labelPattern.FindString(strings.ToLower(reply))
	if match == "" {
		return "", false
	}
	return domain.Sentiment(match), true
}

// Lenient wraps a classifier so failures degrade to DefaultVerdict instead of
// an error. This reproduces the legacy behaviour and makes classification
// failures invisible to the retry path.
type Lenient struct {
	inner  Classifier
	logger *zap.Logger
}

// NewLenient returns a classifier that never reports errors.
func NewLenient(inner Classifier, logger *zap.Logger) *Lenient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lenient{inner: inner, logger: logger}
}

func (l *Lenient) Classify(ctx context.Context, text string, hints Hints) (domain.Sentiment, error) {
	verdict, err := l.inner.Classify(ctx, text, hints)
	if err != nil {
		l.logger.Warn("classification failed; using default verdict", zap.Error(err))
		return DefaultVerdict, nil
	}
	return verdict, nil
}
