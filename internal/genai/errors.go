package genai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
)

var (
	// ErrNoChoicesReturned is returned when the API responds without choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrSchemaValidation is returned when structured output cannot be coerced.
	ErrSchemaValidation = errors.New("structured output failed schema validation")
)

// Category classifies a failure for recovery purposes.
type Category string

const (
	CategoryRateLimit      Category = "rate_limit"
	CategoryTimeout        Category = "timeout"
	CategoryLowConfidence  Category = "low_confidence"
	CategoryIntentFailure  Category = "intent_failure"
	CategoryExecutionError Category = "execution_error"
	CategoryConflict       Category = "conflict"
)

// CallError is a failed LLM call, or a classifier result the caller cannot act
// on, annotated with its category.
type CallError struct {
	Category Category
	Model    string
	Err      error
}

func (e *CallError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (model %s): %v", e.Category, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCategoryError wraps err with an explicit category.
func NewCategoryError(category Category, err error) error {
	return &CallError{Category: category, Err: err}
}

// Classify maps an error to its category. Errors already carrying a category
// keep it.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Category != "" {
		return callErr.Category
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return CategoryRateLimit
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return CategoryTimeout
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return CategoryRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return CategoryTimeout
	}
	return CategoryExecutionError
}
