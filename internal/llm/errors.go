package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies generation failures for logs and metrics.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindQuota    ErrorKind = "quota"
	KindProvider ErrorKind = "provider"
	KindEmpty    ErrorKind = "empty"
)

// ErrEmptyResponse is returned by clients when the model produced no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// GenerationError is the typed failure surfaced to the pipeline.
type GenerationError struct {
	Provider Provider
	Model    string
	Kind     ErrorKind
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm: %s/%s %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func classify(err error) ErrorKind {
	if errors.Is(err, ErrEmptyResponse) {
		return KindEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return KindQuota
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return KindQuota
	}
	var awsErr smithy.APIError
	if errors.As(err, &awsErr) {
		switch awsErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException":
			return KindQuota
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota") {
		return KindQuota
	}
	return KindProvider
}
