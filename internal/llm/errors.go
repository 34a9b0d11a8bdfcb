package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindServerError  Kind = "server_error"
	KindNetworkError Kind = "network_error"
)

// CompletionError reports a failed completion call. It is never retried.
type CompletionError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// UserMessage is the friendly text shown in place of a reply.
func (e *CompletionError) UserMessage() string {
	switch e.Kind {
	case KindRateLimited:
		return "Let's take a quick pause - could you share that again in a moment?"
	case KindUnauthorized:
		return "Mind if we try that again?"
	case KindServerError:
		return "Need a moment to process. Could we try that again?"
	default:
		return "Having trouble connecting. Could you try again?"
	}
}

var errNoChoices = errors.New("completion returned no choices")

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	default:
		return KindServerError
	}
}

// classifyError maps a provider failure onto a CompletionError.
func classifyError(err error) *CompletionError {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &CompletionError{Kind: kindForStatus(apiErr.HTTPStatusCode), Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &CompletionError{Kind: kindForStatus(reqErr.HTTPStatusCode), Status: reqErr.HTTPStatusCode, Err: err}
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) && gErr.Code != 0 {
		return &CompletionError{Kind: kindForStatus(gErr.Code), Status: gErr.Code, Err: err}
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr.Code != 0 {
		return &CompletionError{Kind: kindForStatus(gErrPtr.Code), Status: gErrPtr.Code, Err: err}
	}

	if errors.Is(err, errNoChoices) {
		return &CompletionError{Kind: KindServerError, Err: err}
	}
	// transport failures, timeouts and cancellation
	return &CompletionError{Kind: KindNetworkError, Err: err}
}
