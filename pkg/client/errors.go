package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrInvalidPaging is returned before any request when the page index is
	// negative or the page size is below one.
	ErrInvalidPaging = errors.New("invalid paging parameters")

	ErrInvalidBaseURL = errors.New("invalid base URL")
)

// APIError is a non-2xx answer from the SBOMer API.
type APIError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Message)
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
	}

	var payload struct {
		Error string `json:"error"`
	}
	switch {
	case len(data) == 0:
		apiErr.Message = http.StatusText(resp.StatusCode)
	case json.Unmarshal(data, &payload) == nil && payload.Error != "":
		apiErr.Message = payload.Error
	default:
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsRetryable reports whether a request failing with err may succeed later.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return false
}
