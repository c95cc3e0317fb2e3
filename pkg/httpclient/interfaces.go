package httpclient

import (
	"context"
	"fmt"
)

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
	Header(name string) string
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// Downloader streams a URL to a file on disk. Implementations must not leave
// a partial file at dest when they return an error.
type Downloader interface {
	Download(ctx context.Context, url string, headers map[string]string, dest string) (int64, error)
}

// StatusError reports a non-2xx response on a request that otherwise
// completed. Callers use the code to decide whether a retry makes sense.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status suggests a later attempt could
// succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}
