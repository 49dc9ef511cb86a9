// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client for calls to the match service. Each call is
// additionally bounded by its context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
