package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// NetworkError is a transport failure: the request never produced an HTTP
// response, or the call ran past its timeout.
type NetworkError struct {
	Method  string
	URL     string
	Err     error
	timeout bool
}

func (e *NetworkError) Error() string {
	if e.timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed because it ran out of time
func (e *NetworkError) Timeout() bool { return e.timeout }

// RemoteError is a non-2xx response from the remote service
type RemoteError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by a RemoteError anywhere in
// the chain
func StatusCode(err error) (int, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 from the remote service
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusNotFound
}

func newNetworkError(method, url string, err error) *NetworkError {
	return &NetworkError{Method: method, URL: url, Err: err, timeout: isTimeout(err)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func newRemoteError(method, url string, status int, body []byte) *RemoteError {
	return &RemoteError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Message:    remoteMessage(status, body),
	}
}

const maxMessageBytes = 256

// remoteMessage prefers a JSON message or error field, then the raw body,
// then the status text
func remoteMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return truncate(msg, maxMessageBytes)
	}
	return http.StatusText(status)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
