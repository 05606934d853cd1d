package errx

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxBodySnippet bounds how much of an upstream error body is kept.
const maxBodySnippet = 300

// WrapUpstream wraps a transport failure of an external provider.
func WrapUpstream(provider string, err error) error {
	if err == nil {
		return nil
	}
	return New(fmt.Errorf("%s: %w", provider, err), http.StatusBadGateway, UpstreamErrorMessage)
}

// UpstreamStatus builds an AppError for a non-2xx upstream response.
func UpstreamStatus(provider string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxBodySnippet {
		n := maxBodySnippet
		for n > 0 && !utf8.RuneStart(snippet[n]) {
			n--
		}
		snippet = snippet[:n] + "..."
	}
	return New(fmt.Errorf("%s returned %d %s: %s", provider, status, http.StatusText(status), snippet), status, UpstreamErrorMessage)
}

// Malformed wraps a decoding failure of an upstream payload.
func Malformed(provider string, err error) error {
	return New(fmt.Errorf("%s: %w", provider, err), http.StatusBadGateway, MalformedPayloadMessage)
}
