// Package identity carries caller identity through request contexts and
// normalizes the identifiers the conversational engine sends.
package identity

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

type contextKey int

const subjectKey contextKey = iota

const maxSenderIDLen = 128

// WithSubject stores the authenticated token subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext extracts the authenticated token subject.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(subjectKey).(string); ok {
		return v
	}
	return ""
}

// SanitizeSenderID trims id and reports whether it is a usable sender id.
// Channel ids such as "whatsapp:+573001234567" are accepted as-is; only
// control characters and "/" are refused, along with ids over 128 bytes.
func SanitizeSenderID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxSenderIDLen || !utf8.ValidString(id) {
		return "", false
	}
	if strings.ContainsFunc(id, func(r rune) bool { return r == '/' || unicode.IsControl(r) }) {
		return "", false
	}
	return id, true
}

// SenderIDFromPath sanitizes a sender id taken from a URL path segment. The
// router hands over the raw segment only when the path carried escapes it
// could not decode losslessly, so a segment that fails to unescape is taken
// literally.
func SenderIDFromPath(segment string) (string, bool) {
	if id, err := url.PathUnescape(segment); err == nil {
		segment = id
	}
	return SanitizeSenderID(segment)
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
