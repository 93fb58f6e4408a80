package snapshot

import (
	"encoding/base64"
	"strings"
)

// BasicAuthHeader builds the Authorization header value for a credential.
// A raw "user:password" pair is encoded; anything else is taken as an already
// encoded token. An empty credential yields an empty header.
func BasicAuthHeader(credential string) string {
	raw := strings.TrimSpace(credential)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, ":") {
		raw = base64.StdEncoding.EncodeToString([]byte(raw))
	}
	return "Basic " + raw
}
