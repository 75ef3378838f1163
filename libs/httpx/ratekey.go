package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

// KeyFunc names the bucket a request is counted in.
type KeyFunc func(*http.Request) string

// maxScopeBody bounds how much of a POST body is read to find its business id.
const maxScopeBody = 64 << 10

// maxScopeLen caps the business id folded into a limiter key.
const maxScopeLen = 64

// ClientKey buckets by client address, preferring the first X-Forwarded-For hop.
func ClientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// BusinessClientKey buckets by business and client, so a burst against one store does
// not exhaust the client's budget for another. The business comes from X-Business-Id,
// the business_id query parameter or, for POST, the business_id field of a JSON body.
// Requests without one fall back to ClientKey.
func BusinessClientKey(r *http.Request) string {
	client := ClientKey(r)
	if biz := businessScope(r); biz != "" {
		return biz + ":" + client
	}
	return client
}

func businessScope(r *http.Request) string {
	for _, v := range []string{r.Header.Get("X-Business-Id"), r.URL.Query().Get("business_id")} {
		if v = strings.TrimSpace(v); v != "" {
			return validScope(v)
		}
	}
	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxScopeBody+1))
	// The handler still sees the whole body.
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil || len(head) > maxScopeBody {
		return ""
	}
	var payload struct {
		BusinessID string `json:"business_id"`
	}
	if json.Unmarshal(head, &payload) != nil {
		return ""
	}
	return validScope(strings.TrimSpace(payload.BusinessID))
}

func validScope(v string) string {
	if len(v) > maxScopeLen || !ValidRequestID(v) {
		return ""
	}
	return v
}
