package delta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// APIPrefix is always part of the signed path.
const APIPrefix = "/v2"

// SignedRequest is one signing attempt. A new one is built for every send.
type SignedRequest struct {
	Method    string
	Path      string // canonical, includes /v2 and any query string
	Body      string
	Timestamp int64
	Signature string
}

// Signer computes request signatures for one API secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign returns the lowercase hex HMAC-SHA256 of METHOD+TIMESTAMP+PATH+BODY.
func (s Signer) Sign(method string, timestamp int64, path, body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Prehash(method, timestamp, path, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Request builds a SignedRequest for the given attempt values.
func (s Signer) Request(method string, timestamp int64, path, body string) SignedRequest {
	method = strings.ToUpper(method)
	path = CanonicalPath(path)
	return SignedRequest{
		Method:    method,
		Path:      path,
		Body:      body,
		Timestamp: timestamp,
		Signature: s.Sign(method, timestamp, path, body),
	}
}

// Prehash is the exact string that gets signed.
func Prehash(method string, timestamp int64, path, body string) string {
	var b strings.Builder
	b.Grow(len(method) + 12 + len(path) + len(body))
	b.WriteString(strings.ToUpper(method))
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(path)
	b.WriteString(body)
	return b.String()
}

// CanonicalPath ensures a leading slash and the /v2 prefix.
func CanonicalPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path == APIPrefix || strings.HasPrefix(path, APIPrefix+"/") || strings.HasPrefix(path, APIPrefix+"?") {
		return path
	}
	return APIPrefix + path
}
