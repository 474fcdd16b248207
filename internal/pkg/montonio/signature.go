package montonio

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignBody computes the base64-encoded HMAC-SHA256 digest of a raw webhook
// body. Used by tests and by Montonio's signature-header delivery variant.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyBodySignature checks a header-supplied signature against the exact
// request body bytes. Comparison happens on the raw digest in constant time.
func VerifyBodySignature(body []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	supplied, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), supplied)
}
