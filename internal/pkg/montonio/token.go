package montonio

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Typed verification failures. Verification errors are terminal: they are
// surfaced as 401 to the caller and never retried.
var (
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrSignatureMismatch  = errors.New("token signature mismatch")
	ErrTokenExpired       = errors.New("token expired")
)

var tokenHeader = mustEncodeSegment(map[string]string{"alg": "HS256", "typ": "JWT"})

// SignToken produces a compact HS256 token over the given claims. The same
// scheme authenticates this service to Montonio and Montonio's webhook
// callbacks to this service.
func SignToken(claims map[string]interface{}, secret string) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := tokenHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signingInput + "." + signSegment(signingInput, secret), nil
}

// VerifyToken validates a compact HS256 token and returns its decoded claims.
// The signature comparison is constant time; an expired `exp` claim (Unix
// seconds) fails with ErrTokenExpired.
func VerifyToken(token, secret string) (map[string]interface{}, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidTokenFormat
	}

	signingInput := parts[0] + "." + parts[1]
	supplied, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidTokenFormat
	}
	expected := hmacSHA256([]byte(signingInput), secret)
	if !hmac.Equal(expected, supplied) {
		return nil, ErrSignatureMismatch
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidTokenFormat
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidTokenFormat
	}

	if exp, ok := claims["exp"]; ok {
		expUnix, ok := numericClaim(exp)
		if !ok {
			return nil, ErrInvalidTokenFormat
		}
		if time.Now().Unix() >= expUnix {
			return nil, ErrTokenExpired
		}
	}

	return claims, nil
}

func signSegment(signingInput, secret string) string {
	return base64.RawURLEncoding.EncodeToString(hmacSHA256([]byte(signingInput), secret))
}

func hmacSHA256(data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}

func numericClaim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func mustEncodeSegment(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(data)
}
