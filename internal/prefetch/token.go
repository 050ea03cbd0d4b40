package prefetch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// tokenKind scopes the HMAC so a prefetch token cannot be reused as a token
// for some other signed-identity scheme this process might grow later.
const tokenKind = "prefetch-v1"

var (
	errTokenMalformed = errors.New("prefetch: malformed token")
	errTokenSignature = errors.New("prefetch: token signature mismatch")
	errTokenExpired   = errors.New("prefetch: token expired")
	errTokenTraversal = errors.New("prefetch: token identifier is not a bare filename")
)

// signToken produces a short-lived token binding ident (the on-disk record
// filename) to an expiry, signed with secret so it cannot be forged and does
// not survive a secret rotation or process restart without a stable secret.
func signToken(secret []byte, ident string, ttl time.Duration) string {
	expiry := time.Now().Add(ttl).UnixNano()
	payload := tokenKind + "|" + ident + "|" + strconv.FormatInt(expiry, 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)

	return b64(payload) + "." + b64(string(sig))
}

// verifyToken checks signature and expiry and returns the bound identifier.
// It rejects identifiers that are not bare filenames, defending against a
// token whose payload was tampered with to point outside the queue directory.
func verifyToken(secret []byte, token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", errTokenMalformed
	}
	payload, err := unb64(parts[0])
	if err != nil {
		return "", errTokenMalformed
	}
	sig, err := unb64(parts[1])
	if err != nil {
		return "", errTokenMalformed
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	want := mac.Sum(nil)
	if !hmac.Equal(want, sig) {
		return "", errTokenSignature
	}

	fields := strings.SplitN(string(payload), "|", 3)
	if len(fields) != 3 || fields[0] != tokenKind {
		return "", errTokenMalformed
	}
	ident := fields[1]
	expiry, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", errTokenMalformed
	}
	if time.Now().UnixNano() > expiry {
		return "", errTokenExpired
	}
	if strings.ContainsAny(ident, "/\\") || strings.Contains(ident, "..") || ident == "" {
		return "", errTokenTraversal
	}
	return ident, nil
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func unb64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
