package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks an X-Hub-Signature-256 style header against the
// given secret. The HMAC is computed over the exact raw request bytes;
// re-serialized JSON is not guaranteed to be byte-identical to what was
// signed. Returns false on any missing or malformed input.
func VerifySignature(body []byte, headerSignature, secret string) bool {
	if headerSignature == "" || secret == "" {
		return false
	}

	hexSig := strings.TrimPrefix(headerSignature, signaturePrefix)
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignBody computes the signature header value the upstream host would send
// for the given body and secret.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
