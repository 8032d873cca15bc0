package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// MaxTimestampSkew bounds how stale a signed request may be, in either
// direction, before it is rejected as a replay.
const MaxTimestampSkew = 600 * time.Second

// AuthGate verifies signed inbound requests. Two protocol versions exist:
// the packed form signs `lineId|caseId|timestamp` carried base64url-encoded
// in one parameter, the older flat form signs `lineId|ts` directly.
// Failures are terminal per request.
type AuthGate struct {
	secret string
}

// NewAuthGate creates a gate bound to the shared signing secret.
func NewAuthGate(secret string) *AuthGate {
	return &AuthGate{secret: secret}
}

// Identity is the verified subject of a signed request.
type Identity struct {
	LineID    string
	CaseID    string
	Timestamp int64
}

// VerifyPacked checks the packed protocol: p carries the base64url payload
// `lineId|caseId|timestamp`, ts and sig accompany it. The embedded timestamp
// must agree with ts, the signature must match, and ts must be within
// MaxTimestampSkew of now.
func (g *AuthGate) VerifyPacked(p, ts, sig string, now time.Time) (*Identity, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p, "="))
	if err != nil {
		log.Printf("[WARNING] packed payload not decodable (p=%s)", redact(p))
		return nil, &AuthError{Code: "bad_sig", Detail: "payload not decodable"}
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		log.Printf("[WARNING] packed payload malformed (p=%s)", redact(p))
		return nil, &AuthError{Code: "bad_sig", Detail: "payload malformed"}
	}
	lineID, caseID, embeddedTS := parts[0], parts[1], parts[2]

	if embeddedTS != ts {
		log.Printf("[WARNING] embedded timestamp disagrees with ts parameter (line=%s)", redact(lineID))
		return nil, &AuthError{Code: "ts_mismatch"}
	}

	expected := g.signBase64(string(raw))
	if !hmac.Equal([]byte(strings.TrimRight(sig, "=")), []byte(expected)) {
		log.Printf("[WARNING] packed signature rejected (sig=%s want=%s)", redact(sig), redact(expected))
		return nil, &AuthError{Code: "bad_sig"}
	}

	tsVal, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, &AuthError{Code: "ts_skew", Detail: "timestamp not numeric"}
	}
	if err := checkSkew(tsVal, now); err != nil {
		return nil, err
	}

	return &Identity{LineID: lineID, CaseID: caseID, Timestamp: tsVal}, nil
}

// VerifyFlat checks the older flat protocol over base `lineId|ts`. The
// client-supplied signature may be either the base64url or the hex encoding
// of the digest.
func (g *AuthGate) VerifyFlat(lineID, ts, sig string, now time.Time) (*Identity, error) {
	base := lineID + "|" + ts
	digest := g.sign(base)

	b64 := base64.RawURLEncoding.EncodeToString(digest)
	hexd := hex.EncodeToString(digest)
	trimmed := strings.TrimRight(sig, "=")
	if trimmed != b64 && !strings.EqualFold(sig, hexd) {
		log.Printf("[WARNING] flat signature rejected (line=%s sig=%s)", redact(lineID), redact(sig))
		return nil, &AuthError{Code: "invalid sig"}
	}

	tsVal, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, &AuthError{Code: "ts_skew", Detail: "timestamp not numeric"}
	}
	if err := checkSkew(tsVal, now); err != nil {
		return nil, err
	}

	return &Identity{LineID: lineID, Timestamp: tsVal}, nil
}

// PackPayload builds and signs a packed payload. Used by tests and by
// outbound links handed to the form service.
func (g *AuthGate) PackPayload(lineID, caseID string, ts int64) (p, sig string) {
	payload := fmt.Sprintf("%s|%s|%d", lineID, caseID, ts)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)), g.signBase64(payload)
}

func (g *AuthGate) sign(payload string) []byte {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func (g *AuthGate) signBase64(payload string) string {
	return base64.RawURLEncoding.EncodeToString(g.sign(payload))
}

func checkSkew(ts int64, now time.Time) error {
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxTimestampSkew {
		log.Printf("[WARNING] timestamp outside allowed window (skew=%ds)", skew)
		return &AuthError{Code: "ts_skew"}
	}
	return nil
}
