package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-signing-secret"

func packedRequest(t *testing.T, secret, lineID, caseID string, ts int64) (p, tsStr, sig string) {
	t.Helper()
	payload := fmt.Sprintf("%s|%s|%d", lineID, caseID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(payload)),
		fmt.Sprintf("%d", ts),
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyPackedValid(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()
	p, ts, sig := packedRequest(t, testSecret, "U-abc", "0001", now.Unix())

	id, err := gate.VerifyPacked(p, ts, sig, now)
	require.NoError(t, err)
	assert.Equal(t, "U-abc", id.LineID)
	assert.Equal(t, "0001", id.CaseID)
	assert.Equal(t, now.Unix(), id.Timestamp)
}

func TestVerifyPackedPaddedEncoding(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()
	p, ts, sig := packedRequest(t, testSecret, "U-abc", "0001", now.Unix())

	// Padded variants of both payload and signature are accepted
	id, err := gate.VerifyPacked(p+"==", ts, sig+"=", now)
	require.NoError(t, err)
	assert.Equal(t, "U-abc", id.LineID)
}

func TestVerifyPackedBitFlip(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()

	// Flipping any single character of the signature must fail verification
	p, ts, sig := packedRequest(t, testSecret, "U-abc", "0001", now.Unix())
	for i := 0; i < len(sig); i++ {
		altered := []byte(sig)
		if altered[i] == 'A' {
			altered[i] = 'B'
		} else {
			altered[i] = 'A'
		}
		_, err := gate.VerifyPacked(p, ts, string(altered), now)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr, "position %d", i)
	}

	// Tampering with the payload fails too
	p2, ts2, sig2 := packedRequest(t, testSecret, "U-abc", "0001", now.Unix())
	tampered, _, _ := packedRequest(t, testSecret, "U-evil", "0001", now.Unix())
	_ = ts2
	_, err := gate.VerifyPacked(tampered, ts2, sig2, now)
	assert.Error(t, err)
	_, err = gate.VerifyPacked(p2, ts2, sig2, now)
	assert.NoError(t, err)
}

func TestVerifyPackedTimestampMismatch(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()
	p, _, sig := packedRequest(t, testSecret, "U-abc", "0001", now.Unix())

	_, err := gate.VerifyPacked(p, fmt.Sprintf("%d", now.Unix()+1), sig, now)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ts_mismatch", authErr.Code)
}

func TestVerifyPackedSkew(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()

	// 700 seconds in the past is outside the window
	stale := now.Add(-700 * time.Second).Unix()
	p, ts, sig := packedRequest(t, testSecret, "U-abc", "0001", stale)
	_, err := gate.VerifyPacked(p, ts, sig, now)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ts_skew", authErr.Code)

	// 700 seconds in the future is rejected too
	future := now.Add(700 * time.Second).Unix()
	p, ts, sig = packedRequest(t, testSecret, "U-abc", "0001", future)
	_, err = gate.VerifyPacked(p, ts, sig, now)
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "ts_skew", authErr.Code)

	// 599 seconds is still inside
	ok := now.Add(-599 * time.Second).Unix()
	p, ts, sig = packedRequest(t, testSecret, "U-abc", "0001", ok)
	_, err = gate.VerifyPacked(p, ts, sig, now)
	assert.NoError(t, err)
}

func TestVerifyFlatAcceptsBothEncodings(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()
	ts := fmt.Sprintf("%d", now.Unix())

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("U-abc|" + ts))
	digest := mac.Sum(nil)

	_, err := gate.VerifyFlat("U-abc", ts, base64.RawURLEncoding.EncodeToString(digest), now)
	assert.NoError(t, err)

	_, err = gate.VerifyFlat("U-abc", ts, hex.EncodeToString(digest), now)
	assert.NoError(t, err)

	_, err = gate.VerifyFlat("U-abc", ts, "deadbeef", now)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid sig", authErr.Code)
}

func TestPackPayloadRoundTrip(t *testing.T) {
	gate := NewAuthGate(testSecret)
	now := time.Now()

	p, sig := gate.PackPayload("U-xyz", "0042", now.Unix())
	id, err := gate.VerifyPacked(p, fmt.Sprintf("%d", now.Unix()), sig, now)
	require.NoError(t, err)
	assert.Equal(t, "U-xyz", id.LineID)
	assert.Equal(t, "0042", id.CaseID)
}
