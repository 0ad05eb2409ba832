package signature_test

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/finbooks/resilience/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret(t *testing.T) {
	t.Run("generated secrets carry the whsec_ prefix and round-trip", func(t *testing.T) {
		secret, err := signature.GenerateSecret()
		require.NoError(t, err)

		encoded := secret.String()
		assert.True(t, strings.HasPrefix(encoded, signature.SecretPrefix))

		parsed, err := signature.ParseSecret(encoded)
		require.NoError(t, err)
		assert.Equal(t, encoded, parsed.String())
	})

	t.Run("generated secrets are unique", func(t *testing.T) {
		a, err := signature.GenerateSecret()
		require.NoError(t, err)
		b, err := signature.GenerateSecret()
		require.NoError(t, err)
		assert.NotEqual(t, a.String(), b.String())
	})

	t.Run("rejects secrets without the prefix", func(t *testing.T) {
		_, err := signature.ParseSecret("c2VjcmV0")
		assert.Error(t, err)
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		_, err := signature.ParseSecret("whsec_!!!not-base64!!!")
		assert.Error(t, err)
	})
}

func TestSignVerify(t *testing.T) {
	secret, err := signature.GenerateSecret()
	require.NoError(t, err)

	msgID := "evt-42"
	timestamp := time.Now()
	payload := []byte(`{"id":"evt-42","type":"invoice.paid"}`)

	t.Run("a valid signature verifies", func(t *testing.T) {
		sig, err := signature.Sign(secret, msgID, timestamp, payload)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sig, "v1,"))

		valid, err := signature.Verify(secret, msgID, timestamp, payload, sig)
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("a tampered payload fails verification", func(t *testing.T) {
		sig, err := signature.Sign(secret, msgID, timestamp, payload)
		require.NoError(t, err)

		valid, err := signature.Verify(secret, msgID, timestamp, []byte(`{"tampered":true}`), sig)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("a different secret fails verification", func(t *testing.T) {
		sig, err := signature.Sign(secret, msgID, timestamp, payload)
		require.NoError(t, err)

		other, err := signature.GenerateSecret()
		require.NoError(t, err)

		valid, err := signature.Verify(other, msgID, timestamp, payload, sig)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("rejects message ids containing a dot", func(t *testing.T) {
		_, err := signature.Sign(secret, "evt.42", timestamp, payload)
		assert.Error(t, err)
	})

	t.Run("rejects unsupported signature versions", func(t *testing.T) {
		_, err := signature.Verify(secret, msgID, timestamp, payload, "v2,abc")
		assert.Error(t, err)
	})
}

func TestSetHeaders(t *testing.T) {
	secret, err := signature.GenerateSecret()
	require.NoError(t, err)

	payload := []byte(`{"id":"evt-1"}`)
	now := time.Now()

	h := make(http.Header)
	require.NoError(t, signature.SetHeaders(h, secret, "evt-1", now, payload))

	assert.Equal(t, "evt-1", h.Get(signature.HeaderID))
	assert.Equal(t, strconv.FormatInt(now.Unix(), 10), h.Get(signature.HeaderTimestamp))

	valid, err := signature.Verify(secret, "evt-1", now, payload, h.Get(signature.HeaderSignature))
	require.NoError(t, err)
	assert.True(t, valid)
}
