package backpack

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
)

func testKeys(t *testing.T) (apiKey, secret string, pub ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv.Seed()), pub
}

func TestCanonicalString(t *testing.T) {
	params := map[string]any{
		"symbol":     "SOL_USDC",
		"side":       "Bid",
		"quantity":   "1.5",
		"clientId":   uint32(42),
		"reduceOnly": true,
		"price":      "",
		"ignored":    nil,
	}
	got := CanonicalString("orderExecute", params, 1700000000000, 5000)
	assert.Equal(t,
		"instruction=orderExecute&clientId=42&quantity=1.5&reduceOnly=true&side=Bid&symbol=SOL_USDC&timestamp=1700000000000&window=5000",
		got)

	assert.Equal(t, "instruction=balanceQuery&timestamp=1&window=2", CanonicalString("balanceQuery", nil, 1, 2))
}

func TestSignerHeadersVerify(t *testing.T) {
	apiKey, secret, pub := testKeys(t)
	s, err := NewSigner(apiKey, secret, 0)
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	params := map[string]any{"symbol": "SOL_USDC"}
	h1 := s.Headers("orderQueryAll", params)
	h2 := s.Headers("orderQueryAll", params)
	assert.Equal(t, h1, h2, "same inputs at the same instant sign identically")

	assert.Equal(t, apiKey, h1["X-API-Key"])
	assert.Equal(t, "1700000000000", h1["X-Timestamp"])
	assert.Equal(t, "5000", h1["X-Window"])

	sig, err := base64.StdEncoding.DecodeString(h1["X-Signature"])
	require.NoError(t, err)
	msg := CanonicalString("orderQueryAll", params, 1700000000000, 5000)
	assert.True(t, ed25519.Verify(pub, []byte(msg), sig))

	// 时间戳变化, 签名串与签名都随之变化
	later := CanonicalString("orderQueryAll", params, 1700000000001, 5000)
	assert.NotEqual(t, msg, later)
	s.now = func() time.Time { return time.UnixMilli(1700000000001) }
	h3 := s.Headers("orderQueryAll", params)
	assert.Equal(t, "1700000000001", h3["X-Timestamp"])
	assert.NotEqual(t, h1["X-Signature"], h3["X-Signature"])
}

func TestNewSignerErrors(t *testing.T) {
	apiKey, secret, _ := testKeys(t)
	otherKey, _, _ := testKeys(t)

	tests := []struct {
		name    string
		apiKey  string
		secret  string
		wantErr error
	}{
		{"missing key", "", secret, interfaces.ErrMissingCredentials},
		{"missing secret", apiKey, "", interfaces.ErrMissingCredentials},
		{"mismatched pair", otherKey, secret, interfaces.ErrInvalidConfiguration},
		{"bad base64", apiKey, "not base64!", nil},
		{"short secret", apiKey, base64.StdEncoding.EncodeToString([]byte("short")), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.apiKey, tt.secret, 0)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
