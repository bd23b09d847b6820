package backpack

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
)

// DefaultWindowMs is the validity window sent with every signed request.
const DefaultWindowMs int64 = 5000

// Signer produces ed25519 signatures over the canonical request string.
type Signer struct {
	apiKey   string
	key      ed25519.PrivateKey
	windowMs int64
	now      func() time.Time
}

// NewSigner validates the key pair. apiKey is the base64 public key and
// secret the base64 32-byte seed (a 64-byte private key is also accepted).
func NewSigner(apiKey, secret string, windowMs int64) (*Signer, error) {
	if apiKey == "" || secret == "" {
		return nil, fmt.Errorf("backpack: api key and secret are required: %w", interfaces.ErrMissingCredentials)
	}
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("backpack: decode secret: %w", err)
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("backpack: secret must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	pub := base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey))
	if pub != apiKey {
		return nil, fmt.Errorf("backpack: api key does not match secret: %w", interfaces.ErrInvalidConfiguration)
	}

	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}
	return &Signer{apiKey: apiKey, key: key, windowMs: windowMs, now: time.Now}, nil
}

// CanonicalString builds instruction=X&k=v...&timestamp=T&window=W with
// params sorted by key. nil and empty-string values are skipped.
func CanonicalString(instruction string, params map[string]any, timestampMs, windowMs int64) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("instruction=")
	b.WriteString(instruction)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatParam(params[k]))
	}
	b.WriteString("&timestamp=")
	b.WriteString(strconv.FormatInt(timestampMs, 10))
	b.WriteString("&window=")
	b.WriteString(strconv.FormatInt(windowMs, 10))
	return b.String()
}

func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Sign returns the signature for the given canonical string, base64 encoded.
func (s *Signer) Sign(message string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, []byte(message)))
}

// Headers signs instruction+params at the current time and returns the auth headers.
func (s *Signer) Headers(instruction string, params map[string]any) map[string]string {
	ts := s.now().UnixMilli()
	msg := CanonicalString(instruction, params, ts, s.windowMs)
	return map[string]string{
		"X-API-Key":   s.apiKey,
		"X-Signature": s.Sign(msg),
		"X-Timestamp": strconv.FormatInt(ts, 10),
		"X-Window":    strconv.FormatInt(s.windowMs, 10),
	}
}
