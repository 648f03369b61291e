// Package signature authenticates inbound webhook deliveries.
//
// Every source signs a canonical string assembled from its shared secret, the delivery
// timestamp and the raw body, in a source-specific order. The verifier recomputes the HMAC,
// compares it in constant time and rejects timestamps outside the replay window.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"taxrelay.app/relay/internal/ruleset"
)

var (
	ErrExpired        = errors.New("signature timestamp outside validity window")
	ErrMismatch       = errors.New("signature mismatch")
	ErrMissingHeaders = errors.New("signature or timestamp header missing")
)

const DefaultValidityWindow = 5 * time.Minute

type Verifier struct {
	validityWindow time.Duration
	now            func() time.Time
}

func NewVerifier(validityWindow time.Duration) *Verifier {
	if validityWindow <= 0 {
		validityWindow = DefaultValidityWindow
	}
	return &Verifier{validityWindow: validityWindow, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks that payload was signed by the holder of src's secret at claimedTimestamp.
// It returns nil, or an error wrapping ErrMissingHeaders, ErrExpired or ErrMismatch.
// The timestamp is used verbatim in the canonical string, so it must be the raw header value.
func (v *Verifier) Verify(src ruleset.Source, payload []byte, claimedSignature, claimedTimestamp string) error {
	if claimedSignature == "" || claimedTimestamp == "" {
		return ErrMissingHeaders
	}

	ts, err := ParseTimestamp(claimedTimestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}

	skew := v.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.validityWindow {
		return fmt.Errorf("%w: skew %s exceeds %s", ErrExpired, skew.Truncate(time.Second), v.validityWindow)
	}

	claimed, err := decodeSignature(src, claimedSignature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}

	expected, err := computeMAC(src, payload, claimedTimestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMismatch, err)
	}

	if !hmac.Equal(expected, claimed) {
		return ErrMismatch
	}
	return nil
}

// Sign produces the header value src would send for payload at timestamp.
func Sign(src ruleset.Source, payload []byte, timestamp string) (string, error) {
	mac, err := computeMAC(src, payload, timestamp)
	if err != nil {
		return "", err
	}
	var encoded string
	switch src.Encoding {
	case ruleset.EncodingBase64:
		encoded = base64.StdEncoding.EncodeToString(mac)
	default:
		encoded = hex.EncodeToString(mac)
	}
	return src.SignaturePrefix + encoded, nil
}

// Reason maps a verification error onto a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMissingHeaders):
		return "missing_headers"
	default:
		return "mismatch"
	}
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
	}
	return t, nil
}

func computeMAC(src ruleset.Source, payload []byte, timestamp string) ([]byte, error) {
	newHash, err := hashFor(src.Algorithm)
	if err != nil {
		return nil, err
	}
	if len(src.Secret) == 0 {
		return nil, errors.New("empty shared secret")
	}

	mac := hmac.New(newHash, src.Secret)
	writeCanonical(mac, src.Canonical, src.Secret, timestamp, payload)
	return mac.Sum(nil), nil
}

// writeCanonical streams the canonical template into w, substituting placeholders.
// Substituted values are never rescanned, so a payload containing "{secret}" stays literal.
func writeCanonical(w hash.Hash, template string, secret []byte, timestamp string, payload []byte) {
	rest := template
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			w.Write([]byte(rest))
			return
		}
		w.Write([]byte(rest[:open]))
		rest = rest[open:]

		switch {
		case strings.HasPrefix(rest, "{payload}"):
			w.Write(payload)
			rest = rest[len("{payload}"):]
		case strings.HasPrefix(rest, "{timestamp}"):
			w.Write([]byte(timestamp))
			rest = rest[len("{timestamp}"):]
		case strings.HasPrefix(rest, "{secret}"):
			w.Write(secret)
			rest = rest[len("{secret}"):]
		default:
			w.Write([]byte{'{'})
			rest = rest[1:]
		}
	}
}

func decodeSignature(src ruleset.Source, claimed string) ([]byte, error) {
	claimed = strings.TrimSpace(claimed)
	if src.SignaturePrefix != "" {
		var ok bool
		claimed, ok = strings.CutPrefix(claimed, src.SignaturePrefix)
		if !ok {
			return nil, fmt.Errorf("missing %q prefix", src.SignaturePrefix)
		}
	}

	switch src.Encoding {
	case ruleset.EncodingBase64:
		if b, err := base64.StdEncoding.DecodeString(claimed); err == nil {
			return b, nil
		}
		b, err := base64.URLEncoding.DecodeString(claimed)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 signature: %w", err)
		}
		return b, nil
	default:
		b, err := hex.DecodeString(claimed)
		if err != nil {
			return nil, fmt.Errorf("decoding hex signature: %w", err)
		}
		return b, nil
	}
}

func hashFor(algo ruleset.HashAlgorithm) (func() hash.Hash, error) {
	switch algo {
	case ruleset.SHA256:
		return sha256.New, nil
	case ruleset.SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algo)
	}
}
