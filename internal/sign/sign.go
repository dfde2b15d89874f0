// Package sign implements the optional keyed-MAC envelope on outbound
// payloads: a millisecond send timestamp (_ts) plus a base64 HMAC-SHA256
// signature (_sig) over the JSON-serialized payload including _ts but
// excluding _sig. Verification enforces a bounded replay window.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Envelope field names.
const (
	SigField = "_sig"
	TSField  = "_ts"
)

// ReplayWindow is how far a signed payload's timestamp may drift from the
// verifier's clock before the payload is rejected.
const ReplayWindow = 10 * time.Minute

var (
	ErrMissingTimestamp = errors.New("signed payload missing timestamp")
	ErrStaleTimestamp   = errors.New("signature timestamp outside replay window")
	ErrBadSignature     = errors.New("signature mismatch")
)

// Signer signs and verifies payload envelopes with a shared secret.
// An empty secret disables signing: payloads pass through untouched and
// unsigned payloads verify successfully.
type Signer struct {
	secret string
}

// New returns a Signer for the given shared secret.
func New(secret string) *Signer {
	return &Signer{secret: secret}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool {
	return s.secret != ""
}

// Sign returns a copy of payload carrying _ts and _sig. Serialization
// uses encoding/json map ordering (sorted keys), which both sides of the
// contract recompute identically. A marshal failure degrades to the
// unsigned payload rather than dropping it.
func (s *Signer) Sign(payload map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	if !s.Enabled() {
		return out
	}

	out[TSField] = strconv.FormatInt(now.UnixMilli(), 10)
	data, err := json.Marshal(out)
	if err != nil {
		delete(out, TSField)
		return out
	}
	out[SigField] = s.mac(data)
	return out
}

// Verify checks a payload's envelope. Payloads without _sig are accepted
// as unsigned. Signed payloads must carry a parseable _ts within the
// replay window and a matching recomputed signature.
func (s *Signer) Verify(payload map[string]any, now time.Time) error {
	sig, signed := payload[SigField].(string)
	if !signed {
		return nil
	}

	tsStr, ok := payload[TSField].(string)
	if !ok {
		return ErrMissingTimestamp
	}
	tsMillis, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}
	drift := now.Sub(time.UnixMilli(tsMillis))
	if drift < -ReplayWindow || drift > ReplayWindow {
		return ErrStaleTimestamp
	}

	base := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == SigField {
			continue
		}
		base[k] = v
	}
	data, err := json.Marshal(base)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(s.mac(data)), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Signer) mac(data []byte) string {
	h := hmac.New(sha256.New, []byte(s.secret))
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
