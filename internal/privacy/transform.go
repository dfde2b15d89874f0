// Package privacy implements the policy pipeline applied to activity
// records before they leave the process: origin-only URL truncation,
// title omission, and one-way URL anonymization.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	"github.com/runnerr0/nobletrack/internal/record"
)

// Policy holds the enabled privacy transforms.
type Policy struct {
	DomainOnly    bool
	AnonymizeURLs bool
	OmitTitles    bool
}

// Apply runs the enqueue-time transforms on a record, in order: origin
// collapse, title omission, anonymization marking. The hash itself is
// deferred to flush time via HashPending so enqueueing stays cheap.
// Apply is called exactly once per record, at enqueue time.
func (p Policy) Apply(rec record.ActivityRecord) record.ActivityRecord {
	if p.DomainOnly {
		if u, err := url.Parse(rec.URL); err == nil && u.Scheme != "" && u.Host != "" {
			rec.URL = u.Scheme + "://" + u.Host
		}
	}
	if p.OmitTitles {
		rec.Title = ""
	}
	if p.AnonymizeURLs {
		rec.HashState = record.HashPending
	}
	return rec
}

// ResolveHash replaces a pending record's URL with the hex-encoded
// SHA-256 of its current value. Records not marked pending pass through
// untouched, so resolution is idempotent.
func ResolveHash(rec record.ActivityRecord) record.ActivityRecord {
	if rec.HashState != record.HashPending {
		return rec
	}
	rec.URL = HashURL(rec.URL)
	rec.HashState = record.HashDone
	return rec
}

// HashURL returns the hex-encoded SHA-256 digest of value.
func HashURL(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CapturableURL reports whether a URL is eligible for activity logging:
// parseable with an http or https scheme. Browser-internal and file
// schemes are never captured.
func CapturableURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
