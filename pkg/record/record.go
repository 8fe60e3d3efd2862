// Package record defines the vulnerability record exchanged between the NVD
// client and the stores.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultEnvelopeKey is the key wrapping each record inside the
// vulnerabilities array of an NVD CVE API 2.0 response.
const DefaultEnvelopeKey = "cve"

// nvdTimeLayout is the layout the NVD uses for lastModified/published.
const nvdTimeLayout = "2006-01-02T15:04:05.000"

var (
	// ErrMissingEnvelope is returned when an entry lacks the envelope key.
	ErrMissingEnvelope = errors.New("record envelope missing")

	// ErrMissingID is returned when a record payload has no id.
	ErrMissingID = errors.New("record id missing")
)

// Record is one vulnerability entry. ID is the idempotency key for all
// writes; Payload is stored as received.
type Record struct {
	ID           string          `json:"id"`
	LastModified time.Time       `json:"last_modified"`
	Payload      json.RawMessage `json:"payload"`
}

// header holds the payload fields the sync engine needs to look at.
type header struct {
	ID           string `json:"id"`
	LastModified string `json:"lastModified"`
}

// Decode unwraps one vulnerabilities[] entry using envelopeKey.
func Decode(entry json.RawMessage, envelopeKey string) (Record, error) {
	if envelopeKey == "" {
		envelopeKey = DefaultEnvelopeKey
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(entry, &wrapped); err != nil {
		return Record{}, fmt.Errorf("unmarshal entry: %w", err)
	}

	payload, ok := wrapped[envelopeKey]
	if !ok || isNull(payload) {
		return Record{}, fmt.Errorf("%w: %q", ErrMissingEnvelope, envelopeKey)
	}

	var h header
	if err := json.Unmarshal(payload, &h); err != nil {
		return Record{}, fmt.Errorf("unmarshal record header: %w", err)
	}
	if h.ID == "" {
		return Record{}, ErrMissingID
	}

	modified, err := ParseTime(h.LastModified)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", h.ID, err)
	}

	return Record{
		ID:           h.ID,
		LastModified: modified,
		Payload:      payload,
	}, nil
}

// ParseTime accepts the NVD timestamp layout as well as RFC 3339. An empty
// string yields the zero time. Timestamps without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{nvdTimeLayout, "2006-01-02T15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}
