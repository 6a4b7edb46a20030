// Package metadata encodes and decodes SessionMetadata, the small JSON
// document the orchestrator stashes inside a compose's description field
// (spec.md §3, §4.4). Canonicalizing the JSON before it round-trips
// through the platform keeps repeated writes of logically-identical
// metadata byte-identical, the same property gowebpki/jcs gives
// internal/token's signed claims.
package metadata

import (
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"
)

// Prefix is the sentinel that marks a compose description as owned by
// this system. A compose without it is not ours to touch.
const Prefix = "BOLT_RUNTIME:"

// SchemaVersion is the only metadata schema version this build parses.
const SchemaVersion = 1

// Cohort is the rollout cohort a session's compose is pinned to.
type Cohort string

const (
	CohortStable Cohort = "stable"
	CohortCanary Cohort = "canary"
)

// SessionMetadata is the payload serialized into the compose description.
type SessionMetadata struct {
	Version    int    `json:"v"`
	ActorID    string `json:"actorId"`
	ChatID     string `json:"chatId"`
	CreatedAt  int64  `json:"createdAt"`
	LastSeenAt int64  `json:"lastSeenAt"`
	IdleTTLSec int64  `json:"idleTtlSec"`
	Cohort     Cohort `json:"rolloutCohort,omitempty"`
}

// Format serializes m as "BOLT_RUNTIME:<canonical json>". Canonicalizing
// (RFC 8785, via gowebpki/jcs) means two calls with equal field values
// always produce the same description string, which keeps compose
// description diffs quiet across repeated heartbeats that don't actually
// change anything but lastSeenAt.
func Format(m SessionMetadata) (string, error) {
	m.Version = SchemaVersion
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return Prefix + string(canonical), nil
}

// Parse returns (nil, false) whenever desc is not a metadata slot this
// system owns: missing prefix, invalid JSON, unsupported schema version,
// or missing actor/chat, per spec.md §4.4.
func Parse(desc string) (*SessionMetadata, bool) {
	if !strings.HasPrefix(desc, Prefix) {
		return nil, false
	}
	body := strings.TrimPrefix(desc, Prefix)

	var m SessionMetadata
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, false
	}
	if m.Version != SchemaVersion {
		return nil, false
	}
	if m.ActorID == "" || m.ChatID == "" {
		return nil, false
	}
	return &m, true
}
