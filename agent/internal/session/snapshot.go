package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/mod/semver"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
)

// SnapshotVersion is written into every persisted snapshot. Snapshots with a
// different major version are discarded on load.
const SnapshotVersion = "v1.0.0"

// ErrUnsupportedSnapshot is returned for snapshots this agent cannot read
var ErrUnsupportedSnapshot = errors.New("unsupported session snapshot")

// Snapshot is the durable form of the session cache
type Snapshot struct {
	Version         string         `json:"version"`
	User            *api.Principal `json:"user,omitempty"`
	UserType        string         `json:"userType,omitempty"`
	Token           string         `json:"token,omitempty"`
	RefreshToken    string         `json:"refreshToken,omitempty"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	// SessionExpiry is the access credential expiry in Unix milliseconds
	SessionExpiry *int64 `json:"sessionExpiry,omitempty"`
}

// Expiry returns the session expiry and whether one is set
func (s *Snapshot) Expiry() (time.Time, bool) {
	if s == nil || s.SessionExpiry == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.SessionExpiry), true
}

func (s *Snapshot) setExpiry(at time.Time) {
	ms := at.UnixMilli()
	s.SessionExpiry = &ms
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.SessionExpiry != nil {
		ms := *s.SessionExpiry
		out.SessionExpiry = &ms
	}
	return &out
}

func encodeSnapshot(s *Snapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}

func decodeSnapshot(data string) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSnapshot, err)
	}
	if !semver.IsValid(s.Version) || semver.Major(s.Version) != semver.Major(SnapshotVersion) {
		return nil, fmt.Errorf("%w: version %q", ErrUnsupportedSnapshot, s.Version)
	}
	return &s, nil
}
