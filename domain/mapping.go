package domain

import (
	"fmt"
	"time"
)

// Kind tells statuses and accounts apart in mappings and synthetic ids
type Kind string

const (
	KindStatus  Kind = "s"
	KindAccount Kind = "a"
)

// MappingData is an identity record that has not been persisted yet.
// "Local" and "remote" are always seen from LocalHost: every instance keeps
// its own id for every entity it knows, so a foreign post seen on the home
// instance has a local id there and a remote id on its origin.
type MappingData struct {
	Kind       Kind   `json:"kind,omitempty"`
	URI        string `json:"uri,omitempty"`
	LocalHost  string `json:"localHost"`
	LocalID    string `json:"localId,omitempty"`
	RemoteHost string `json:"remoteHost,omitempty"`
	RemoteID   string `json:"remoteId,omitempty"`
	// ResolvedID is the origin's native id when it differs from RemoteID
	ResolvedID string `json:"resolvedId,omitempty"`
}

func (m MappingData) IsLocal() bool {
	return m.LocalID != ""
}

func (m MappingData) IsRemote() bool {
	return m.RemoteHost != "" && m.RemoteID != ""
}

func (m MappingData) IsFull() bool {
	return m.IsLocal() && m.IsRemote()
}

// LocalKey returns "localHost:localId", or "" for a mapping without a local id
func (m MappingData) LocalKey() string {
	if !m.IsLocal() {
		return ""
	}
	return LocalKey(m.LocalHost, m.LocalID)
}

// RemoteKey returns "localHost:remoteHost:remoteId", or "" for a mapping
// without a remote identity
func (m MappingData) RemoteKey() string {
	if !m.IsRemote() {
		return ""
	}
	return RemoteKey(m.LocalHost, m.RemoteHost, m.RemoteID)
}

func LocalKey(localHost, localID string) string {
	return fmt.Sprintf("%s:%s", localHost, localID)
}

func RemoteKey(localHost, remoteHost, remoteID string) string {
	return fmt.Sprintf("%s:%s:%s", localHost, remoteHost, remoteID)
}

// Mapping is a persisted MappingData
type Mapping struct {
	MappingData
	UpdatedAt time.Time `json:"updatedAt"`
}

// StatusMapping carries what is needed to re-derive a resolve query
// when the canonical URI is missing, and the identity of a boosted post.
type StatusMapping struct {
	Mapping
	AuthorUsername string   `json:"authorUsername,omitempty"`
	Boosted        *Mapping `json:"boosted,omitempty"`
}

type AccountMapping struct {
	Mapping
	FollowedSince *time.Time `json:"followedSince,omitempty"`
}

func (m *StatusMapping) ToString() string {
	return fmt.Sprintf("\n\tLocalKey: %s \n\tRemoteKey: %s \n\tURI: %s \n\tUpdatedAt: %s", m.LocalKey(), m.RemoteKey(), m.URI, m.UpdatedAt)
}

func (m *AccountMapping) ToString() string {
	return fmt.Sprintf("\n\tLocalKey: %s \n\tRemoteKey: %s \n\tUpdatedAt: %s", m.LocalKey(), m.RemoteKey(), m.UpdatedAt)
}
