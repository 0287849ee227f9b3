package domain

import "time"

// Pseudo status codes recorded when an instance probe never got an HTTP status
const (
	ErrCodeMalformed = 602
	ErrCodeNetwork   = 603
	ErrCodeTimeout   = 604
)

// InstanceRecord is the cached capability probe result for one remote server
type InstanceRecord struct {
	Host                  string     `json:"host"`
	LastCheckedAt         *time.Time `json:"lastCheckedAt,omitempty"`
	LastRequestAt         *time.Time `json:"lastRequestAt,omitempty"`
	IsOriginSoftwareKnown *bool      `json:"isOriginSoftwareKnown,omitempty"`
	IsCompatible          bool       `json:"isCompatible"`
	SoftwareName          string     `json:"softwareName,omitempty"`
	SoftwareVersion       string     `json:"softwareVersion,omitempty"`
	LastRequestOk         *bool      `json:"lastRequestOk,omitempty"`
	AnyRequestSucceeded   bool       `json:"anyRequestSucceeded,omitempty"`
	LastErrorCode         int        `json:"lastErrorCode,omitempty"`
	// nil means unknown, probe again on the next fetch
	CanFetchContext   *bool `json:"canFetchContext,omitempty"`
	CanFetchUserPosts *bool `json:"canFetchUserPosts,omitempty"`
}

// Fresh reports whether the record was probed within ttl and after watermark
func (r InstanceRecord) Fresh(now time.Time, ttl time.Duration, watermark time.Time) bool {
	if r.LastCheckedAt == nil {
		return false
	}
	return now.Sub(*r.LastCheckedAt) < ttl && r.LastCheckedAt.After(watermark)
}

// KnownNotOrigin is true only when a probe positively ruled out the origin software
func (r InstanceRecord) KnownNotOrigin() bool {
	return r.IsOriginSoftwareKnown != nil && !*r.IsOriginSoftwareKnown
}

func BoolPtr(b bool) *bool {
	return &b
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
