// Package ids tells synthetic cross-host ids apart from native ids and
// derives the origin identity of a post.
package ids

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/deemkeen/fedmerge/domain"
)

const syntheticPrefix = "s:"

var (
	syntheticPattern = regexp.MustCompile(`^s:(.):([^:/]+):([^:/]+)$`)
	nativePattern    = regexp.MustCompile(`^\d+$`)
	statusPathRe     = regexp.MustCompile(`^/users/[^/]+/statuses/([^/]+)(/|$)`)
)

// Identity is the origin-side identity of a post seen from localHost
type Identity struct {
	LocalID    string
	RemoteHost string
	RemoteID   string
	RemoteKey  string
}

// Encode builds "s:<kind>:<host>:<escaped id>". The id is query-escaped so
// neither ':' nor '/' survive into the last segment.
func Encode(kind domain.Kind, host, remoteID string) string {
	return syntheticPrefix + string(kind) + ":" + host + ":" + url.QueryEscape(strings.TrimPrefix(remoteID, "@"))
}

// Decode parses id as seen on localHost. Synthetic ids give a remote-only
// mapping, native ids a local-only one. Anything else is opaque and false is
// returned: treat it as local with no resolution possible.
func Decode(localHost, id string) (domain.MappingData, bool) {
	if match := syntheticPattern.FindStringSubmatch(id); match != nil {
		remoteID, err := url.QueryUnescape(match[3])
		if err != nil {
			return domain.MappingData{}, false
		}
		return domain.MappingData{
			Kind:       domain.Kind(match[1]),
			LocalHost:  localHost,
			RemoteHost: match[2],
			RemoteID:   strings.TrimPrefix(remoteID, "@"),
		}, true
	}
	if IsNative(id) {
		return domain.MappingData{LocalHost: localHost, LocalID: id}, true
	}
	return domain.MappingData{}, false
}

// IsSynthetic reports whether id was produced by Encode
func IsSynthetic(id string) bool {
	return syntheticPattern.MatchString(id)
}

// IsNative reports whether id follows the origin software's numeric id grammar
func IsNative(id string) bool {
	return nativePattern.MatchString(id)
}

// Identify derives the origin identity of post. Posts whose URI does not
// follow the /users/<name>/statuses/<id> layout get a stable hash of the
// full URI as their remote id.
func Identify(localHost string, post *domain.Post) Identity {
	remoteHost, remoteID := RemoteOf(post.URI)
	return Identity{
		LocalID:    post.ID,
		RemoteHost: remoteHost,
		RemoteID:   remoteID,
		RemoteKey:  domain.RemoteKey(localHost, remoteHost, remoteID),
	}
}

// RemoteOf splits a canonical post URI into origin host and origin id
func RemoteOf(uri string) (string, string) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", HashURI(uri)
	}
	if match := statusPathRe.FindStringSubmatch(parsed.EscapedPath()); match != nil {
		return parsed.Hostname(), match[1]
	}
	return parsed.Hostname(), HashURI(uri)
}

// HashURI is the opaque remote id for URIs of unknown layout
func HashURI(uri string) string {
	return "m" + strconv.FormatUint(xxhash.Sum64String(uri), 10)
}

// StatusURI rebuilds the origin-style URI of a status when none was stored
func StatusURI(remoteHost, username, remoteID string) string {
	return "https://" + remoteHost + "/users/" + username + "/statuses/" + remoteID
}

// SplitAcct splits "user@host" into its parts. Handles without a host
// belong to defaultHost.
func SplitAcct(acct, defaultHost string) (string, string) {
	acct = strings.TrimPrefix(acct, "@")
	username, host, found := strings.Cut(acct, "@")
	if !found || host == "" {
		return username, defaultHost
	}
	return username, host
}
