package instances

import (
	"regexp"
	"strings"

	"github.com/deemkeen/fedmerge/client"
)

// Detection is what a strategy concluded about the software behind an instance
type Detection struct {
	Software string
	// Known is true only for the origin software whose id and URI layout
	// fedmerge understands
	Known      bool
	Compatible bool
}

// Strategy recognizes one software family from its self-description
type Strategy interface {
	Name() string
	Detect(info *client.InstanceInfo) (Detection, bool)
}

// Strategies in the order they are tried
var Strategies = []Strategy{
	compatibleStrategy{},
	mastodonStrategy{},
}

var compatiblePattern = regexp.MustCompile(`compatible; (\w+)`)

// compatibleStrategy matches software that announces itself as
// "<version> (compatible; <Name> <version>)"
type compatibleStrategy struct{}

func (compatibleStrategy) Name() string { return "compatible" }

func (compatibleStrategy) Detect(info *client.InstanceInfo) (Detection, bool) {
	match := compatiblePattern.FindStringSubmatch(info.Version)
	if match == nil {
		return Detection{}, false
	}
	return Detection{Software: strings.ToLower(match[1]), Compatible: true}, true
}

type mastodonStrategy struct{}

func (mastodonStrategy) Name() string { return "mastodon" }

func (mastodonStrategy) Detect(info *client.InstanceInfo) (Detection, bool) {
	if info.URLs.StreamingAPI == "" {
		return Detection{}, false
	}
	return Detection{Software: "mastodon", Known: true, Compatible: true}, true
}

// Detect runs the strategies in order. Nothing matching means unknown software.
func Detect(info *client.InstanceInfo) Detection {
	for _, s := range Strategies {
		if d, ok := s.Detect(info); ok {
			return d
		}
	}
	return Detection{}
}
