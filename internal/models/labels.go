package models

import (
	"sort"
	"strings"
)

// Label names recognized by this client version. Anything else arriving
// from the server is carried verbatim in Labels.Extra so that a newer
// server can round-trip flags an old client does not understand.
const (
	LabelOwned    = "owned"
	LabelGiven    = "given"
	LabelShared   = "shared"
	LabelPersonal = "personal"
	LabelReposted = "reposted"
	LabelReshared = "reshared"
	LabelViewed   = "viewed"
	LabelError    = "error"
)

// Labels is the boolean label set of a photo or episode.
type Labels struct {
	Owned    bool `json:"owned,omitempty"`
	Given    bool `json:"given,omitempty"`
	Shared   bool `json:"shared,omitempty"`
	Personal bool `json:"personal,omitempty"`
	Reposted bool `json:"reposted,omitempty"`
	Reshared bool `json:"reshared,omitempty"`
	Viewed   bool `json:"viewed,omitempty"`
	Error    bool `json:"error,omitempty"`

	// Extra carries unrecognized label tokens. The key is the label
	// name, the value whether the last update added (+) or removed (-)
	// it. Last writer wins per distinct name.
	Extra map[string]bool `json:"extra,omitempty"`
}

// Apply applies a single "+name" or "-name" token to the label set.
// It returns false for tokens it could not parse.
func (l *Labels) Apply(token string) bool {
	if len(token) < 2 {
		return false
	}
	var on bool
	switch token[0] {
	case '+':
		on = true
	case '-':
		on = false
	default:
		return false
	}
	name := strings.ToLower(token[1:])

	switch name {
	case LabelOwned:
		l.Owned = on
	case LabelGiven:
		l.Given = on
	case LabelShared:
		l.Shared = on
	case LabelPersonal:
		l.Personal = on
	case LabelReposted:
		l.Reposted = on
	case LabelReshared:
		l.Reshared = on
	case LabelViewed:
		l.Viewed = on
	case LabelError:
		l.Error = on
	default:
		if l.Extra == nil {
			l.Extra = make(map[string]bool)
		}
		l.Extra[name] = on
	}
	return true
}

// Merge applies a list of label tokens in order. Re-applying the same
// token list is a no-op.
func (l *Labels) Merge(tokens []string) {
	for _, tok := range tokens {
		l.Apply(tok)
	}
}

// Tokens returns the label set as a canonical sorted token list,
// including carried unknown tokens.
func (l Labels) Tokens() []string {
	var out []string
	add := func(name string, on bool) {
		if on {
			out = append(out, "+"+name)
		}
	}
	add(LabelOwned, l.Owned)
	add(LabelGiven, l.Given)
	add(LabelShared, l.Shared)
	add(LabelPersonal, l.Personal)
	add(LabelReposted, l.Reposted)
	add(LabelReshared, l.Reshared)
	add(LabelViewed, l.Viewed)
	add(LabelError, l.Error)
	for name, on := range l.Extra {
		if on {
			out = append(out, "+"+name)
		} else {
			out = append(out, "-"+name)
		}
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two label sets are identical, extras included.
func (l Labels) Equal(other Labels) bool {
	if l.Owned != other.Owned || l.Given != other.Given ||
		l.Shared != other.Shared || l.Personal != other.Personal ||
		l.Reposted != other.Reposted || l.Reshared != other.Reshared ||
		l.Viewed != other.Viewed || l.Error != other.Error {
		return false
	}
	if len(l.Extra) != len(other.Extra) {
		return false
	}
	for name, on := range l.Extra {
		if got, ok := other.Extra[name]; !ok || got != on {
			return false
		}
	}
	return true
}
