// Package match decides whether a talent name observed on a schedule source
// belongs to a followed roster entry.
//
// The matcher is deliberately permissive: a false positive shows one extra
// stream, a false negative hides a followed talent's stream. Substring
// matching in either direction is accepted for that reason.
package match

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"vtcal/internal/model"
)

// AliasTable maps a native-script canonical name to romanized aliases.
type AliasTable map[string][]string

type aliasEntry struct {
	canonical string
	aliases   []string
}

// Matcher holds a pre-normalized alias table. It is immutable and safe for
// concurrent use.
type Matcher struct {
	entries []aliasEntry
}

// New normalizes table once. Aliases shorter than two characters are
// dropped since they would match almost anything.
func New(table AliasTable) *Matcher {
	m := &Matcher{entries: make([]aliasEntry, 0, len(table))}
	for canonical, aliases := range table {
		c := normalize(canonical)
		if c == "" {
			continue
		}
		e := aliasEntry{canonical: c}
		for _, a := range aliases {
			if na := romanize(a); utf8.RuneCountInString(na) >= 2 {
				e.aliases = append(e.aliases, na)
			}
		}
		m.entries = append(m.entries, e)
	}
	return m
}

var defaultMatcher = sync.OnceValue(func() *Matcher { return New(DefaultAliases) })

// Default returns the matcher built from DefaultAliases.
func Default() *Matcher {
	return defaultMatcher()
}

// Matches reports whether a registered roster name and an observed source
// name refer to the same talent.
func (m *Matcher) Matches(registered, observed string) bool {
	r := normalize(registered)
	o := normalize(observed)
	if r == "" || o == "" {
		return false
	}
	if containsEither(r, o) {
		return true
	}

	for _, e := range m.entries {
		if containsEither(o, e.canonical) && e.aliasHit(r) {
			return true
		}
		if containsEither(r, e.canonical) && e.aliasHit(o) {
			return true
		}
	}
	return false
}

// Resolve finds the roster entry an event belongs to: same channel id
// first, then name matching.
func (m *Matcher) Resolve(roster []model.Talent, ev model.Event) (model.Talent, bool) {
	if ev.Channel.ID != "" {
		for _, t := range roster {
			if t.ChannelID == ev.Channel.ID {
				return t, true
			}
		}
	}
	for _, t := range roster {
		if m.Matches(t.Name, ev.Channel.Name) {
			return t, true
		}
	}
	return model.Talent{}, false
}

// ResolveFilter reports whether ev is kept under a followed-only policy.
func (m *Matcher) ResolveFilter(roster []model.Talent, ev model.Event) bool {
	_, ok := m.Resolve(roster, ev)
	return ok
}

// ResolveOrPlaceholder returns the matching roster entry or a talent
// synthesized from the event's own channel.
func (m *Matcher) ResolveOrPlaceholder(roster []model.Talent, ev model.Event) model.Talent {
	if t, ok := m.Resolve(roster, ev); ok {
		return t
	}
	return Placeholder(ev)
}

// Placeholder builds a talent from an event that matched no roster entry.
func Placeholder(ev model.Event) model.Talent {
	org := model.ParseOrg(ev.Channel.Org)
	return model.Talent{
		ID:        ev.Channel.ID,
		Name:      ev.Channel.Name,
		ChannelID: ev.Channel.ID,
		Org:       org,
		Color:     model.OrgColor(org),
		AvatarURL: ev.Channel.PhotoURL,
	}
}

func (e aliasEntry) aliasHit(name string) bool {
	rn := romanize(name)
	if utf8.RuneCountInString(rn) < 2 {
		return false
	}
	for _, a := range e.aliases {
		if containsEither(rn, a) {
			return true
		}
	}
	return false
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// normalize folds width variants and case.
func normalize(s string) string {
	return strings.TrimSpace(cases.Fold().String(norm.NFKC.String(s)))
}

// romanize additionally strips Latin diacritics (Ōkami -> okami).
func romanize(s string) string {
	return normalize(unidecode.Unidecode(normalize(s)))
}
