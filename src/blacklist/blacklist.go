// Package blacklist implements the version-ignore rules used when picking
// "latest": patterns scoped globally, by group, or by group+artifact, each
// either an exact string or a regex. A group key also covers any descendant
// group ("org.foo" covers "org.foo.bar"), with the most specific matching
// key winning.
package blacklist

import (
	"fmt"
	"strings"
	"sync"

	deferredregex "github.com/peterebden/go-deferred-regex"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/mvnwatch/src/coordinate"
	"github.com/thought-machine/mvnwatch/src/mvnerr"
)

var log = logging.MustGetLogger("blacklist")

// Kind distinguishes an exact string matcher from a regex matcher.
type Kind int

const (
	// Exact matches a version string literally.
	Exact Kind = iota
	// Regex matches a version string against a lazily-compiled, cached regular expression.
	Regex
)

// never is the canonical "ignore every version" pattern.
const never = ".*"

type matcher struct {
	kind  Kind
	exact string
	re    deferredregex.DeferredRegex
}

func newMatcher(pattern string, kind Kind) (m matcher, err error) {
	m = matcher{kind: kind, exact: pattern}
	if kind == Regex {
		m.re = deferredregex.DeferredRegex{Regex: pattern}
		// Force compilation now so invalid patterns fail at insertion time,
		// per spec: "Invalid regex at insertion MUST fail with ConfigError."
		defer func() {
			if r := recover(); r != nil {
				log.Error("invalid blacklist pattern %q: %v", pattern, r)
				err = fmt.Errorf("invalid regex %q: %v", pattern, r)
			}
		}()
		m.re.MatchString("")
	}
	return m, err
}

func (m matcher) matches(version string) bool {
	if m.kind == Exact {
		return m.exact == version
	}
	return m.re.MatchString(version)
}

func (m matcher) isNever() bool {
	return m.kind == Regex && m.exact == never
}

// A Blacklist holds the three matcher scopes described in spec.md §3/§4.B.
type Blacklist struct {
	mu              sync.RWMutex
	global          []matcher
	byGroup         map[string][]matcher
	byGroupArtifact map[string]map[string][]matcher
}

// New returns an empty Blacklist.
func New() *Blacklist {
	return &Blacklist{
		byGroup:         map[string][]matcher{},
		byGroupArtifact: map[string]map[string][]matcher{},
	}
}

func compile(pattern string, kind Kind) (matcher, error) {
	m, err := newMatcher(pattern, kind)
	if err != nil {
		return matcher{}, mvnerr.Wrap(mvnerr.Config, err, "invalid blacklist pattern %q", pattern)
	}
	return m, nil
}

// AddGlobal ignores pattern wherever it matches, for any artifact.
func (b *Blacklist) AddGlobal(pattern string, kind Kind) error {
	m, err := compile(pattern, kind)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, m)
	return nil
}

// AddGroup ignores pattern for group and any descendant group ("group.*").
func (b *Blacklist) AddGroup(group, pattern string, kind Kind) error {
	m, err := compile(pattern, kind)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byGroup[group] = append(b.byGroup[group], m)
	return nil
}

// AddGroupArtifact ignores pattern for exactly group:artifact.
func (b *Blacklist) AddGroupArtifact(group, artifact, pattern string, kind Kind) error {
	m, err := compile(pattern, kind)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byGroupArtifact[group] == nil {
		b.byGroupArtifact[group] = map[string][]matcher{}
	}
	b.byGroupArtifact[group][artifact] = append(b.byGroupArtifact[group][artifact], m)
	return nil
}

// longestMatchingGroup returns the matchers registered under the most
// specific key p such that p == group or group starts with p+".".
func (b *Blacklist) longestMatchingGroup(group string) []matcher {
	var best string
	var bestLen = -1
	for key := range b.byGroup {
		if key == group || strings.HasPrefix(group, key+".") {
			if len(key) > bestLen {
				best, bestLen = key, len(key)
			}
		}
	}
	if bestLen < 0 {
		return nil
	}
	return b.byGroup[best]
}

// applicableMatchers returns every matcher that could apply to group:artifact:
// global, the most specific matching group scope, and the exact
// group+artifact scope.
func (b *Blacklist) applicableMatchers(group, artifact string) []matcher {
	var all []matcher
	all = append(all, b.global...)
	all = append(all, b.longestMatchingGroup(group)...)
	if artifacts, ok := b.byGroupArtifact[group]; ok {
		all = append(all, artifacts[artifact]...)
	}
	return all
}

// IsVersionBlacklisted reports whether version of group:artifact matches any
// applicable scope.
func (b *Blacklist) IsVersionBlacklisted(group, artifact, version string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.applicableMatchers(group, artifact) {
		if m.matches(version) {
			return true
		}
	}
	return false
}

// IsArtifactBlacklisted reports whether coord's specific version is
// blacklisted (spec §8: implies IsVersionBlacklisted for the same triple).
func (b *Blacklist) IsArtifactBlacklisted(coord coordinate.Coordinate) bool {
	return b.IsVersionBlacklisted(coord.GroupID, coord.ArtifactID, coord.Version)
}

// IsAllVersionsBlacklisted reports whether any applicable scope for
// group:artifact contains the NEVER matcher (regex ".*").
func (b *Blacklist) IsAllVersionsBlacklisted(group, artifact string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.applicableMatchers(group, artifact) {
		if m.isNever() {
			return true
		}
	}
	return false
}
