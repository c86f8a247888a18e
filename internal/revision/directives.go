// Package revision resolves the four refs a run needs from defaults and
// override directives embedded in pull-request text.
//
// A directive is a line of the form KEY=value. Lines that do not start with an
// upper-case key followed by '=' are prose and skipped. Recognized keys are:
//
//	<PREFIX>_BINDING_TRUNK_REF  trunk binding ref
//	<PREFIX>_BINDING_REF        branch binding ref
//	<PREFIX>_BINDING_REPO       branch binding repository (forks)
//	TRUNK_CORE_REF              trunk core ref
//	BRANCH_CORE_REF             branch core ref
//
// Unknown keys ending in _REF or _REPO are rejected so that a misspelled
// directive fails the run instead of silently testing the wrong revision.
// Other unknown keys are ignored.
package revision

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/felixgeelhaar/revcompare/internal/errors"
)

const (
	KeyTrunkCoreRef  = "TRUNK_CORE_REF"
	KeyBranchCoreRef = "BRANCH_CORE_REF"

	suffixTrunkBindingRef = "_BINDING_TRUNK_REF"
	suffixBindingRef      = "_BINDING_REF"
	suffixBindingRepo     = "_BINDING_REPO"
)

var (
	directiveLine = regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*=(.*)$`)
	forbiddenRef  = regexp.MustCompile(`[\x00-\x20\x7f~^:?*\[\\]`)
)

// TrunkBindingRefKey returns the directive key for a binding's trunk ref
func TrunkBindingRefKey(prefix string) string { return prefix + suffixTrunkBindingRef }

// BindingRefKey returns the directive key for a binding's branch ref
func BindingRefKey(prefix string) string { return prefix + suffixBindingRef }

// BindingRepoKey returns the directive key for a binding's branch repository
func BindingRepoKey(prefix string) string { return prefix + suffixBindingRepo }

// Directives holds validated override values keyed by directive name.
type Directives struct {
	values map[string]string
}

// Get returns the override for key, if one was given
func (d Directives) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Len returns the number of recognized directives
func (d Directives) Len() int { return len(d.values) }

// Keys returns the recognized directive keys in sorted order
func (d Directives) Keys() []string {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Grammar is the closed set of directive keys for a set of bindings.
type Grammar struct {
	refKeys  map[string]bool
	repoKeys map[string]bool
}

// NewGrammar builds the recognized key set for the given binding prefixes.
func NewGrammar(prefixes ...string) *Grammar {
	g := &Grammar{
		refKeys:  map[string]bool{KeyTrunkCoreRef: true, KeyBranchCoreRef: true},
		repoKeys: make(map[string]bool),
	}
	for _, p := range prefixes {
		g.refKeys[TrunkBindingRefKey(p)] = true
		g.refKeys[BindingRefKey(p)] = true
		g.repoKeys[BindingRepoKey(p)] = true
	}
	return g
}

// Known returns every recognized key in sorted order
func (g *Grammar) Known() []string {
	keys := make([]string, 0, len(g.refKeys)+len(g.repoKeys))
	for k := range g.refKeys {
		keys = append(keys, k)
	}
	for k := range g.repoKeys {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseDirectives parses text with the grammar for the given binding prefixes.
func ParseDirectives(text string, prefixes ...string) (Directives, error) {
	return NewGrammar(prefixes...).Parse(text)
}

// Parse extracts directives from free text. Texts are parsed in order and
// treated as one document, so a directive in a later comment that
// contradicts an earlier one is a conflict.
func (g *Grammar) Parse(texts ...string) (Directives, error) {
	d := Directives{values: make(map[string]string)}
	lineNo := 0

	for _, text := range texts {
		for _, raw := range strings.Split(text, "\n") {
			lineNo++
			line := strings.Trim(strings.TrimSpace(raw), "`")
			m := directiveLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			key := m[1]
			isRef, isRepo := g.refKeys[key], g.repoKeys[key]

			if !isRef && !isRepo {
				if strings.HasSuffix(key, "_REF") || strings.HasSuffix(key, "_REPO") {
					return Directives{}, errors.NewDirectiveUnknownError(lineNo, key, g.Known())
				}
				continue
			}

			if !strings.HasPrefix(line, key+"=") {
				return Directives{}, errors.NewDirectiveInvalidError(lineNo, line, "no spaces are allowed around '='")
			}

			value := strings.TrimSpace(m[2])
			var reason string
			if isRef {
				reason = validateRef(value)
			} else {
				reason = validateRepo(value)
			}
			if reason != "" {
				return Directives{}, errors.NewDirectiveInvalidError(lineNo, line, reason)
			}

			if prev, seen := d.values[key]; seen && prev != value {
				return Directives{}, errors.New(errors.ErrCodeDirectiveConflict,
					fmt.Sprintf("directive %s given twice with different values (%q, %q)", key, prev, value))
			}
			d.values[key] = value
		}
	}

	return d, nil
}

// validateRef applies the subset of git ref-name rules that matter for a
// value handed to checkout. It returns a reason when the value is rejected.
func validateRef(v string) string {
	switch {
	case v == "":
		return "empty value"
	case strings.ContainsAny(v, " \t"):
		return "value contains whitespace"
	case forbiddenRef.MatchString(v):
		return "value contains characters not allowed in a git ref"
	case strings.Contains(v, "..") || strings.Contains(v, "@{") || strings.Contains(v, "//"):
		return "value contains a sequence not allowed in a git ref"
	case v == "@" || strings.HasPrefix(v, "-") || strings.HasPrefix(v, "/"):
		return "value is not a valid git ref"
	case strings.HasSuffix(v, "/") || strings.HasSuffix(v, ".") || strings.HasSuffix(v, ".lock"):
		return "value has a suffix not allowed in a git ref"
	}
	return ""
}

func validateRepo(v string) string {
	if v == "" {
		return "empty value"
	}
	if strings.ContainsAny(v, " \t") {
		return "value contains whitespace"
	}
	if strings.HasPrefix(v, "git@") && strings.Contains(v, ":") {
		return ""
	}
	u, err := url.Parse(v)
	if err != nil {
		return "value is not a repository URL"
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
		if u.Host == "" {
			return "repository URL has no host"
		}
		return ""
	case "file":
		return ""
	default:
		return "repository must be an https, ssh, git, or file URL"
	}
}
