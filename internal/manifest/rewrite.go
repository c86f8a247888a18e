// Package manifest points a binding's Cargo dependency on the core library at
// a locally materialized checkout.
//
// The rewrite is textual: only the line declaring the dependency changes and
// every other byte of the manifest is preserved. go-toml is used to validate
// the document before and after, never to re-serialize it.
package manifest

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// Keys that select where a dependency comes from. They are replaced by path.
var sourceKeys = map[string]bool{
	"git": true, "rev": true, "branch": true, "tag": true,
	"version": true, "path": true, "registry": true,
}

var sectionHeader = regexp.MustCompile(`^\s*\[\s*([^\[\]]+?)\s*\]\s*(#.*)?$`)

// Rewrite returns content with dependency dep of the [dependencies] table
// pointing at path. changed is false when it already did.
//
// Supported shapes are a version string (dep = "0.4") and an inline table
// (dep = { git = "...", rev = "..." }). Other keys of an inline table, such as
// features, are carried over.
func Rewrite(content []byte, name, dep, path string) (out []byte, changed bool, err error) {
	var doc map[string]any
	if err := toml.Unmarshal(content, &doc); err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeOverrideManifestRead, name+" is not valid TOML", err)
	}

	deps, ok := doc["dependencies"].(map[string]any)
	if !ok {
		return nil, false, errors.NewOverrideShapeError(name, dep, "no [dependencies] table")
	}
	decl, ok := deps[dep]
	if !ok {
		return nil, false, errors.NewOverrideShapeError(name, dep, "dependency not declared")
	}

	extra := map[string]any{}
	switch v := decl.(type) {
	case string:
	case map[string]any:
		if current, ok := v["path"].(string); ok {
			if current == path {
				return content, false, nil
			}
			return nil, false, errors.New(errors.ErrCodeOverrideAlreadyLocal,
				fmt.Sprintf("%s already points %s at %s", name, dep, current)).
				WithSuggestion("Remove the local path dependency from the binding branch")
		}
		for k, val := range v {
			if !sourceKeys[k] {
				extra[k] = val
			}
		}
	default:
		return nil, false, errors.NewOverrideShapeError(name, dep, fmt.Sprintf("unsupported declaration type %T", decl))
	}

	lines := bytes.SplitAfter(content, []byte("\n"))
	idx := findDeclaration(lines, dep)
	if idx < 0 {
		return nil, false, errors.NewOverrideShapeError(name, dep, "declaration is not an inline entry under [dependencies]")
	}

	value, err := inlineTable(path, extra)
	if err != nil {
		return nil, false, errors.NewOverrideShapeError(name, dep, err.Error())
	}

	line := string(lines[idx])
	eol := ""
	switch {
	case strings.HasSuffix(line, "\r\n"):
		eol = "\r\n"
	case strings.HasSuffix(line, "\n"):
		eol = "\n"
	}
	eq := strings.IndexByte(line, '=')
	key := strings.TrimRight(line[:eq], " \t")
	comment := trailingComment(strings.TrimSuffix(line[eq+1:], eol))
	lines[idx] = []byte(key + " = " + value + comment + eol)

	out = bytes.Join(lines, nil)
	if err := verify(out, dep, path); err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeOverrideVerifyFailure, "rewritten "+name+" failed verification", err)
	}
	return out, true, nil
}

// findDeclaration returns the index of the single-line declaration of dep in
// the [dependencies] section, or -1.
func findDeclaration(lines [][]byte, dep string) int {
	decl := regexp.MustCompile(`^\s*("` + regexp.QuoteMeta(dep) + `"|'` + regexp.QuoteMeta(dep) + `'|` + regexp.QuoteMeta(dep) + `)\s*=`)

	inDeps := false
	for i, raw := range lines {
		line := strings.TrimRight(string(raw), "\r\n")
		if strings.HasPrefix(strings.TrimSpace(line), "[[") {
			inDeps = false
			continue
		}
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			inDeps = m[1] == "dependencies"
			continue
		}
		if inDeps && decl.MatchString(line) {
			return i
		}
	}
	return -1
}

// trailingComment returns the "# ..." suffix of a TOML value, including the
// whitespace before it, or "" when there is none. Hashes inside strings do
// not start a comment.
func trailingComment(v string) string {
	var quoteChar byte
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case quoteChar == '"' && c == '\\':
			i++
		case quoteChar != 0:
			if c == quoteChar {
				quoteChar = 0
			}
		case c == '"' || c == '\'':
			quoteChar = c
		case c == '#':
			start := i
			for start > 0 && (v[start-1] == ' ' || v[start-1] == '\t') {
				start--
			}
			return v[start:]
		}
	}
	return ""
}

func verify(content []byte, dep, path string) error {
	var doc struct {
		Dependencies map[string]any `toml:"dependencies"`
	}
	if err := toml.Unmarshal(content, &doc); err != nil {
		return err
	}
	table, ok := doc.Dependencies[dep].(map[string]any)
	if !ok {
		return fmt.Errorf("%s is no longer a table", dep)
	}
	if got, _ := table["path"].(string); got != path {
		return fmt.Errorf("%s.path is %q, want %q", dep, got, path)
	}
	return nil
}

// inlineTable renders { path = "...", <extra sorted by key> }
func inlineTable(path string, extra map[string]any) (string, error) {
	parts := []string{"path = " + quote(path)}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := value(extra[k])
		if err != nil {
			return "", fmt.Errorf("key %s: %w", k, err)
		}
		parts = append(parts, bareKey(k)+" = "+v)
	}
	return "{ " + strings.Join(parts, ", ") + " }", nil
}

func value(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return quote(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return "", fmt.Errorf("unsupported float %v", t)
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, err := value(item)
			if err != nil {
				return "", err
			}
			items = append(items, s)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

var bare = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func bareKey(k string) string {
	if bare.MatchString(k) {
		return k
	}
	return quote(k)
}

// quote renders s as a TOML basic string
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
