package harvest

import (
	"fmt"
	"strings"
)

// Wildcard is the routing key every unmatched extension falls back to
const Wildcard = "*"

// Extension returns the text after the last dot, or the whole name when it
// has no dot.
func Extension(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

// Route returns the directory for filename: the rule for its extension
// (exact match), or the wildcard rule.
func Route(filename string, rules map[string]string) string {
	if dir, ok := rules[Extension(filename)]; ok {
		return dir
	}
	return rules[Wildcard]
}

// Router routes file names with a fixed rule set, optionally ignoring case
type Router struct {
	rules    map[string]string
	foldCase bool
}

// NewRouter validates rules; the wildcard entry is required.
func NewRouter(rules map[string]string, foldCase bool) (*Router, error) {
	if _, ok := rules[Wildcard]; !ok {
		return nil, fmt.Errorf("routing rules need a %q entry", Wildcard)
	}

	r := &Router{rules: rules, foldCase: foldCase}
	if foldCase {
		r.rules = make(map[string]string, len(rules))
		for ext, dir := range rules {
			r.rules[strings.ToLower(ext)] = dir
		}
	}
	return r, nil
}

// Route is Route with the router's rules, lowercasing filename when folding case
func (r *Router) Route(filename string) string {
	if r.foldCase {
		filename = strings.ToLower(filename)
	}
	return Route(filename, r.rules)
}

// Dirs returns every distinct directory the rules can route to
func (r *Router) Dirs() []string {
	seen := make(map[string]bool, len(r.rules))
	var dirs []string
	for _, dir := range r.rules {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
