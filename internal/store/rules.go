package store

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// newCollator returns the case-insensitive collator used for every
// user-visible ordering and for signature canonicalization. Collators are
// not safe for concurrent use, so callers create one per operation.
func newCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase)
}

// SetMode replaces the desired proxy mode and re-schedules an apply.
// Unknown modes are ignored.
func (e *Engine) SetMode(mode domain.ProxyMode) {
	if !mode.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == mode {
		return
	}
	e.mode = mode
	e.scheduleLocked()
}

// Mode returns the current desired mode.
func (e *Engine) Mode() domain.ProxyMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetProxy adds or updates the proxy rule for path. An existing rule keeps
// its position; only a non-empty name updates it. Empty normalized paths
// are ignored without scheduling.
func (e *Engine) SetProxy(path, name string) {
	normalized := domain.NormalizePath(path)
	if normalized == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Path == normalized {
			if name != "" && e.rules[i].Name != name {
				e.rules[i].Name = name
				e.scheduleLocked()
			}
			return
		}
	}
	e.rules = append(e.rules, domain.AppRule{
		Path: normalized,
		Mode: domain.RuleModeProxy,
		Name: name,
	})
	e.scheduleLocked()
}

// SetDirect removes the proxy rule for path. A miss is a no-op and does not
// schedule an apply.
func (e *Engine) SetDirect(path string) {
	normalized := domain.NormalizePath(path)
	if normalized == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Path == normalized {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			e.scheduleLocked()
			return
		}
	}
}

// ClearAppRules empties the rule list. A no-op when already empty.
func (e *Engine) ClearAppRules() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rules) == 0 {
		return
	}
	e.rules = nil
	e.scheduleLocked()
}

// Rules returns a copy of the current rule list.
func (e *Engine) Rules() []domain.AppRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AppRule(nil), e.rules...)
}

// rulesSignature encodes a rule set as a deterministic string for cheap
// equality checks: one "path|mode|name" line per rule, ordered by collated
// path. Invariant under reordering, sensitive to every field.
func rulesSignature(rules []domain.AppRule) string {
	sorted := append([]domain.AppRule(nil), rules...)
	c := newCollator()
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.CompareString(sorted[i].Path, sorted[j].Path) < 0
	})

	lines := make([]string, len(sorted))
	for i, r := range sorted {
		lines[i] = r.Path + "|" + r.Mode + "|" + r.Name
	}
	return strings.Join(lines, "\n")
}
