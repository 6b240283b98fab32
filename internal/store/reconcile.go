package store

import (
	"sort"
	"strings"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// BuildAppList derives the unified, de-duplicated app list from the rule
// set and the observed process snapshot. Ruled apps come out as proxy
// entries (running resolved by path or, for name rules, by case-insensitive
// process name); observed processes not covered by any rule come out as
// synthetic direct entries. Each app appears at most once.
func BuildAppList(rules []domain.AppRule, procs []domain.RunningProcess) []domain.AppListItem {
	byPath := make(map[string]domain.RunningProcess, len(procs))
	type nameGroup struct {
		name  string
		count int
	}
	byName := make(map[string]nameGroup, len(procs))
	for _, p := range procs {
		byPath[p.Path] = p
		key := strings.ToLower(p.Name)
		g := byName[key]
		if g.name == "" {
			g.name = p.Name
		}
		g.count += p.Count
		byName[key] = g
	}

	ruledPaths := make(map[string]struct{}, len(rules))
	ruledNames := make(map[string]struct{}, len(rules))
	items := make([]domain.AppListItem, 0, len(rules)+len(procs))

	for _, rule := range rules {
		path := domain.NormalizePath(rule.Path)
		if path == "" {
			continue
		}

		item := domain.AppListItem{Path: path, Mode: domain.RuleModeProxy}
		resolved := ""
		if domain.IsProcessName(path) {
			key := strings.ToLower(path)
			ruledNames[key] = struct{}{}
			if g, ok := byName[key]; ok {
				item.Running = true
				item.Count = g.count
				resolved = g.name
			}
		} else {
			ruledPaths[path] = struct{}{}
			if p, ok := byPath[path]; ok {
				item.Running = true
				item.Count = p.Count
				resolved = p.Name
			}
		}

		switch {
		case rule.Name != "":
			item.Name = rule.Name
		case resolved != "":
			item.Name = resolved
		default:
			item.Name = lastSegment(path)
		}
		items = append(items, item)
	}

	for _, p := range procs {
		if _, ok := ruledPaths[p.Path]; ok {
			continue
		}
		if _, ok := ruledNames[strings.ToLower(p.Name)]; ok {
			continue
		}
		name := p.Name
		if name == "" {
			name = lastSegment(p.Path)
		}
		items = append(items, domain.AppListItem{
			Name:    name,
			Path:    p.Path,
			Running: true,
			Count:   p.Count,
			Mode:    domain.RuleModeDirect,
		})
	}

	c := newCollator()
	sort.SliceStable(items, func(i, j int) bool {
		if r := c.CompareString(items[i].Name, items[j].Name); r != 0 {
			return r < 0
		}
		return items[i].Path < items[j].Path
	})
	return items
}

// lastSegment returns the final component of a path, accepting both
// separator styles since rule paths may come from another OS.
func lastSegment(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 && i+1 < len(path) {
		return path[i+1:]
	}
	return path
}

// AppList derives the unified app list from the engine's current state.
func (e *Engine) AppList() []domain.AppListItem {
	e.mu.Lock()
	rules := append([]domain.AppRule(nil), e.rules...)
	procs := append([]domain.RunningProcess(nil), e.processes...)
	e.mu.Unlock()
	return BuildAppList(rules, procs)
}
