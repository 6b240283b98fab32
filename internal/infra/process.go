// Package infra implements infrastructure concerns (process listing, launchd).
package infra

import (
	"context"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// GopsutilLister implements domain.ProcessLister using gopsutil.
type GopsutilLister struct{}

// NewProcessLister creates a new process lister.
func NewProcessLister() domain.ProcessLister {
	return &GopsutilLister{}
}

// Snapshot returns running processes aggregated by executable path.
func (l *GopsutilLister) Snapshot(ctx context.Context) ([]domain.RunningProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	type observed struct {
		name string
		path string
		pid  int32
	}
	var seen []observed
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue // Process may have exited, or exe is unreadable
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			name = ""
		}
		seen = append(seen, observed{name: name, path: exe, pid: p.Pid})
	}

	byPath := make(map[string]*domain.RunningProcess)
	for _, o := range seen {
		entry, ok := byPath[o.path]
		if !ok {
			name := o.name
			if name == "" {
				name = lastPathSegment(o.path)
			}
			entry = &domain.RunningProcess{Name: name, Path: o.path}
			byPath[o.path] = entry
		}
		entry.Count++
		entry.PIDs = append(entry.PIDs, o.pid)
	}

	return sortSnapshot(byPath), nil
}

// sortSnapshot flattens the aggregation map into a deterministic list,
// ordered by lowercased name then path.
func sortSnapshot(byPath map[string]*domain.RunningProcess) []domain.RunningProcess {
	out := make([]domain.RunningProcess, 0, len(byPath))
	for _, entry := range byPath {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func lastPathSegment(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Ensure GopsutilLister implements domain.ProcessLister.
var _ domain.ProcessLister = (*GopsutilLister)(nil)
