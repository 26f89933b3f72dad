package manifest

import (
	"sort"
	"strings"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/types"
)

// Children returns the entries directly below dir, sorted by name. The root
// is "" and its children are the domains. Directories that only appear as a
// prefix of deeper paths are synthesized with KindDirectory. The second
// result reports whether dir exists as a directory at all.
func Children(entries []types.ManifestEntry, dir string) ([]types.ManifestEntry, bool) {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	found := dir == ""
	byName := make(map[string]types.ManifestEntry)
	for _, e := range entries {
		p := e.LogicalPath()
		if p == dir {
			if !e.IsDir() {
				return nil, false
			}
			found = true
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" {
			continue
		}
		found = true
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			if _, ok := byName[name]; !ok {
				byName[name] = syntheticDir(prefix + name)
			}
			continue
		}
		byName[rest] = e
	}
	if !found {
		return nil, false
	}

	out := make([]types.ManifestEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, true
}

// Lookup finds the entry at p, synthesizing a directory when p is only a
// prefix of other entries.
func Lookup(entries []types.ManifestEntry, p string) (types.ManifestEntry, bool) {
	if p == "" {
		return syntheticDir(""), true
	}
	prefix := p + "/"
	implied := false
	for _, e := range entries {
		lp := e.LogicalPath()
		if lp == p {
			return e, true
		}
		if strings.HasPrefix(lp, prefix) {
			implied = true
		}
	}
	if implied {
		return syntheticDir(p), true
	}
	return types.ManifestEntry{}, false
}

func syntheticDir(p string) types.ManifestEntry {
	domain, relPath := types.SplitLogical(p)
	return types.ManifestEntry{
		Domain:       domain,
		RelativePath: relPath,
		Kind:         types.KindDirectory,
		Mode:         defaultDirMode,
	}
}
