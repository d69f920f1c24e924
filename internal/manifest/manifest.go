// Package manifest provides the typed projection of a package.json used by
// the resolver and linkers. The byte-level, format-preserving view used to
// *edit* a package.json lives in internal/docedit; this package is the
// read-only, structured view used everywhere else.
package manifest

import (
	"encoding/json"
	"sort"

	"github.com/muhammadmuzzammil1998/jsonc"
)

// Manifest is the subset of package.json fields the installer cares about.
type Manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Private              bool              `json:"private"`
	Scripts              map[string]string `json:"scripts"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies       map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta"`
	Workspaces           Workspaces        `json:"workspaces"`
	PackageManager       string            `json:"packageManager"`
	Os                   []string          `json:"os"`
	Cpu                  []string          `json:"cpu"`
	Libc                 []string          `json:"libc"`

	// RawJSON preserves any fields the struct doesn't model, so a
	// round-tripping writer (internal/docedit) never silently drops data.
	RawJSON map[string]interface{} `json:"-"`
}

// PeerMeta describes peerDependenciesMeta.<ident>, most commonly whether the
// peer is optional.
type PeerMeta struct {
	Optional bool `json:"optional"`
}

// Workspaces is package.json's "workspaces" field, which is either a bare
// array of globs or an object with a "packages" array (the Yarn/npm
// "packages" + "nohoist" shape — only "packages" is modeled, "nohoist" has
// no equivalent in this spec's hoisting algorithm).
type Workspaces []string

type workspacesObjectForm struct {
	Packages []string `json:"packages,omitempty"`
}

// UnmarshalJSON accepts either array-of-globs or {"packages": [...]}.
func (w *Workspaces) UnmarshalJSON(data []byte) error {
	var obj workspacesObjectForm
	if err := json.Unmarshal(data, &obj); err == nil && obj.Packages != nil {
		*w = Workspaces(obj.Packages)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*w = arr
	return nil
}

// Parse decodes a package.json byte slice, tolerating // and /* */ comments
// the way the teacher's turbo.json reader does (jsonc.ToJSON strips them
// before handing bytes to encoding/json).
func Parse(data []byte) (*Manifest, error) {
	clean := jsonc.ToJSON(data)

	var raw map[string]interface{}
	if err := json.Unmarshal(clean, &raw); err != nil {
		return nil, err
	}

	m := &Manifest{}
	if err := json.Unmarshal(clean, m); err != nil {
		return nil, err
	}
	m.RawJSON = raw
	return m, nil
}

// AllDependencies merges dependencies + optionalDependencies, the set the
// resolver treats as "must resolve, possibly best-effort" for this
// manifest. Dev dependencies are deliberately excluded: they only apply at
// the workspace root during development, never transitively.
func (m *Manifest) AllDependencies() map[string]string {
	out := make(map[string]string, len(m.Dependencies)+len(m.OptionalDependencies))
	for k, v := range m.Dependencies {
		out[k] = v
	}
	for k, v := range m.OptionalDependencies {
		out[k] = v
	}
	return out
}

// SortedDependencyNames returns the dependency idents in sorted order, used
// by the resolver to keep virtual-instance hashing deterministic.
func (m *Manifest) SortedDependencyNames() []string {
	all := m.AllDependencies()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsesNodeGyp reports whether any script mentions node-gyp or
// prebuild-install without the manifest already declaring a dependency on
// node-gyp — the trigger for the resolver's implicit node-gyp injection.
func (m *Manifest) UsesNodeGyp() bool {
	if _, ok := m.Dependencies["node-gyp"]; ok {
		return false
	}
	if _, ok := m.DevDependencies["node-gyp"]; ok {
		return false
	}
	for _, script := range m.Scripts {
		if containsNodeGypMention(script) {
			return true
		}
	}
	return false
}

func containsNodeGypMention(script string) bool {
	return containsAny(script, "node-gyp", "prebuild-install")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
