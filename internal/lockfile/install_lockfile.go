package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nightlyone/lockfile"
	"github.com/quillpm/quill/internal/descriptor"
	"github.com/quillpm/quill/internal/locator"
)

// installLockfileVersion is the current native lockfile format version,
// written to __metadata.version and bumped whenever the entry shape changes
// in a way older readers can't tolerate.
const installLockfileVersion = 9

// InstallMetadata is the lockfile's __metadata block.
type InstallMetadata struct {
	Version int `json:"version"`
}

// InstallResolution is the persisted form of a resolver Resolution: just
// enough to reconstruct the graph without re-fetching every manifest on
// the next install.
type InstallResolution struct {
	Resolution              string            `json:"resolution"`
	Version                 string            `json:"version"`
	Dependencies            map[string]string `json:"dependencies,omitempty"`
	PeerDependencies        map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies    map[string]string `json:"optionalDependencies,omitempty"`
	MissingPeerDependencies []string          `json:"missingPeerDependencies,omitempty"`
	Cpu                     []string          `json:"cpu,omitempty"`
	Os                      []string          `json:"os,omitempty"`
	Libc                    []string          `json:"libc,omitempty"`
}

// InstallEntry is one lockfile entry: an optional integrity checksum plus
// its resolution.
type InstallEntry struct {
	Checksum   string            `json:"checksum,omitempty"`
	Resolution InstallResolution `json:"resolution"`
}

// InstallLockfile is the native format described for this installer: a
// map from a *multi-key* (descriptors that share a resolution, joined by
// ", " and sorted) to the resolution they share.
type InstallLockfile struct {
	Metadata InstallMetadata         `json:"__metadata"`
	Entries  map[string]InstallEntry `json:"entries"`
}

// DescriptorTarget is one (descriptor, target locator) pair the caller
// wants persisted. Transient-resolution descriptors (virtual/patch ranges
// that only exist for the duration of one resolve) are never passed here;
// the resolver filters them before calling Build.
type DescriptorTarget struct {
	Descriptor descriptor.Descriptor
	Locator    locator.Locator
}

// ResolutionSource is what the resolver hands the lockfile writer for each
// distinct target locator: the resolution metadata to persist and the
// optional content checksum recorded by the fetcher.
type ResolutionSource struct {
	Locator       locator.Locator
	Version       string
	Checksum      string
	Deps          map[string]string
	Peers         map[string]string
	Optional      map[string]string
	MissingPrs    []string
	Cpu, Os, Libc []string
}

// BuildInstallLockfile groups descriptors by target locator, skips nothing
// the caller didn't already filter, and sorts both the multi-keys and their
// internal descriptor lists, giving byte-identical output for identical
// input regardless of map iteration order.
func BuildInstallLockfile(targets []DescriptorTarget, resolutions map[string]ResolutionSource) (*InstallLockfile, error) {
	byLocator := map[string][]string{}
	for _, t := range targets {
		key := t.Locator.ToFileString()
		byLocator[key] = append(byLocator[key], t.Descriptor.ToFileString())
	}

	entries := make(map[string]InstallEntry, len(byLocator))
	for locKey, descStrs := range byLocator {
		sort.Strings(descStrs)
		multiKey := strings.Join(descStrs, ", ")

		src, ok := resolutions[locKey]
		if !ok {
			return nil, fmt.Errorf("lockfile: no resolution recorded for locator %q", locKey)
		}

		sort.Strings(src.MissingPrs)
		entries[multiKey] = InstallEntry{
			Checksum: src.Checksum,
			Resolution: InstallResolution{
				Resolution:              locKey,
				Version:                 src.Version,
				Dependencies:            src.Deps,
				PeerDependencies:        src.Peers,
				OptionalDependencies:    src.Optional,
				MissingPeerDependencies: src.MissingPrs,
				Cpu:                     src.Cpu,
				Os:                      src.Os,
				Libc:                    src.Libc,
			},
		}
	}

	return &InstallLockfile{
		Metadata: InstallMetadata{Version: installLockfileVersion},
		Entries:  entries,
	}, nil
}

// Encode serializes the lockfile deterministically. encoding/json already
// sorts map keys alphabetically on marshal, which gives the "sort keys"
// requirement for free; MarshalIndent is used so the file stays readable
// and diffable in version control, matching how the teacher's legacy
// writers favor human-diffable output.
func (l *InstallLockfile) Encode() ([]byte, error) {
	buf, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

// ParseInstallLockfile decodes the native format. Unknown top-level fields
// are ignored so a newer writer's additions don't break an older reader
// mid-migration.
func ParseInstallLockfile(data []byte) (*InstallLockfile, error) {
	var l InstallLockfile
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("lockfile: invalid native lockfile: %w", err)
	}
	return &l, nil
}

// ExpandMultiKey splits a lockfile entry key back into its individual
// descriptor strings.
func ExpandMultiKey(key string) []string {
	parts := strings.Split(key, ", ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteAtomic writes the lockfile to path using a write-then-rename so a
// crash mid-write never leaves a truncated lockfile on disk, and takes a
// directory-level advisory lock for the duration so two concurrent
// installs in the same project don't interleave writes.
func WriteAtomic(path string, data []byte) error {
	lock, err := lockfile.New(path + ".install-lock")
	if err == nil {
		if lockErr := lock.TryLock(); lockErr == nil {
			defer lock.Unlock()
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lockfile: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("lockfile: rename temp file into place: %w", err)
	}
	return nil
}

// equalBytes is used by tests to compare re-encoded output without
// depending on trailing-newline differences across platforms.
func equalBytes(a, b []byte) bool {
	return bytes.Equal(bytes.TrimRight(a, "\n"), bytes.TrimRight(b, "\n"))
}
