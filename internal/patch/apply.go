package patch

import (
	"fmt"
	"os"
	"strings"
)

// Entry is one file in the in-memory entry list a patch applies against
// (the fetcher's unpacked archive, before it's re-archived).
type Entry struct {
	Content []byte
	Mode    os.FileMode
}

// Entries is the in-memory file set Apply mutates, keyed by archive-relative
// path (no node_modules/<ident>/ prefix — the fetcher strips/restores that
// around a patch application).
type Entries map[string]*Entry

// Matches reports whether part applies to a package at the given version,
// honoring its SemverExclusive predicate (empty means "applies always").
func (p Part) Matches(version string) bool {
	return p.SemverExclusive == "" || p.SemverExclusive == version
}

// Apply runs parts against entries in order, matching each part's
// SemverExclusive predicate against version first. A hunk whose recorded
// context can't be found verbatim in its target file is a hard error.
func Apply(entries Entries, parts []Part, version string) error {
	for _, part := range parts {
		if !part.Matches(version) {
			continue
		}
		if err := applyPart(entries, part); err != nil {
			return err
		}
	}
	return nil
}

func applyPart(entries Entries, part Part) error {
	switch part.Kind {
	case KindFileCreation:
		entries[part.Path] = &Entry{Content: []byte(renderedInsertions(part.Hunks)), Mode: part.Mode}
		return nil
	case KindFileDeletion:
		delete(entries, part.Path)
		return nil
	case KindFileRename:
		e, ok := entries[part.OldPath]
		if !ok {
			return fmt.Errorf("patch: rename source %s not found", part.OldPath)
		}
		delete(entries, part.OldPath)
		entries[part.Path] = e
		return nil
	case KindFileModeChange:
		e, ok := entries[part.Path]
		if !ok {
			return fmt.Errorf("patch: mode change target %s not found", part.Path)
		}
		e.Mode = part.Mode
		return nil
	case KindFilePatch:
		e, ok := entries[part.Path]
		if !ok {
			return fmt.Errorf("patch: target %s not found", part.Path)
		}
		patched, err := applyHunks(part.Path, e.Content, part.Hunks)
		if err != nil {
			return err
		}
		e.Content = patched
		return nil
	default:
		return fmt.Errorf("patch: unknown part kind %d", part.Kind)
	}
}

func renderedInsertions(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		for _, line := range h.Context {
			if line == "" {
				continue
			}
			if line[0] == '+' {
				b.WriteString(line[1:])
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// applyHunks locates each hunk's context+deletion lines verbatim in the
// file's current lines and replaces them with its context+insertion lines.
// Hunks are applied in order against a running line cursor so an earlier
// hunk's shift in line count doesn't throw off a later hunk's search.
func applyHunks(path string, content []byte, hunks []Hunk) ([]byte, error) {
	lines := splitLines(string(content))
	offset := 0

	for i, h := range hunks {
		before, after := hunkSides(h.Context)

		idx := findContext(lines, before, int(h.OrigStartLine)-1+offset)
		if idx < 0 {
			return nil, &UnmatchedHunkError{Path: path, Index: i}
		}

		lines = append(lines[:idx], append(after, lines[idx+len(before):]...)...)
		offset += len(after) - len(before)
	}

	return []byte(strings.Join(lines, "\n")), nil
}

// hunkSides splits a hunk's context lines into the "original" view (context
// + deletions) and "modified" view (context + insertions), each stripped of
// its leading marker.
func hunkSides(context []string) (before, after []string) {
	for _, line := range context {
		if line == "" {
			continue
		}
		switch line[0] {
		case ' ':
			before = append(before, line[1:])
			after = append(after, line[1:])
		case '-':
			before = append(before, line[1:])
		case '+':
			after = append(after, line[1:])
		}
	}
	return before, after
}

// findContext locates before verbatim in lines, preferring the hunk's
// declared position and falling back to a full scan if the file has
// shifted (e.g. an earlier hunk in the same patch already moved lines
// around in a way the naive offset tracking didn't predict exactly).
func findContext(lines []string, before []string, hint int) int {
	if len(before) == 0 {
		if hint >= 0 && hint <= len(lines) {
			return hint
		}
		return -1
	}
	if hint >= 0 && matchesAt(lines, before, hint) {
		return hint
	}
	for i := 0; i+len(before) <= len(lines); i++ {
		if matchesAt(lines, before, i) {
			return i
		}
	}
	return -1
}

func matchesAt(lines []string, before []string, at int) bool {
	if at < 0 || at+len(before) > len(lines) {
		return false
	}
	for j, want := range before {
		if lines[at+j] != want {
			return false
		}
	}
	return true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
