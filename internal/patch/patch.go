// Package patch implements the patch engine (spec §4.K): parsing a unified
// diff into typed parts and applying them against an in-memory file set.
// Parsing is grounded on github.com/sourcegraph/go-diff/diff, the same
// library the teacher's internal/scm/git.go uses to turn `git diff` output
// into hunks for its changed-lines detector.
package patch

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Kind tags which variant a Part holds.
type Kind int

const (
	KindFilePatch Kind = iota
	KindFileDeletion
	KindFileCreation
	KindFileRename
	KindFileModeChange
)

// devNull is the sentinel go-diff (and git) uses for a file side that
// doesn't exist.
const devNull = "/dev/null"

// Hunk is one parsed, line-count-verified hunk of a FilePatch.
type Hunk struct {
	OrigStartLine int32
	OrigLines     int32
	NewStartLine  int32
	NewLines      int32
	// Context carries the hunk body split into lines, each still prefixed
	// with its leading ' '/'-'/'+' marker, the form Apply matches against
	// the target file's existing lines.
	Context []string
}

// Part is one file-level operation a patch performs. Non-patch kinds carry
// only the fields relevant to that kind.
type Part struct {
	Kind Kind
	Path string

	// KindFileRename
	OldPath string

	// KindFileModeChange / KindFileCreation
	Mode os.FileMode

	// KindFilePatch / KindFileCreation
	Hunks []Hunk

	// SemverExclusive, when non-empty, restricts this part to apply only
	// when the target package's version matches exactly (descriptor
	// Range.SemverExclusive carries this from the patch: url).
	SemverExclusive string
}

// UnmatchedHunkError is returned when a hunk's recorded context could not be
// located verbatim in the target file.
type UnmatchedHunkError struct {
	Path  string
	Index int
}

func (e *UnmatchedHunkError) Error() string {
	return fmt.Sprintf("patch: hunk %d of %s did not match", e.Index, e.Path)
}

// HunkIntegrityError is returned when a hunk's declared line counts don't
// match the actual number of context+deletion / context+insertion lines in
// its body.
type HunkIntegrityError struct {
	Path  string
	Index int
	Want  string
	Got   int
}

func (e *HunkIntegrityError) Error() string {
	return fmt.Sprintf("patch: hunk %d of %s has inconsistent %s line count (got %d)", e.Index, e.Path, e.Want, e.Got)
}

// InvalidModeError is returned when a "new mode" header names a mode other
// than 0644/0755, the only two regular-file modes a patch is allowed to set
// per spec §4.K.
type InvalidModeError struct {
	Path string
	Raw  string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("patch: %s: unsupported mode %q", e.Path, e.Raw)
}

// Parse decodes a unified diff into its constituent parts. semverExclusive
// is applied to every part parsed (a single patch file is all-or-nothing
// with respect to its version predicate).
func Parse(data []byte, semverExclusive string) ([]Part, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("patch: parse: %w", err)
	}

	parts := make([]Part, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		part, err := partFromFileDiff(fd)
		if err != nil {
			return nil, err
		}
		part.SemverExclusive = semverExclusive
		parts = append(parts, part)
	}
	return parts, nil
}

func partFromFileDiff(fd *diff.FileDiff) (Part, error) {
	origPath := strings.TrimPrefix(fd.OrigName, "a/")
	newPath := strings.TrimPrefix(fd.NewName, "b/")

	if rename, ok := renameFromExtended(fd.Extended); ok {
		return Part{Kind: KindFileRename, OldPath: rename.from, Path: rename.to}, nil
	}
	if raw, present := newModeLine(fd.Extended); present {
		mode, ok := parseOctalMode(raw)
		if !ok {
			return Part{}, &InvalidModeError{Path: newPath, Raw: strings.TrimSpace(raw)}
		}
		return Part{Kind: KindFileModeChange, Path: newPath, Mode: mode}, nil
	}

	if origPath == devNull {
		hunks, err := parseHunks(newPath, fd.Hunks)
		if err != nil {
			return Part{}, err
		}
		return Part{Kind: KindFileCreation, Path: newPath, Mode: 0o644, Hunks: hunks}, nil
	}
	if newPath == devNull {
		return Part{Kind: KindFileDeletion, Path: origPath}, nil
	}

	hunks, err := parseHunks(origPath, fd.Hunks)
	if err != nil {
		return Part{}, err
	}
	return Part{Kind: KindFilePatch, Path: origPath, Hunks: hunks}, nil
}

type renameHeader struct{ from, to string }

func renameFromExtended(lines []string) (renameHeader, bool) {
	var rh renameHeader
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "rename from "):
			rh.from = strings.TrimPrefix(line, "rename from ")
		case strings.HasPrefix(line, "rename to "):
			rh.to = strings.TrimPrefix(line, "rename to ")
		}
	}
	return rh, rh.from != "" && rh.to != ""
}

func newModeLine(lines []string) (string, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, "new mode ") {
			return strings.TrimPrefix(line, "new mode "), true
		}
	}
	return "", false
}

// parseOctalMode rejects anything but the two modes git/node actually use
// for regular files, per spec §4.K. git's regular-file type bits (the
// "100" of "100755") are accepted and stripped.
func parseOctalMode(raw string) (os.FileMode, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 8, 32)
	if err != nil {
		return 0, false
	}
	if v&^0o777 == 0o100000 {
		v &= 0o777
	}
	switch v {
	case 0o644, 0o755:
		return os.FileMode(v), true
	default:
		return 0, false
	}
}

func parseHunks(path string, in []*diff.Hunk) ([]Hunk, error) {
	out := make([]Hunk, 0, len(in))
	for i, h := range in {
		lines := splitHunkBody(h.Body)
		origCount, newCount := 0, 0
		for _, l := range lines {
			if l == "" {
				continue
			}
			switch l[0] {
			case ' ':
				origCount++
				newCount++
			case '-':
				origCount++
			case '+':
				newCount++
			}
		}
		if int32(origCount) != h.OrigLines {
			return nil, &HunkIntegrityError{Path: path, Index: i, Want: "original", Got: origCount}
		}
		if int32(newCount) != h.NewLines {
			return nil, &HunkIntegrityError{Path: path, Index: i, Want: "modified", Got: newCount}
		}
		out = append(out, Hunk{
			OrigStartLine: h.OrigStartLine,
			OrigLines:     h.OrigLines,
			NewStartLine:  h.NewStartLine,
			NewLines:      h.NewLines,
			Context:       lines,
		})
	}
	return out, nil
}

func splitHunkBody(body []byte) []string {
	raw := strings.Split(string(body), "\n")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	return raw
}
