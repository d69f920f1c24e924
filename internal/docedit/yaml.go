package docedit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// YAMLDocument is a format-preserving YAML editor: analogous to
// JSONDocument, it indexes the byte offset of every mapping key on
// construction (line-based rather than token-based, since YAML structure is
// carried by indentation) and rewrites only the smallest possible line range
// for each Set/Remove, re-scanning afterward so offsets stay valid.
//
// Only block and flow *mappings* of scalar/array/object values are
// addressed by path; sequences are only produced/consumed in flow form
// (`[a, b]`), matching the settings/lockfile documents this editor targets.
type YAMLDocument struct {
	input   []byte
	offsets map[string]*yamlEntry
	Changed bool
}

// yamlEntry records where one mapping key's line(s) live.
type yamlEntry struct {
	path Path

	indent    int // number of leading spaces on the key's line
	lineStart int // offset of the first byte of the key's line
	blockEnd  int // offset one past this entry's last byte (inline value's
	// line end, or the last line of a nested block's final descendant)
	isBlock bool // true if the value is a nested mapping (no inline text
	// immediately after the colon; children follow indented)
	inline string // trimmed inline value text, only meaningful if !isBlock
}

type yline struct {
	start, contentEnd, lineEnd int
	indent                     int
	blank, comment             bool
}

// NewYAMLDocument parses input, which must be a single top-level mapping
// (or empty).
func NewYAMLDocument(input []byte) (*YAMLDocument, error) {
	d := &YAMLDocument{input: append([]byte(nil), input...)}
	if err := d.rescan(); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes returns the current document contents.
func (d *YAMLDocument) Bytes() []byte { return d.input }

// Has reports whether path currently resolves to a mapping key.
func (d *YAMLDocument) Has(path Path) bool {
	_, ok := d.offsets[path.key()]
	return ok
}

func splitYAMLLines(input []byte) []yline {
	var lines []yline
	start := 0
	for start <= len(input) {
		nl := indexByte(input, start, '\n')
		var contentEnd, lineEnd int
		if nl < 0 {
			contentEnd = len(input)
			lineEnd = len(input)
		} else {
			contentEnd = nl
			lineEnd = nl + 1
		}
		if contentEnd > start && input[contentEnd-1] == '\r' {
			contentEnd--
		}
		indent := 0
		for indent < contentEnd-start && input[start+indent] == ' ' {
			indent++
		}
		trimmed := strings.TrimSpace(string(input[start+indent : contentEnd]))
		lines = append(lines, yline{
			start:      start,
			contentEnd: contentEnd,
			lineEnd:    lineEnd,
			indent:     indent,
			blank:      trimmed == "",
			comment:    strings.HasPrefix(trimmed, "#"),
		})
		if nl < 0 {
			break
		}
		start = lineEnd
	}
	return lines
}

func indexByte(b []byte, from int, c byte) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func (d *YAMLDocument) rescan() error {
	lines := splitYAMLLines(d.input)
	idx := map[string]*yamlEntry{}
	if _, err := parseYAMLMapping(d.input, lines, 0, -1, Path{}, idx); err != nil {
		return err
	}
	d.offsets = idx
	return nil
}

// parseYAMLMapping consumes every line belonging to one mapping level
// (indent strictly greater than parentIndent, all sharing one indent value),
// recursing into nested block mappings. It returns the index of the first
// line not belonging to this level.
func parseYAMLMapping(input []byte, lines []yline, i, parentIndent int, path Path, idx map[string]*yamlEntry) (int, error) {
	levelIndent := -1
	for i < len(lines) {
		ln := lines[i]
		if ln.blank || ln.comment {
			i++
			continue
		}
		if ln.indent <= parentIndent {
			break
		}
		if levelIndent == -1 {
			levelIndent = ln.indent
		} else if ln.indent != levelIndent {
			break
		}

		key, colonOffset, ok := parseYAMLKeyLine(input, ln)
		if !ok {
			return 0, fmt.Errorf("docedit: yaml: expected a mapping key at offset %d", ln.start+ln.indent)
		}

		entryPath := append(append(Path{}, path...), key)
		entry := &yamlEntry{path: entryPath, indent: ln.indent, lineStart: ln.start}

		valueStart := colonOffset + 1
		for valueStart < ln.contentEnd && input[valueStart] == ' ' {
			valueStart++
		}
		inline := strings.TrimRight(string(input[valueStart:ln.contentEnd]), " \t")

		i++
		if inline != "" {
			entry.inline = inline
		} else {
			childStart := i
			next, err := parseYAMLMapping(input, lines, i, ln.indent, entryPath, idx)
			if err != nil {
				return 0, err
			}
			if next > childStart {
				entry.isBlock = true
				i = next
			}
		}

		if i < len(lines) {
			entry.blockEnd = lines[i].start
		} else {
			entry.blockEnd = len(input)
		}
		idx[entryPath.key()] = entry
	}
	return i, nil
}

// parseYAMLKeyLine splits a non-blank, non-comment line into its key text
// and the offset of the colon that separates key from value. Quoted keys
// have their surrounding quotes stripped.
func parseYAMLKeyLine(input []byte, ln yline) (key string, colonOffset int, ok bool) {
	content := input[ln.start+ln.indent : ln.contentEnd]
	colon := -1
	for i := 0; i < len(content); i++ {
		if content[i] == ':' && (i == len(content)-1 || content[i+1] == ' ') {
			colon = i
			break
		}
	}
	if colon < 0 {
		return "", 0, false
	}
	raw := strings.TrimSpace(string(content[:colon]))
	if raw == "" || strings.HasPrefix(raw, "-") {
		return "", 0, false
	}
	if len(raw) >= 2 && (raw[0] == '"' && raw[len(raw)-1] == '"' || raw[0] == '\'' && raw[len(raw)-1] == '\'') {
		raw = raw[1 : len(raw)-1]
	}
	return raw, ln.start + ln.indent + colon, true
}

func (d *YAMLDocument) replaceRange(start, end int, data []byte) error {
	out := make([]byte, 0, len(d.input)-(end-start)+len(data))
	out = append(out, d.input[:start]...)
	out = append(out, data...)
	out = append(out, d.input[end:]...)
	d.input = out
	d.Changed = true
	return d.rescan()
}

// Set writes value at path, updating an existing key in place, creating
// intermediate mappings and inserting a new key in sorted position among
// its siblings, or removing the key when value is Undefined.
func (d *YAMLDocument) Set(path Path, value Value) error {
	if len(path) == 0 {
		return nil
	}
	if value.Kind == KindUndefined {
		return d.Remove(path)
	}
	if entry, ok := d.offsets[path.key()]; ok {
		return d.updateEntry(path, entry, value)
	}
	return d.insertKey(path, value)
}

// Remove deletes the key at path, a no-op if it doesn't exist. If removing
// it empties its parent mapping, the parent is removed too (recursively),
// matching JSONDocument's "last key" cascade.
func (d *YAMLDocument) Remove(path Path) error {
	entry, ok := d.offsets[path.key()]
	if !ok {
		return nil
	}
	if err := d.replaceRange(entry.lineStart, entry.blockEnd, nil); err != nil {
		return err
	}

	parent, hasParent := path.Parent()
	if !hasParent || len(parent) == 0 {
		return nil
	}
	if _, ok := d.offsets[parent.key()]; !ok {
		return nil
	}
	for _, e := range d.offsets {
		if e.path.IsDirectChildOf(parent) {
			return nil
		}
	}
	return d.Remove(parent)
}

func (d *YAMLDocument) updateEntry(path Path, entry *yamlEntry, value Value) error {
	text := renderYAMLEntry(path.Last(), strings.Repeat(" ", entry.indent), value)
	return d.replaceRange(entry.lineStart, entry.blockEnd, []byte(text))
}

func (d *YAMLDocument) insertKey(path Path, value Value) error {
	parent, hasParent := path.Parent()
	key := path.Last()
	if !hasParent || len(parent) == 0 {
		return d.insertAt(Path{}, 0, len(d.input), key, value)
	}
	return d.insertNestedKey(parent, key, value)
}

func (d *YAMLDocument) ensureObjectKey(path Path) error {
	if d.Has(path) {
		return nil
	}
	return d.insertKey(path, Obj())
}

func (d *YAMLDocument) insertNestedKey(parent Path, key string, value Value) error {
	if err := d.ensureObjectKey(parent); err != nil {
		return err
	}
	parentEntry, ok := d.offsets[parent.key()]
	if !ok {
		return fmt.Errorf("docedit: yaml: parent key %q missing after ensure", parent.String())
	}
	if !parentEntry.isBlock && parentEntry.inline == "{}" {
		return d.updateEntry(parent, parentEntry, Obj(Field(key, value)))
	}
	return d.insertAt(parent, parentEntry.indent+2, parentEntry.blockEnd, key, value)
}

// insertAt places a new key among parent's direct children: before the
// first lexicographically-greater sibling, after the last lesser one, or at
// anchor if parent currently has none.
func (d *YAMLDocument) insertAt(parent Path, childIndent, anchor int, key string, value Value) error {
	var before, after []*yamlEntry
	for _, e := range d.offsets {
		if !e.path.IsDirectChildOf(parent) {
			continue
		}
		if e.path.Last() < key {
			before = append(before, e)
		} else {
			after = append(after, e)
		}
	}
	sort.Slice(before, func(i, j int) bool { return before[i].lineStart < before[j].lineStart })
	sort.Slice(after, func(i, j int) bool { return after[i].lineStart < after[j].lineStart })

	text := renderYAMLEntry(key, strings.Repeat(" ", childIndent), value)

	if len(after) > 0 {
		return d.replaceRange(after[0].lineStart, after[0].lineStart, []byte(text))
	}
	if len(before) > 0 {
		last := before[len(before)-1]
		return d.replaceRange(last.blockEnd, last.blockEnd, []byte(text))
	}
	if anchor > 0 && anchor <= len(d.input) && d.input[anchor-1] != '\n' {
		text = "\n" + text
	}
	return d.replaceRange(anchor, anchor, []byte(text))
}

// SortKeys sorts the mapping at path (or the document root, for an empty
// path) alphabetically by key, preserving each entry's exact original bytes
// (including nested children and comments) and their relative contiguous
// placement.
func (d *YAMLDocument) SortKeys(path Path) bool {
	if len(path) > 0 {
		e, ok := d.offsets[path.key()]
		if !ok || !e.isBlock {
			return false
		}
	}

	var children []*yamlEntry
	for _, e := range d.offsets {
		if e.path.IsDirectChildOf(path) {
			children = append(children, e)
		}
	}
	if len(children) < 2 {
		return false
	}
	sort.Slice(children, func(i, j int) bool { return children[i].lineStart < children[j].lineStart })

	sorted := make([]*yamlEntry, len(children))
	copy(sorted, children)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].path.Last() < sorted[j].path.Last() })

	changed := false
	for i := range children {
		if children[i].path.Last() != sorted[i].path.Last() {
			changed = true
			break
		}
	}
	if !changed {
		return false
	}

	first := children[0].lineStart
	last := children[len(children)-1].blockEnd
	var buf []byte
	for _, e := range sorted {
		buf = append(buf, d.input[e.lineStart:e.blockEnd]...)
	}
	if err := d.replaceRange(first, last, buf); err != nil {
		return false
	}
	return true
}

func renderYAMLEntry(key, indent string, value Value) string {
	switch value.Kind {
	case KindObject:
		if len(value.Entries) == 0 {
			return indent + key + ": {}\n"
		}
		var b strings.Builder
		b.WriteString(indent + key + ":\n")
		childIndent := indent + "  "
		for _, e := range value.Entries {
			b.WriteString(renderYAMLEntry(e.Key, childIndent, e.Value))
		}
		return b.String()
	case KindArray:
		return indent + key + ": " + yamlFlow(value) + "\n"
	default:
		return indent + key + ": " + yamlScalar(value) + "\n"
	}
}

func yamlFlow(v Value) string {
	switch v.Kind {
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = yamlFlow(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		if len(v.Entries) == 0 {
			return "{}"
		}
		parts := make([]string, len(v.Entries))
		for i, e := range v.Entries {
			parts[i] = e.Key + ": " + yamlFlow(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return yamlScalar(v)
	}
}

func yamlScalar(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.Number
	case KindString:
		if yamlNeedsQuote(v.String) {
			return yamlQuote(v.String)
		}
		return v.String
	default:
		return "null"
	}
}

// yamlNeedsQuote reports whether a plain scalar would be misread as a bool,
// null, or number, or contains a YAML structural character that would
// otherwise break a flow/block scalar, per spec §4.B.
func yamlNeedsQuote(s string) bool {
	if s == "" {
		return true
	}
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no", "on", "off", "null", "~", "nan", "inf", "-inf", "+inf":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseInt(s, 0, 64); err == nil {
		return true
	}
	if strings.ContainsAny(string(s[0]), "!&*?|>%@`\"'#,[]{}-: \t") {
		return true
	}
	if strings.HasSuffix(s, " ") || strings.HasSuffix(s, ":") {
		return true
	}
	if strings.Contains(s, ": ") || strings.Contains(s, " #") || strings.ContainsAny(s, "\n\t") {
		return true
	}
	return false
}

func yamlQuote(s string) string {
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
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
