package docedit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// JSONDocument is a format-preserving JSON editor: it indexes the byte
// offset of every object key on construction, then rewrites only the
// smallest possible byte range for each Set/Remove, re-scanning afterward
// so offsets stay valid for the next call.
type JSONDocument struct {
	input   []byte
	offsets map[string]int // Path.key() -> byte offset of the key's opening quote
	Changed bool
}

// NewJSONDocument parses input and indexes every key's offset. input must be
// a single top-level JSON object; arrays and scalars are not supported as
// document roots, matching the package.json / lockfile use case this editor
// serves.
func NewJSONDocument(input []byte) (*JSONDocument, error) {
	d := &JSONDocument{input: append([]byte(nil), input...)}
	if err := d.rescan(); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes returns the current document contents.
func (d *JSONDocument) Bytes() []byte { return d.input }

// Has reports whether path currently resolves to a key in the document.
func (d *JSONDocument) Has(path Path) bool {
	_, ok := d.offsets[path.key()]
	return ok
}

func (d *JSONDocument) rescan() error {
	s := newScanner(d.input, 0)
	s.indexing = true
	s.path = Path{}
	s.skipWhitespace()
	if err := s.skipObject(); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipEOF(); err != nil {
		return err
	}
	d.offsets = s.fields
	return nil
}

// Set writes value at path, updating an existing key in place, inserting a
// new one in sorted position among its siblings, or removing the key when
// value is Undefined.
func (d *JSONDocument) Set(path Path, value Value) error {
	offset, ok := d.offsets[path.key()]
	if value.Kind == KindUndefined {
		if ok {
			return d.removeKeyAt(path, offset)
		}
		return nil
	}
	if ok {
		return d.updateKeyAt(path, offset, value)
	}
	return d.insertKey(path, value)
}

// Remove deletes the key at path, a no-op if it doesn't exist.
func (d *JSONDocument) Remove(path Path) error {
	return d.Set(path, Undefined())
}

func (d *JSONDocument) replaceRange(start, end int, data []byte) error {
	out := make([]byte, 0, len(d.input)-(end-start)+len(data))
	out = append(out, d.input[:start]...)
	out = append(out, data...)
	out = append(out, d.input[end:]...)
	d.input = out
	d.Changed = true
	return d.rescan()
}

func (d *JSONDocument) removeKeyAt(path Path, keyOffset int) error {
	previousStop := -1
	for i := keyOffset - 1; i >= 0; i-- {
		if d.input[i] == '{' || d.input[i] == ',' {
			previousStop = i
			break
		}
	}
	if previousStop < 0 {
		return fmt.Errorf("docedit: key at %d not preceded by '{' or ','", keyOffset)
	}

	s := newScanner(d.input, keyOffset)
	if err := s.skipString(); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipChar(':'); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipValue(); err != nil {
		return err
	}
	postValueOffset := s.offset
	s.skipWhitespace()

	isFirstKey := d.input[previousStop] == '{'
	isLastKey := s.offset < len(d.input) && d.input[s.offset] == '}'

	switch {
	case isFirstKey && isLastKey && previousStop != 0:
		parent, _ := path.Parent()
		return d.Set(parent, Undefined())
	case isFirstKey && isLastKey:
		return d.replaceRange(previousStop+1, s.offset, nil)
	case isFirstKey && !isLastKey:
		if err := s.skipChar(','); err != nil {
			return err
		}
		s.skipWhitespace()
		return d.replaceRange(keyOffset, s.offset, nil)
	default:
		return d.replaceRange(previousStop, postValueOffset, nil)
	}
}

func (d *JSONDocument) updateKeyAt(path Path, keyOffset int, value Value) error {
	indent, err := d.findPropertyIndent(path, keyOffset)
	if err != nil {
		return err
	}

	s := newScanner(d.input, keyOffset)
	if err := s.skipString(); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipChar(':'); err != nil {
		return err
	}
	s.skipWhitespace()
	preValueOffset := s.offset
	if err := s.skipValue(); err != nil {
		return err
	}
	return d.replaceRange(preValueOffset, s.offset, []byte(value.ToIndentedJSON(indent)))
}

func (d *JSONDocument) insertKey(path Path, value Value) error {
	if len(path) == 0 {
		return nil
	}
	parent, _ := path.Parent()
	key := path.Last()
	if len(parent) == 0 {
		return d.insertTopLevelKey(key, value)
	}
	return d.insertNestedKey(parent, key, value)
}

func (d *JSONDocument) ensureObjectKey(path Path) error {
	if d.Has(path) {
		return nil
	}
	return d.insertKey(path, Obj())
}

func (d *JSONDocument) insertNestedKey(parent Path, key string, value Value) error {
	if err := d.ensureObjectKey(parent); err != nil {
		return err
	}
	parentOffset, ok := d.offsets[parent.key()]
	if !ok {
		return fmt.Errorf("docedit: parent key %q missing after ensure", parent.String())
	}

	s := newScanner(d.input, parentOffset)
	if err := s.skipString(); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipChar(':'); err != nil {
		return err
	}
	s.skipWhitespace()

	indent, err := d.findPropertyIndent(parent, parentOffset)
	if err != nil {
		return err
	}
	return d.insertAt(s.offset, parent, key, indent, value)
}

func (d *JSONDocument) insertTopLevelKey(key string, value Value) error {
	s := newScanner(d.input, 0)
	s.skipWhitespace()

	two := 2
	objIndent, err := d.findObjectIndent(s.offset, &objectIndentInfo{indent: &two})
	if err != nil {
		return err
	}
	indent := Indent{}
	if objIndent != nil {
		indent.ChildIndent = objIndent.indent
		indent.Tabs = objIndent.tabs
	}
	return d.insertAt(s.offset, Path{}, key, indent, value)
}

func (d *JSONDocument) insertBeforeProperty(nextPropertyOffset int, key string, indent Indent, value Value) error {
	s := newScanner(d.input, nextPropertyOffset)
	priorWS := s.priorWhitespace()
	if len(priorWS) == 0 && s.rpeek() == '{' {
		priorWS = []byte{' '}
	}

	var buf []byte
	buf = append(buf, jsonQuote(key)...)
	buf = append(buf, ':', ' ')
	buf = append(buf, value.ToIndentedJSON(indent)...)
	buf = append(buf, ',')
	buf = append(buf, priorWS...)

	return d.replaceRange(nextPropertyOffset, nextPropertyOffset, buf)
}

func (d *JSONDocument) insertAfterProperty(previousPropertyOffset int, key string, indent Indent, value Value) error {
	s := newScanner(d.input, previousPropertyOffset)
	priorWS := s.priorWhitespace()
	if len(priorWS) == 0 {
		tmp := newScanner(d.input, previousPropertyOffset)
		tmp.rskipWhitespace()
		if tmp.rpeek() == '{' {
			priorWS = []byte{' '}
		}
	}

	if err := s.skipString(); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipChar(':'); err != nil {
		return err
	}
	s.skipWhitespace()
	if err := s.skipValue(); err != nil {
		return err
	}

	var buf []byte
	buf = append(buf, ',')
	buf = append(buf, priorWS...)
	buf = append(buf, jsonQuote(key)...)
	buf = append(buf, ':', ' ')
	buf = append(buf, value.ToIndentedJSON(indent)...)

	return d.replaceRange(s.offset, s.offset, buf)
}

func (d *JSONDocument) insertIntoEmpty(objectOffset int, key string, indent Indent, value Value) error {
	s := newScanner(d.input, objectOffset)
	if err := s.skipChar('{'); err != nil {
		return err
	}
	preWS := s.offset
	s.skipWhitespace()
	postWS := s.offset
	if err := s.skipChar('}'); err != nil {
		return err
	}

	var buf []byte
	ch := indent.char()
	if indent.ChildIndent != nil {
		buf = append(buf, '\n')
		for i := 0; i < *indent.ChildIndent; i++ {
			buf = append(buf, ch)
		}
	}
	buf = append(buf, jsonQuote(key)...)
	buf = append(buf, ':', ' ')
	buf = append(buf, value.ToIndentedJSON(indent)...)
	if indent.ChildIndent != nil {
		buf = append(buf, '\n')
		if indent.SelfIndent != nil {
			for i := 0; i < *indent.SelfIndent; i++ {
				buf = append(buf, ch)
			}
		}
	}

	return d.replaceRange(preWS, postWS, buf)
}

func (d *JSONDocument) insertAt(offset int, parent Path, key string, indent Indent, value Value) error {
	var before, after []Path
	for k := range d.offsets {
		p := keyToPath(k)
		if !p.IsDirectChildOf(parent) {
			continue
		}
		if p.Last() < key {
			before = append(before, p)
		} else {
			after = append(after, p)
		}
	}
	sort.Slice(before, func(i, j int) bool { return d.offsets[before[i].key()] < d.offsets[before[j].key()] })
	sort.Slice(after, func(i, j int) bool { return d.offsets[after[i].key()] < d.offsets[after[j].key()] })

	if len(after) > 0 {
		return d.insertBeforeProperty(d.offsets[after[0].key()], key, indent, value)
	}
	if len(before) > 0 {
		return d.insertAfterProperty(d.offsets[before[len(before)-1].key()], key, indent, value)
	}
	return d.insertIntoEmpty(offset, key, indent, value)
}

type objectIndentInfo struct {
	indent *int
	tabs   bool
}

func (d *JSONDocument) findIndentAt(offset int) *objectIndentInfo {
	indent := 0
	tabs := false
	for offset > 0 && d.input[offset-1] == '\t' {
		indent++
		offset--
		tabs = true
	}
	if indent == 0 {
		for offset > 0 && d.input[offset-1] == ' ' {
			indent++
			offset--
		}
	}
	if offset == 0 || d.input[offset-1] == '\n' {
		return &objectIndentInfo{indent: &indent, tabs: tabs}
	}
	return nil
}

func (d *JSONDocument) findObjectIndent(offset int, defaultIfEmpty *objectIndentInfo) (*objectIndentInfo, error) {
	if offset >= len(d.input) {
		return nil, nil
	}
	s := newScanner(d.input, offset)
	switch d.input[offset] {
	case '{':
		if err := s.skipChar('{'); err != nil {
			return nil, err
		}
		s.skipWhitespace()
		if s.peek() == '}' {
			return defaultIfEmpty, nil
		}
		return d.findIndentAt(s.offset), nil
	case '[':
		if err := s.skipChar('['); err != nil {
			return nil, err
		}
		s.skipWhitespace()
		if s.peek() == ']' {
			return defaultIfEmpty, nil
		}
		return d.findIndentAt(s.offset), nil
	default:
		return nil, nil
	}
}

func (d *JSONDocument) findPropertyIndent(path Path, offset int) (Indent, error) {
	selfInfo := d.findIndentAt(offset)
	var selfIndent *int
	tabs := false
	if selfInfo != nil {
		selfIndent = selfInfo.indent
		tabs = selfInfo.tabs
	}

	var suggestedChild *int
	if selfIndent != nil {
		delta := 2
		if tabs {
			delta = 1
		}
		if parent, ok := path.Parent(); ok {
			if parentOffset, ok := d.offsets[parent.key()]; ok {
				if parentInfo := d.findIndentAt(parentOffset); parentInfo != nil {
					if *selfIndent >= *parentInfo.indent {
						delta = *selfIndent - *parentInfo.indent
					} else {
						delta = 0
					}
				}
			}
		}
		v := *selfIndent + delta
		suggestedChild = &v
	} else if offset == 0 {
		v := 2
		if tabs {
			v = 1
		}
		suggestedChild = &v
	}

	s := newScanner(d.input, offset)
	if err := s.skipString(); err != nil {
		return Indent{}, err
	}
	s.skipWhitespace()
	if err := s.skipChar(':'); err != nil {
		return Indent{}, err
	}
	s.skipWhitespace()

	var def *objectIndentInfo
	if suggestedChild != nil {
		def = &objectIndentInfo{indent: suggestedChild, tabs: tabs}
	}
	childInfo, err := d.findObjectIndent(s.offset, def)
	if err != nil {
		return Indent{}, err
	}

	result := Indent{SelfIndent: selfIndent, Tabs: tabs}
	if childInfo != nil {
		result.ChildIndent = childInfo.indent
	}
	return result, nil
}

func keyToPath(k string) Path {
	var segs []string
	if err := json.Unmarshal([]byte(k), &segs); err == nil {
		return Path(segs)
	}
	return ParsePath(k)
}

// scanner walks the byte input to locate token boundaries. When indexing is
// set it records every object key's offset into fields, keyed by the dotted
// path built from the path stack.
type scanner struct {
	input  []byte
	offset int

	indexing bool
	path     Path
	fields   map[string]int
}

func newScanner(input []byte, offset int) *scanner {
	return &scanner{input: input, offset: offset}
}

func (s *scanner) peek() byte {
	if s.offset >= len(s.input) {
		return 0
	}
	return s.input[s.offset]
}

func (s *scanner) rpeek() byte {
	if s.offset == 0 {
		return 0
	}
	return s.input[s.offset-1]
}

func (s *scanner) priorWhitespace() []byte {
	clone := newScanner(s.input, s.offset)
	clone.rskipWhitespace()
	return s.input[clone.offset:s.offset]
}

func (s *scanner) skipWhitespace() {
	for s.offset < len(s.input) {
		c := s.input[s.offset]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			s.offset++
			continue
		}
		break
	}
}

func (s *scanner) rskipWhitespace() {
	for s.offset > 0 {
		c := s.input[s.offset-1]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			s.offset--
			continue
		}
		break
	}
}

func (s *scanner) skipEOF() error {
	if s.offset < len(s.input) {
		return s.syntaxError("EOF")
	}
	return nil
}

func (s *scanner) syntaxError(expected string) error {
	got := "EOF"
	if s.offset < len(s.input) {
		got = string(s.input[s.offset])
	}
	return fmt.Errorf("docedit: expected %s at offset %d, got %q", expected, s.offset, got)
}

func (s *scanner) skipChar(c byte) error {
	if s.offset < len(s.input) && s.input[s.offset] == c {
		s.offset++
		return nil
	}
	return s.syntaxError(fmt.Sprintf("%q", c))
}

func (s *scanner) skipValue() error {
	switch s.peek() {
	case '"':
		return s.skipString()
	case '{':
		return s.skipObject()
	case '[':
		return s.skipArray()
	case 't':
		return s.skipKeyword("true")
	case 'f':
		return s.skipKeyword("false")
	case 'n':
		return s.skipKeyword("null")
	default:
		if c := s.peek(); c >= '0' && c <= '9' || c == '-' {
			return s.skipNumber()
		}
		return s.syntaxError("a value")
	}
}

func (s *scanner) skipKeyword(kw string) error {
	for i := 0; i < len(kw); i++ {
		if err := s.skipChar(kw[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) skipString() error {
	if err := s.skipChar('"'); err != nil {
		return err
	}
	escaped := false
	for s.offset < len(s.input) {
		c := s.input[s.offset]
		switch {
		case escaped:
			escaped = false
			s.offset++
		case c == '\\':
			escaped = true
			s.offset++
		case c == '"':
			s.offset++
			return nil
		default:
			s.offset++
		}
	}
	return s.syntaxError(`'"'`)
}

func (s *scanner) skipNumber() error {
	if s.peek() == '-' {
		s.offset++
	}
	for s.offset < len(s.input) && isDigit(s.input[s.offset]) {
		s.offset++
	}
	if s.peek() == '.' {
		s.offset++
		for s.offset < len(s.input) && isDigit(s.input[s.offset]) {
			s.offset++
		}
	}
	if s.peek() == 'e' || s.peek() == 'E' {
		s.offset++
		if s.peek() == '+' || s.peek() == '-' {
			s.offset++
		}
		for s.offset < len(s.input) && isDigit(s.input[s.offset]) {
			s.offset++
		}
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (s *scanner) skipArray() error {
	if err := s.skipChar('['); err != nil {
		return err
	}
	s.skipWhitespace()
	if s.peek() == ']' {
		return s.skipChar(']')
	}

	index := 0
	for {
		if s.indexing {
			s.path = append(s.path, strconv.Itoa(index))
		}
		if err := s.skipValue(); err != nil {
			return err
		}
		if s.indexing {
			s.path = s.path[:len(s.path)-1]
		}
		s.skipWhitespace()
		switch s.peek() {
		case ',':
			index++
			s.offset++
			s.skipWhitespace()
		case ']':
			s.offset++
			return nil
		default:
			return s.syntaxError("',' or ']'")
		}
	}
}

func (s *scanner) skipKey() error {
	before := s.offset
	if err := s.skipString(); err != nil {
		return err
	}
	if !s.indexing {
		return nil
	}
	var key string
	if err := json.Unmarshal(s.input[before:s.offset], &key); err != nil {
		return fmt.Errorf("docedit: invalid key at offset %d: %w", before, err)
	}
	s.path = append(s.path, key)
	if s.fields == nil {
		s.fields = map[string]int{}
	}
	s.fields[Path(append([]string(nil), s.path...)).key()] = before
	return nil
}

func (s *scanner) skipObject() error {
	if err := s.skipChar('{'); err != nil {
		return err
	}
	s.skipWhitespace()
	if s.peek() == '}' {
		return s.skipChar('}')
	}

	for s.offset < len(s.input) {
		if err := s.skipKey(); err != nil {
			return err
		}
		s.skipWhitespace()
		if err := s.skipChar(':'); err != nil {
			return err
		}
		s.skipWhitespace()
		if err := s.skipValue(); err != nil {
			return err
		}
		s.skipWhitespace()

		if s.indexing && len(s.path) > 0 {
			s.path = s.path[:len(s.path)-1]
		}

		switch s.peek() {
		case ',':
			s.offset++
			s.skipWhitespace()
		case '}':
			s.offset++
			return nil
		default:
			return s.syntaxError("',' or '}'")
		}
	}
	return s.syntaxError("',' or '}'")
}
