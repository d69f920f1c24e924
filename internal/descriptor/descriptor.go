package descriptor

import (
	"fmt"
	"sort"

	"github.com/quillpm/quill/internal/ident"
	"github.com/quillpm/quill/internal/locator"
)

// Descriptor is what a dependent *asks for*: an ident plus a range. A range
// that must_bind carries a parent locator, so two otherwise-equal
// descriptors with different parents are distinct (see Range.MustBind).
type Descriptor struct {
	Ident  ident.Ident
	Range  Range
	Parent *locator.Locator
}

// New builds a descriptor, binding the parent when the range requires it.
func New(id ident.Ident, r Range, parent *locator.Locator) Descriptor {
	d := Descriptor{Ident: id, Range: r}
	if r.MustBind() {
		d.Parent = parent
	}
	return d
}

// ToFileString renders "ident@range", with the parent folded into the
// string when bound, so that two distinct bound descriptors never collide
// in a flat map.
func (d Descriptor) ToFileString() string {
	if d.Parent != nil {
		return fmt.Sprintf("%s@%s::parent=%s", d.Ident.String(), d.Range.ToFileString(), d.Parent.ToFileString())
	}
	return fmt.Sprintf("%s@%s", d.Ident.String(), d.Range.ToFileString())
}

// ToHumanString renders a descriptor for diagnostics, omitting the parent
// binding noise.
func (d Descriptor) ToHumanString() string {
	return fmt.Sprintf("%s@%s", d.Ident.String(), d.Range.ToHumanString())
}

// String implements fmt.Stringer.
func (d Descriptor) String() string { return d.ToFileString() }

// Equal reports structural equality, including the parent binding.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.ToFileString() == other.ToFileString()
}

// ByFileString sorts descriptors by their canonical string form, giving the
// deterministic ordering the resolver and lockfile serializer depend on.
type ByFileString []Descriptor

func (b ByFileString) Len() int      { return len(b) }
func (b ByFileString) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByFileString) Less(i, j int) bool {
	return b[i].ToFileString() < b[j].ToFileString()
}

var _ sort.Interface = ByFileString(nil)

// Sort sorts a slice of descriptors in place by canonical string form.
func Sort(ds []Descriptor) {
	sort.Sort(ByFileString(ds))
}
