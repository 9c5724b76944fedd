// Package playfield holds the scene graph shared between the organizer and
// the displays: a fixed-size canvas with a sparse set of caller-identified
// forms.
package playfield

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateID = errors.New("playfield: id already holds a form")
	ErrNotFound    = errors.New("playfield: id was never set")
	ErrInvalidSize = errors.New("playfield: width and height must be positive")
)

// Playfield maps integer ids to forms within one coordinate space. A nil
// form at a known id is a tombstone: it renders as nothing, like an absent
// id, but is reported as a deletion when the playfield is published.
//
// A Playfield is not safe for concurrent use.
type Playfield struct {
	width  int
	height int
	forms  map[int]Form
}

// New returns an empty playfield of the given size.
func New(width, height int) (*Playfield, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInvalidSize, width, height)
	}
	return &Playfield{width: width, height: height, forms: make(map[int]Form)}, nil
}

// MustNew is like New but panics on an invalid size.
func MustNew(width, height int) *Playfield {
	p, err := New(width, height)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Playfield) Width() int  { return p.width }
func (p *Playfield) Height() int { return p.height }

// Put stores f at id unconditionally. A nil f tombstones the id.
func (p *Playfield) Put(id int, f Form) {
	p.forms[id] = f
}

// Add stores f at id unless the id already holds a form.
func (p *Playfield) Add(id int, f Form) error {
	if cur, ok := p.forms[id]; ok && cur != nil {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	p.forms[id] = f
	return nil
}

// Update replaces the form at an id that has been set before.
func (p *Playfield) Update(id int, f Form) error {
	if _, ok := p.forms[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	p.forms[id] = f
	return nil
}

// Delete tombstones an id that has been set before.
func (p *Playfield) Delete(id int) error {
	if _, ok := p.forms[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	p.forms[id] = nil
	return nil
}

// Get returns the form at id. Absent and tombstoned ids both report false.
func (p *Playfield) Get(id int) (Form, bool) {
	f := p.forms[id]
	return f, f != nil
}

// Known reports whether id has ever been set, tombstones included.
func (p *Playfield) Known(id int) bool {
	_, ok := p.forms[id]
	return ok
}

// Clear tombstones every known id. Keys are kept so the next publish reports
// each removal exactly once.
func (p *Playfield) Clear() {
	for id := range p.forms {
		p.forms[id] = nil
	}
}

// Forms returns a copy of the id to form mapping, tombstones included.
func (p *Playfield) Forms() map[int]Form {
	out := make(map[int]Form, len(p.forms))
	for id, f := range p.forms {
		out[id] = f
	}
	return out
}

// IDs returns every known id in ascending order.
func (p *Playfield) IDs() []int {
	ids := make([]int, 0, len(p.forms))
	for id := range p.forms {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of ids holding a form.
func (p *Playfield) Len() int {
	n := 0
	for _, f := range p.forms {
		if f != nil {
			n++
		}
	}
	return n
}

// Clone returns an independent copy. Forms are values and are shared.
func (p *Playfield) Clone() *Playfield {
	return &Playfield{width: p.width, height: p.height, forms: p.Forms()}
}

// Equal reports whether p and o have the same size, the same known ids and
// equal forms at every id.
func (p *Playfield) Equal(o *Playfield) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.width != o.width || p.height != o.height || len(p.forms) != len(o.forms) {
		return false
	}
	for id, f := range p.forms {
		g, ok := o.forms[id]
		if !ok || !FormsEqual(f, g) {
			return false
		}
	}
	return true
}

// Visible is like Equal but treats tombstones as absent.
func (p *Playfield) Visible(o *Playfield) bool {
	if p.width != o.width || p.height != o.height || p.Len() != o.Len() {
		return false
	}
	for id, f := range p.forms {
		if f == nil {
			continue
		}
		if !FormsEqual(f, o.forms[id]) {
			return false
		}
	}
	return true
}

func (p *Playfield) String() string {
	return fmt.Sprintf("Playfield(%dx%d, %d forms, %d ids)", p.width, p.height, p.Len(), len(p.forms))
}
