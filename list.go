package udev

import (
	"iter"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Property is a name with an optional value, as stored in the registry's
// lists.
type Property struct {
	Name     string
	Value    string
	HasValue bool
}

// anchor owns the storage a list points into. The generation moves
// whenever that storage may have been rebuilt, which ends any cursor
// opened before the move.
type anchor interface {
	generation() uint64
	valid(gen uint64) bool
}

// listCursor walks a native list from head to tail, one node per call.
type listCursor struct {
	lib   libudev.Library
	entry libudev.ListEntry
	owner anchor
	gen   uint64
}

func (c *listCursor) next() (Property, bool) {
	if c.entry == 0 || !c.owner.valid(c.gen) {
		return Property{}, false
	}
	p := Property{Name: c.lib.ListEntryGetName(c.entry)}
	p.Value, p.HasValue = c.lib.ListEntryGetValue(c.entry)
	c.entry = c.lib.ListEntryGetNext(c.entry)
	return p, true
}

// walk returns a sequence that fetches the list head each time it is
// ranged over, so every range starts again from the first node.
func walk(lib libudev.Library, owner anchor, head func() libudev.ListEntry) iter.Seq[Property] {
	return func(yield func(Property) bool) {
		gen := owner.generation()
		if !owner.valid(gen) {
			return
		}
		cursor := &listCursor{lib: lib, entry: head(), owner: owner, gen: gen}
		for {
			p, ok := cursor.next()
			if !ok || !yield(p) {
				return
			}
		}
	}
}

func names(seq iter.Seq[Property]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for p := range seq {
			if !yield(p.Name) {
				return
			}
		}
	}
}
