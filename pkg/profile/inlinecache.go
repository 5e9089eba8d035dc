// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package profile

import "sort"

// individualInlineCacheSize is the megamorphic threshold: once a pc has
// observed more than this many distinct classes it is no longer useful
// to specialize and the entry collapses to megamorphic (spec.md §4.3).
const individualInlineCacheSize = 5

// ClassReference identifies a resolved class by the profile index of the
// module that owns it plus its type index within that module. Ordered
// lexicographically by (ProfileIndex, TypeIndex), per spec.md §3.
type ClassReference struct {
	ProfileIndex uint16
	TypeIndex    uint16
}

func (c ClassReference) Less(o ClassReference) bool {
	if c.ProfileIndex != o.ProfileIndex {
		return c.ProfileIndex < o.ProfileIndex
	}
	return c.TypeIndex < o.TypeIndex
}

// dexPcKind is the tag of the DexPcData variant. Modeling the three
// mutually-exclusive states as an explicit tagged union (rather than two
// booleans plus a set) makes "sentinel implies empty classes"
// unrepresentable-bad-state by construction, per spec.md §9.
type dexPcKind uint8

const (
	dexPcClasses dexPcKind = iota
	dexPcMegamorphic
	dexPcMissingTypes
)

// DexPcData is the inline-cache record for one bytecode offset: either an
// ordered, deduplicated set of observed receiver classes, or one of the
// two "gave up" sentinels. State transitions are monotone toward less
// information (spec.md §4.3).
type DexPcData struct {
	kind    dexPcKind
	classes []ClassReference // sorted, deduplicated
}

// NewDexPcData returns an empty DexPcData in its initial state.
func NewDexPcData() *DexPcData {
	return &DexPcData{kind: dexPcClasses}
}

func (d *DexPcData) IsMegamorphic() bool  { return d.kind == dexPcMegamorphic }
func (d *DexPcData) IsMissingTypes() bool { return d.kind == dexPcMissingTypes }

// Classes returns the observed class set. It is empty whenever either
// sentinel is set.
func (d *DexPcData) Classes() []ClassReference { return d.classes }

// AddClass inserts ref into the observed set, unless a sentinel is
// already set (a no-op then). Crossing individualInlineCacheSize
// distinct classes collapses the entry to megamorphic and clears the set.
func (d *DexPcData) AddClass(ref ClassReference) {
	if d.kind != dexPcClasses {
		return
	}
	d.insert(ref)
	if len(d.classes) > individualInlineCacheSize {
		d.setMegamorphicLocked()
	}
}

func (d *DexPcData) insert(ref ClassReference) {
	i := sort.Search(len(d.classes), func(i int) bool { return !d.classes[i].Less(ref) })
	if i < len(d.classes) && d.classes[i] == ref {
		return
	}
	d.classes = append(d.classes, ClassReference{})
	copy(d.classes[i+1:], d.classes[i:])
	d.classes[i] = ref
}

// SetMegamorphic sets the megamorphic sentinel and clears the class set,
// unless missing-types is already set (missing-types wins permanently).
func (d *DexPcData) SetMegamorphic() {
	if d.kind == dexPcMissingTypes {
		return
	}
	d.setMegamorphicLocked()
}

func (d *DexPcData) setMegamorphicLocked() {
	d.kind = dexPcMegamorphic
	d.classes = nil
}

// SetMissingTypes sets the missing-types sentinel (overriding
// megamorphic) and clears the class set. Once set, nothing can clear it
// again (spec.md §4.3, §8 "Inline-cache monotonicity").
func (d *DexPcData) SetMissingTypes() {
	d.kind = dexPcMissingTypes
	d.classes = nil
}

func (d *DexPcData) clone() *DexPcData {
	cp := &DexPcData{kind: d.kind}
	if len(d.classes) > 0 {
		cp.classes = append([]ClassReference(nil), d.classes...)
	}
	return cp
}

func (d *DexPcData) equal(o *DexPcData) bool {
	if d.kind != o.kind {
		return false
	}
	if len(d.classes) != len(o.classes) {
		return false
	}
	for i := range d.classes {
		if d.classes[i] != o.classes[i] {
			return false
		}
	}
	return true
}

// mergeDexPcData merges src into dst per spec.md §4.3's per-pc policy:
// missing-types wins over all; then megamorphic wins over class sets;
// otherwise classes are unioned and the megamorphic threshold is
// re-checked.
func mergeDexPcData(dst, src *DexPcData) {
	if dst.kind == dexPcMissingTypes {
		return
	}
	if src.kind == dexPcMissingTypes {
		dst.SetMissingTypes()
		return
	}
	if dst.kind == dexPcMegamorphic || src.kind == dexPcMegamorphic {
		dst.setMegamorphicLocked()
		return
	}
	for _, c := range src.classes {
		dst.insert(c)
	}
	if len(dst.classes) > individualInlineCacheSize {
		dst.setMegamorphicLocked()
	}
}

// InlineCacheMap is an ordered map from bytecode offset to DexPcData.
type InlineCacheMap struct {
	order []uint16
	data  map[uint16]*DexPcData
}

func newInlineCacheMap() *InlineCacheMap {
	return &InlineCacheMap{data: make(map[uint16]*DexPcData)}
}

// FindOrAdd returns the DexPcData at pc, creating an empty one if absent.
func (m *InlineCacheMap) FindOrAdd(pc uint16) *DexPcData {
	if d, ok := m.data[pc]; ok {
		return d
	}
	d := NewDexPcData()
	m.data[pc] = d
	i := sort.Search(len(m.order), func(i int) bool { return m.order[i] >= pc })
	m.order = append(m.order, 0)
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = pc
	return d
}

// Get returns the DexPcData at pc, if present.
func (m *InlineCacheMap) Get(pc uint16) (*DexPcData, bool) {
	d, ok := m.data[pc]
	return d, ok
}

// PCs returns the bytecode offsets in ascending order.
func (m *InlineCacheMap) PCs() []uint16 { return m.order }

// Len returns the number of tracked bytecode offsets.
func (m *InlineCacheMap) Len() int { return len(m.order) }

func (m *InlineCacheMap) clone() *InlineCacheMap {
	cp := newInlineCacheMap()
	cp.order = append([]uint16(nil), m.order...)
	for pc, d := range m.data {
		cp.data[pc] = d.clone()
	}
	return cp
}

func (m *InlineCacheMap) equal(o *InlineCacheMap) bool {
	if len(m.order) != len(o.order) {
		return false
	}
	for _, pc := range m.order {
		a, ok := m.data[pc]
		if !ok {
			return false
		}
		b, ok := o.data[pc]
		if !ok {
			return false
		}
		if !a.equal(b) {
			return false
		}
	}
	return true
}
