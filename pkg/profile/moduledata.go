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

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// ModuleData aggregates everything a Store tracks for one
// (module-location, checksum, annotation) triple: spec.md §3.
type ModuleData struct {
	profileKey   string
	profileIndex uint16
	checksum     uint32
	numMethodIDs uint32
	numTypeIDs   uint32
	isBoot       bool

	methodOrder []uint16
	methodMap   map[uint16]*InlineCacheMap

	// classSet is the ordered set of resolved type indices. A
	// roaring.Bitmap stores a sorted, deduplicated set of uint32s more
	// compactly than a Go map or slice and gives us ordered iteration
	// for free, matching "ordered set of type indices" in spec.md §3.
	classSet *roaring.Bitmap

	bitmap *flagBitmap
}

func newModuleData(key string, index uint16, checksum, numMethodIDs, numTypeIDs uint32, isBoot bool) *ModuleData {
	return &ModuleData{
		profileKey:   key,
		profileIndex: index,
		checksum:     checksum,
		numMethodIDs: numMethodIDs,
		numTypeIDs:   numTypeIDs,
		isBoot:       isBoot,
		methodMap:    make(map[uint16]*InlineCacheMap),
		classSet:     roaring.New(),
		bitmap:       newFlagBitmap(isBoot, numMethodIDs),
	}
}

func (d *ModuleData) ProfileKey() string   { return d.profileKey }
func (d *ModuleData) ProfileIndex() uint16 { return d.profileIndex }
func (d *ModuleData) Checksum() uint32     { return d.checksum }
func (d *ModuleData) NumMethodIDs() uint32 { return d.numMethodIDs }

// NumTypeIDs returns the module's declared type-id count, as supplied by a
// ModuleProvider. Zero means the bound was never supplied, in which case
// AddClasses skips the range check.
func (d *ModuleData) NumTypeIDs() uint32 { return d.numTypeIDs }
func (d *ModuleData) IsBoot() bool       { return d.isBoot }

// SetNumTypeIDs records the module's type-id bound if it wasn't already
// known. Subsequent calls with a different value are ignored, matching
// the checksum's "set once" treatment in spec.md §3.
func (d *ModuleData) SetNumTypeIDs(v uint32) {
	if d.numTypeIDs == 0 {
		d.numTypeIDs = v
	}
}

// BaseKey returns the profile key with any annotation suffix stripped.
func (d *ModuleData) BaseKey() string { return BaseKeyFromAugmented(d.profileKey) }

// Annotation returns the annotation encoded in this module's profile key.
func (d *ModuleData) Annotation() Annotation { return AnnotationFromKey(d.profileKey) }

// AddMethod range-checks index, ORs flags into the bitmap, and — if
// FlagHot is among them — ensures a (possibly empty) InlineCacheMap entry
// exists so serialization includes the method even without cache data
// (spec.md §4.4, Open Question #2 resolved in DESIGN.md).
func (d *ModuleData) AddMethod(flags Flag, index uint16) error {
	if uint32(index) >= d.numMethodIDs {
		return fmt.Errorf("method index %d out of range [0,%d)", index, d.numMethodIDs)
	}
	if err := d.bitmap.Set(flags, uint32(index)); err != nil {
		return err
	}
	if flags&FlagHot != 0 {
		d.findOrAddHotMethod(index)
	}
	return nil
}

func (d *ModuleData) findOrAddHotMethod(index uint16) *InlineCacheMap {
	if m, ok := d.methodMap[index]; ok {
		return m
	}
	m := newInlineCacheMap()
	d.methodMap[index] = m
	i := sort.Search(len(d.methodOrder), func(i int) bool { return d.methodOrder[i] >= index })
	d.methodOrder = append(d.methodOrder, 0)
	copy(d.methodOrder[i+1:], d.methodOrder[i:])
	d.methodOrder[i] = index
	return m
}

// AddInlineCache ensures a method entry exists (without implying hotness),
// finds or creates the DexPcData at pc, applies sentinels, then adds
// classes per spec.md §4.3/§4.4.
func (d *ModuleData) AddInlineCache(methodIndex uint16, pc uint16, classes []ClassReference, isMegamorphic, isMissingTypes bool) error {
	if uint32(methodIndex) >= d.numMethodIDs {
		return fmt.Errorf("method index %d out of range [0,%d)", methodIndex, d.numMethodIDs)
	}
	ic := d.findOrAddHotMethodNoHotness(methodIndex)
	dpc := ic.FindOrAdd(pc)
	switch {
	case isMissingTypes:
		dpc.SetMissingTypes()
	case isMegamorphic:
		dpc.SetMegamorphic()
	}
	for _, c := range classes {
		dpc.AddClass(c)
	}
	return nil
}

func (d *ModuleData) findOrAddHotMethodNoHotness(index uint16) *InlineCacheMap {
	return d.findOrAddHotMethod(index)
}

// MethodIndices returns, in ascending order, the method indices that have
// a method-map entry (added with FlagHot or given an inline cache).
// Methods that only have bitmap flags set are not included.
func (d *ModuleData) MethodIndices() []uint16 { return d.methodOrder }

// InlineCaches returns the InlineCacheMap for a method index, if present.
func (d *ModuleData) InlineCaches(index uint16) (*InlineCacheMap, bool) {
	m, ok := d.methodMap[index]
	return m, ok
}

// GetHotness returns the OR of FlagHot (if the method has a method-map
// entry) with whatever bitmap-backed flags are set for it. "In profile"
// is "any flag set" (spec.md §4.4).
func (d *ModuleData) GetHotness(index uint16) (Flag, error) {
	if uint32(index) >= d.numMethodIDs {
		return 0, fmt.Errorf("method index %d out of range [0,%d)", index, d.numMethodIDs)
	}
	flags, err := d.bitmap.Flags(uint32(index))
	if err != nil {
		return 0, err
	}
	if _, ok := d.methodMap[index]; ok {
		flags |= FlagHot
	}
	return flags, nil
}

// AddClasses adds type indices to the resolved class set. When the module's
// declared type-id count is known (NumTypeIDs != 0), each index is
// range-checked against it, per spec.md §3's "type-id count bound the
// stored indices (verified on demand)".
func (d *ModuleData) AddClasses(typeIndices ...uint16) error {
	for _, t := range typeIndices {
		if d.numTypeIDs != 0 && uint32(t) >= d.numTypeIDs {
			return fmt.Errorf("type index %d out of range [0,%d)", t, d.numTypeIDs)
		}
		d.classSet.Add(uint32(t))
	}
	return nil
}

// ContainsClass reports membership in the resolved class set.
func (d *ModuleData) ContainsClass(typeIndex uint16) bool {
	return d.classSet.Contains(uint32(typeIndex))
}

// ClassSetIndices returns the resolved type indices in ascending order.
func (d *ModuleData) ClassSetIndices() []uint16 {
	out := make([]uint16, 0, d.classSet.GetCardinality())
	it := d.classSet.Iterator()
	for it.HasNext() {
		out = append(out, uint16(it.Next()))
	}
	return out
}

func (d *ModuleData) numHotMethods() int { return len(d.methodOrder) }

func (d *ModuleData) clone() *ModuleData {
	cp := &ModuleData{
		profileKey:   d.profileKey,
		profileIndex: d.profileIndex,
		checksum:     d.checksum,
		numMethodIDs: d.numMethodIDs,
		numTypeIDs:   d.numTypeIDs,
		isBoot:       d.isBoot,
		methodOrder:  append([]uint16(nil), d.methodOrder...),
		methodMap:    make(map[uint16]*InlineCacheMap, len(d.methodMap)),
		classSet:     d.classSet.Clone(),
		bitmap:       d.bitmap.clone(),
	}
	for k, v := range d.methodMap {
		cp.methodMap[k] = v.clone()
	}
	return cp
}

func (d *ModuleData) equal(o *ModuleData) bool {
	if d.checksum != o.checksum || d.numMethodIDs != o.numMethodIDs || d.isBoot != o.isBoot {
		return false
	}
	if !d.classSet.Equals(o.classSet) {
		return false
	}
	if !d.bitmap.equal(o.bitmap) {
		return false
	}
	if len(d.methodOrder) != len(o.methodOrder) {
		return false
	}
	for _, idx := range d.methodOrder {
		a := d.methodMap[idx]
		b, ok := o.methodMap[idx]
		if !ok || !a.equal(b) {
			return false
		}
	}
	return true
}
