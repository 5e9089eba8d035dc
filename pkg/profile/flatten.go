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

// MethodKey identifies a method across the whole Store: its owning
// module's base key plus its method index, the unit that
// FlattenMetadata aggregates over (spec.md §4.7 — flattening collapses
// per-annotation duplicates of the same module into one entry keyed by
// base key).
type MethodKey struct {
	BaseKey string
	Method  uint16
}

// ClassKey identifies a resolved class across the whole Store.
type ClassKey struct {
	BaseKey string
	Type    uint16
}

// FlattenMetadata is the result of OR-ing every per-annotation observation
// of a single method or class together.
type FlattenMetadata struct {
	Flags       Flag
	Annotations []Annotation
}

// FlattenView is a read-only, annotation-collapsed projection of a Store:
// spec.md §4.7.
type FlattenView struct {
	MethodData map[MethodKey]FlattenMetadata
	ClassData  map[ClassKey]FlattenMetadata

	maxAggMethods int
	maxAggClasses int
}

// Flatten builds a FlattenView from every module in s. Modules that share
// a base key (differing only by annotation) are merged into one entry per
// method/class, with flags OR'd together and every contributing
// annotation recorded.
func Flatten(s *Store) *FlattenView {
	v := &FlattenView{
		MethodData: make(map[MethodKey]FlattenMetadata),
		ClassData:  make(map[ClassKey]FlattenMetadata),
	}
	for _, m := range s.modules {
		base := m.BaseKey()
		ann := m.Annotation()
		for i := uint32(0); i < m.numMethodIDs && i <= 0xffff; i++ {
			idx := uint16(i)
			flags, _ := m.GetHotness(idx)
			if flags == 0 {
				continue
			}
			key := MethodKey{BaseKey: base, Method: idx}
			meta := v.MethodData[key]
			meta.Flags |= flags
			if !ann.IsNone() {
				meta.Annotations = appendAnnotationIfMissing(meta.Annotations, ann)
			}
			v.MethodData[key] = meta
			if len(meta.Annotations) > v.maxAggMethods {
				v.maxAggMethods = len(meta.Annotations)
			}
		}
		for _, t := range m.ClassSetIndices() {
			key := ClassKey{BaseKey: base, Type: t}
			meta := v.ClassData[key]
			if !ann.IsNone() {
				meta.Annotations = appendAnnotationIfMissing(meta.Annotations, ann)
			}
			v.ClassData[key] = meta
			if len(meta.Annotations) > v.maxAggClasses {
				v.maxAggClasses = len(meta.Annotations)
			}
		}
	}
	return v
}

func appendAnnotationIfMissing(list []Annotation, a Annotation) []Annotation {
	for _, existing := range list {
		if existing == a {
			return list
		}
	}
	return append(list, a)
}

// MaxAggregationForMethods returns the running max annotation-list length
// seen across every method entry in the view (spec.md §4.7's
// max_aggregation_for_methods) — the length of the longest annotation
// list of any method entry.
func (v *FlattenView) MaxAggregationForMethods() int { return v.maxAggMethods }

// MaxAggregationForClasses is MaxAggregationForMethods for class entries.
func (v *FlattenView) MaxAggregationForClasses() int { return v.maxAggClasses }

// Merge combines other into v in place: annotation lists are concatenated
// (duplicates kept, so each list is a multiset) and flags are OR'd per
// entry, then the running max aggregation counts are recomputed
// (spec.md §4.7).
func (v *FlattenView) Merge(other *FlattenView) {
	for key, om := range other.MethodData {
		meta := v.MethodData[key]
		meta.Flags |= om.Flags
		meta.Annotations = append(meta.Annotations, om.Annotations...)
		v.MethodData[key] = meta
	}
	for key, om := range other.ClassData {
		meta := v.ClassData[key]
		meta.Flags |= om.Flags
		meta.Annotations = append(meta.Annotations, om.Annotations...)
		v.ClassData[key] = meta
	}

	v.maxAggMethods = 0
	for _, meta := range v.MethodData {
		if len(meta.Annotations) > v.maxAggMethods {
			v.maxAggMethods = len(meta.Annotations)
		}
	}
	v.maxAggClasses = 0
	for _, meta := range v.ClassData {
		if len(meta.Annotations) > v.maxAggClasses {
			v.maxAggClasses = len(meta.Annotations)
		}
	}
}

// ExtractProfileData rebuilds a fresh Store containing exactly the data
// visible in v, with every method re-added under NoAnnotation. This is
// useful for producing an annotation-stripped profile to hand to a
// consumer that has no use for per-app provenance.
func ExtractProfileData(v *FlattenView, isBoot bool, checksums map[string]uint32, numMethodIDs map[string]uint32) (*Store, error) {
	out := NewStore(nil, isBoot)
	for key, meta := range v.MethodData {
		m, err := out.GetOrAddModule(key.BaseKey, NoAnnotation, checksums[key.BaseKey], numMethodIDs[key.BaseKey])
		if err != nil {
			return nil, err
		}
		if err := m.AddMethod(meta.Flags, key.Method); err != nil {
			return nil, err
		}
	}
	for key := range v.ClassData {
		m, err := out.GetOrAddModule(key.BaseKey, NoAnnotation, checksums[key.BaseKey], numMethodIDs[key.BaseKey])
		if err != nil {
			return nil, err
		}
		if err := m.AddClasses(key.Type); err != nil {
			return nil, err
		}
	}
	return out, nil
}
