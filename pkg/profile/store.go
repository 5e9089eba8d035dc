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

// Package profile implements an in-memory store of per-module method
// hotness, inline-cache, and resolved-class information, together with the
// binary wire format used to persist and merge it on disk.
package profile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/ProjectBlaze-14/art/pkg/archive"
)

// Store is the root container for everything tracked about a set of
// modules: spec.md §3/§4.5. A Store owns every ModuleData reachable from
// it; there is no sharing of mutable state across Stores (Go's garbage
// collector reclaims a Store's modules once the Store itself is
// unreachable — see the arena/ownership discussion this package was
// expanded with).
type Store struct {
	logger log.Logger
	isBoot bool

	modules   []*ModuleData
	byKey     map[string]int // augmented profile key -> index into modules
	byBaseKey map[string][]int
}

// NewStore returns an empty Store. isBoot selects the regular (4-bit) or
// boot (15-bit) flag-bitmap flavor for every module added to it; the two
// flavors cannot be mixed within one Store, matching the version tag's
// role in spec.md §4.6.
func NewStore(logger log.Logger, isBoot bool) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{
		logger:    logger,
		isBoot:    isBoot,
		byKey:     make(map[string]int),
		byBaseKey: make(map[string][]int),
	}
}

// IsBoot reports the Store's flavor.
func (s *Store) IsBoot() bool { return s.isBoot }

// IsEmpty reports whether the Store tracks any modules.
func (s *Store) IsEmpty() bool { return len(s.modules) == 0 }

// Modules returns the tracked modules in store order. Callers must treat
// the returned slice and its elements as read-only.
func (s *Store) Modules() []*ModuleData { return s.modules }

// Module looks up a module by its augmented profile key.
func (s *Store) Module(profileKey string) (*ModuleData, bool) {
	i, ok := s.byKey[profileKey]
	if !ok {
		return nil, false
	}
	return s.modules[i], true
}

// GetOrAddModule returns the existing module for (location, annotation,
// checksum), or creates one. A checksum mismatch against an existing
// module for the same key is reported as bad data: spec.md §4.4 treats the
// checksum as identifying a single class-layout epoch per key. This is
// exactly the 3-argument op spec.md §4.5 names; the type-id bound from the
// §6 ModuleProvider interface is supplied separately, via
// GetOrAddModuleFromProvider or ModuleData.SetNumTypeIDs, since §4.5's
// core signature has no num_type_ids parameter.
func (s *Store) GetOrAddModule(location string, annotation Annotation, checksum, numMethodIDs uint32) (*ModuleData, error) {
	key := AugmentedKey(location, annotation)
	if i, ok := s.byKey[key]; ok {
		m := s.modules[i]
		if m.checksum != checksum {
			return nil, badDataf("checksum", "module %q: checksum %d != existing %d", key, checksum, m.checksum)
		}
		if m.numMethodIDs != numMethodIDs {
			return nil, badDataf("numMethodIDs", "module %q: numMethodIDs %d != existing %d", key, numMethodIDs, m.numMethodIDs)
		}
		return m, nil
	}
	m := newModuleData(key, uint16(len(s.modules)), checksum, numMethodIDs, 0, s.isBoot)
	s.addModule(m)
	return m, nil
}

// GetOrAddModuleFromProvider is GetOrAddModule fed by a ModuleProvider
// collaborator (spec.md §6), additionally recording the provider's
// num_type_ids() bound if the module does not have one yet.
func (s *Store) GetOrAddModuleFromProvider(p ModuleProvider, annotation Annotation) (*ModuleData, error) {
	m, err := s.GetOrAddModule(p.Location(), annotation, p.Checksum(), p.NumMethodIDs())
	if err != nil {
		return nil, err
	}
	if m.numTypeIDs == 0 {
		m.numTypeIDs = p.NumTypeIDs()
	}
	return m, nil
}

func (s *Store) addModule(m *ModuleData) {
	m.profileIndex = uint16(len(s.modules))
	s.modules = append(s.modules, m)
	s.byKey[m.profileKey] = len(s.modules) - 1
	base := m.BaseKey()
	s.byBaseKey[base] = append(s.byBaseKey[base], len(s.modules)-1)
}

// ClearData drops every tracked module, returning the Store to its
// just-constructed state (flavor is retained).
func (s *Store) ClearData() {
	s.modules = nil
	s.byKey = make(map[string]int)
	s.byBaseKey = make(map[string][]int)
}

// KeyCandidate is one entry of the "new_modules" list passed to
// UpdateProfileKeys: spec.md §4.5's update_profile_keys matches each
// existing module against these by (checksum, num_method_ids) to learn the
// module's new on-disk location.
type KeyCandidate struct {
	Location     string
	Checksum     uint32
	NumMethodIDs uint32
}

// UpdateProfileKeys finds, for each tracked module, at most one candidate
// whose checksum and num_method_ids both match, and rewrites that module's
// profile key to the base key derived from the candidate's location (the
// module's existing annotation, if any, is preserved). A module with no
// matching candidate keeps its current key. The update is all-or-nothing:
// if it would make two modules collide on the same augmented key, no
// module is changed and ErrKeyCollision is returned (spec.md §8
// "key-update collision").
func (s *Store) UpdateProfileKeys(candidates []KeyCandidate) error {
	seen := make(map[string]bool, len(s.modules))
	newKeys := make([]string, len(s.modules))
	for i, m := range s.modules {
		nk := m.profileKey
		for _, c := range candidates {
			if c.Checksum == m.checksum && c.NumMethodIDs == m.numMethodIDs {
				nk = AugmentedKey(c.Location, AnnotationFromKey(m.profileKey))
				break
			}
		}
		if seen[nk] {
			return ErrKeyCollision
		}
		seen[nk] = true
		newKeys[i] = nk
	}

	s.byKey = make(map[string]int, len(s.modules))
	s.byBaseKey = make(map[string][]int, len(s.modules))
	for i, m := range s.modules {
		m.profileKey = newKeys[i]
		s.byKey[m.profileKey] = i
		base := m.BaseKey()
		s.byBaseKey[base] = append(s.byBaseKey[base], i)
	}
	return nil
}

// MergeWith merges every module from src into s, matching modules by
// augmented profile key (creating new ones for keys s doesn't yet have),
// remapping ClassReference.ProfileIndex values from src's numbering to s's,
// and applying the per-method/per-pc merge policy described in spec.md §4.
// mergeClasses controls whether src's resolved class sets are folded into
// s's — spec.md §4.5 names this parameter explicitly; boot-profile merges
// that intentionally want method hotness without pulling in every
// contributing app's resolved classes pass false. src is left unmodified.
// The two Stores must share a flavor.
func (s *Store) MergeWith(src *Store, mergeClasses bool) error {
	if s.isBoot != src.isBoot {
		return badDataf("merge", "cannot merge boot and regular profiles")
	}

	// Two passes: a ClassReference can name any module in src by profile
	// index, including one that sorts after it, so the full remap table
	// must exist before any inline-cache data is merged.
	remap := make(map[uint16]uint16, len(src.modules))
	dests := make([]*ModuleData, len(src.modules))
	for i, sm := range src.modules {
		dm, err := s.GetOrAddModule(sm.profileKey, NoAnnotation, sm.checksum, sm.numMethodIDs)
		if err != nil {
			return err
		}
		if dm.numTypeIDs == 0 {
			dm.numTypeIDs = sm.numTypeIDs
		}
		remap[sm.profileIndex] = dm.profileIndex
		dests[i] = dm
	}

	for i, sm := range src.modules {
		dm := dests[i]
		if err := dm.bitmap.Merge(sm.bitmap); err != nil {
			return err
		}
		if mergeClasses {
			for _, t := range sm.classSet.ToArray() {
				dm.classSet.Add(t)
			}
		}
		for _, midx := range sm.methodOrder {
			srcIC := sm.methodMap[midx]
			dstIC := dm.findOrAddHotMethod(midx)
			for _, pc := range srcIC.order {
				srcPC := srcIC.data[pc]
				dstPC := dstIC.FindOrAdd(pc)
				remapped := remapClasses(srcPC, remap)
				mergeDexPcData(dstPC, remapped)
			}
		}
	}
	return nil
}

// remapClasses returns a copy of srcPC with ClassReference.ProfileIndex
// values rewritten from src's module numbering to the destination Store's,
// via remap.
func remapClasses(srcPC *DexPcData, remap map[uint16]uint16) *DexPcData {
	cp := srcPC.clone()
	for i, c := range cp.classes {
		if nv, ok := remap[c.ProfileIndex]; ok {
			cp.classes[i].ProfileIndex = nv
		}
	}
	return cp
}

// Save atomically writes s to path: encode into a temporary file in the
// same directory, then rename over the destination, so a crash mid-write
// never leaves a truncated profile on disk.
func (s *Store) Save(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".profile-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if encErr := encodeModules(tmp, s.isBoot, s.modules); encErr != nil {
		tmp.Close()
		return encErr
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	level.Debug(s.logger).Log("msg", "saved profile", "path", path, "modules", len(s.modules))
	return nil
}

// SaveFile is an alias for Save kept for call-site symmetry with LoadFile.
func (s *Store) SaveFile(path string) error { return s.Save(path) }

// ModuleFilter decides, given an incoming module's base key and checksum,
// whether it takes part in a merge-on-load at all (spec.md §4.6's
// "index remapping (merge on load)" filter_fn). A nil filter admits every
// incoming module.
type ModuleFilter func(baseKey string, checksum uint32) bool

// Load replaces s's contents with what is read from r. r must decode to
// the same flavor as s. Load refuses to overwrite a non-empty Store —
// callers wanting to accumulate should use MergeFromReader instead
// (spec.md §7).
func (s *Store) Load(r io.Reader) error {
	if !s.IsEmpty() {
		return ErrWouldOverwrite
	}
	return s.mergeFromReader(r, true, nil)
}

// MergeFromReader decodes r and merges its contents into s, regardless of
// whether s is currently empty. mergeClasses is forwarded to MergeWith.
// filter, when non-nil, is consulted once per incoming module (by its base
// key and checksum, read from the module's line header before any of its
// method/class/inline-cache data is decoded): a module it rejects takes no
// part in the merge at all, neither matched against an existing module nor
// inserted as a new one.
func (s *Store) MergeFromReader(r io.Reader, mergeClasses bool, filter ModuleFilter) error {
	return s.mergeFromReader(r, mergeClasses, filter)
}

func (s *Store) mergeFromReader(r io.Reader, mergeClasses bool, filter ModuleFilter) error {
	isBoot, decoded, err := decode(r)
	if err != nil {
		return err
	}
	if isBoot != s.isBoot {
		return ErrVersionMismatch
	}

	src := NewStore(log.NewNopLogger(), s.isBoot)
	for _, dm := range decoded {
		if filter != nil && !filter(BaseKeyFromAugmented(dm.key), dm.checksum) {
			continue
		}
		// dm.key is already the fully augmented wire key (base key plus any
		// annotation suffix); passing NoAnnotation here keeps GetOrAddModule
		// from appending a second annotation separator on top of it.
		m, err := src.GetOrAddModule(dm.key, NoAnnotation, dm.checksum, dm.numMethodIDs)
		if err != nil {
			return err
		}
		m.bitmap = &flagBitmap{isBoot: s.isBoot, numMethods: dm.numMethodIDs, bits: dm.bitmapBits}
		for _, t := range dm.classes {
			m.classSet.Add(uint32(t))
		}
		for _, meth := range dm.methods {
			// decode already rejected any method index >= dm.numMethodIDs.
			ic := m.findOrAddHotMethod(meth.index)
			for _, pc := range meth.pcs {
				dpc := ic.FindOrAdd(pc.pc)
				dpc.kind = pc.kind
				dpc.classes = pc.classes
			}
		}
	}

	return s.MergeWith(src, mergeClasses)
}

// LoadFile opens path (transparently extracting it from a zip-format
// profile archive when applicable) and Loads it into s.
func (s *Store) LoadFile(path string) error {
	rc, err := archive.OpenProfileEntry(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return s.Load(rc)
}

// MergeFile decodes path the same way LoadFile does but merges its
// contents into s instead of requiring s to be empty.
func (s *Store) MergeFile(path string, mergeClasses bool, filter ModuleFilter) error {
	rc, err := archive.OpenProfileEntry(path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return s.MergeFromReader(rc, mergeClasses, filter)
}

func (s *Store) String() string {
	return fmt.Sprintf("Store{boot=%v modules=%d}", s.isBoot, len(s.modules))
}
