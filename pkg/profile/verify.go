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

import "fmt"

// VerifyViolation is one bounds-check failure reported by
// VerifyProfileData.
type VerifyViolation struct {
	Location string
	Kind     string
	Detail   string
}

func (v VerifyViolation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Location, v.Kind, v.Detail)
}

// VerifyProfileData bounds-checks every module in s against providers
// (keyed by base key), per spec.md §7: checksum and num_method_ids must
// match the provider, every resolved class-set index must fall under the
// provider's num_type_ids, and every inline-cache class reference's type
// index must fall under its *target* module's num_type_ids — not the
// referencing module's own, since a class reference can name any module
// in the store. s is never mutated; every finding is reported rather than
// stopping at the first one.
func VerifyProfileData(s *Store, providers map[string]ModuleProvider) []VerifyViolation {
	var violations []VerifyViolation

	for _, m := range s.modules {
		base := m.BaseKey()
		p, ok := providers[base]
		if !ok {
			violations = append(violations, VerifyViolation{
				Location: base, Kind: "missing_provider",
				Detail: "no module provider supplied for this module",
			})
			continue
		}

		if m.Checksum() != p.Checksum() {
			violations = append(violations, VerifyViolation{
				Location: base, Kind: "checksum",
				Detail: fmt.Sprintf("profile %d != provider %d", m.Checksum(), p.Checksum()),
			})
		}
		if m.NumMethodIDs() != p.NumMethodIDs() {
			violations = append(violations, VerifyViolation{
				Location: base, Kind: "num_method_ids",
				Detail: fmt.Sprintf("profile %d != provider %d", m.NumMethodIDs(), p.NumMethodIDs()),
			})
		}

		if numTypeIDs := p.NumTypeIDs(); numTypeIDs != 0 {
			for _, t := range m.ClassSetIndices() {
				if uint32(t) >= numTypeIDs {
					violations = append(violations, VerifyViolation{
						Location: base, Kind: "class_index",
						Detail: fmt.Sprintf("type index %d exceeds provider num_type_ids %d", t, numTypeIDs),
					})
				}
			}
		}

		for _, idx := range m.methodOrder {
			ic := m.methodMap[idx]
			for _, pc := range ic.order {
				for _, ref := range ic.data[pc].classes {
					violations = appendInlineCacheViolation(violations, s, providers, base, idx, pc, ref)
				}
			}
		}
	}

	return violations
}

func appendInlineCacheViolation(
	violations []VerifyViolation,
	s *Store,
	providers map[string]ModuleProvider,
	referencingBase string,
	methodIndex, pc uint16,
	ref ClassReference,
) []VerifyViolation {
	if int(ref.ProfileIndex) >= len(s.modules) {
		return append(violations, VerifyViolation{
			Location: referencingBase, Kind: "inline_cache_reference",
			Detail: fmt.Sprintf("method %d pc %d references unknown module index %d", methodIndex, pc, ref.ProfileIndex),
		})
	}
	target := s.modules[ref.ProfileIndex]
	p, ok := providers[target.BaseKey()]
	if !ok || p.NumTypeIDs() == 0 {
		return violations
	}
	if uint32(ref.TypeIndex) >= p.NumTypeIDs() {
		return append(violations, VerifyViolation{
			Location: referencingBase, Kind: "inline_cache_class_index",
			Detail: fmt.Sprintf("method %d pc %d type index %d exceeds target module %q's num_type_ids %d",
				methodIndex, pc, ref.TypeIndex, target.BaseKey(), p.NumTypeIDs()),
		})
	}
	return violations
}
