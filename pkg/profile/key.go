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
	"strings"
	"unsafe"
)

// archiveSeparator is the canonical marker used to strip an archive
// prefix from a module location, e.g. "/data/app/base.apk!classes2.dex".
const archiveSeparator = "!"

// annotationSeparator is a reserved byte sequence that can never occur in
// a valid base key, so the augmented key can always be split unambiguously.
// It mirrors the "non-printable reserved marker" requirement in spec.md §4.1.
const annotationSeparator = "\x00"

// ModuleProvider is the module-file parser collaborator named in spec.md
// §6: the core consumes module identity, checksum, and index-space sizes
// from it but never implements it itself.
type ModuleProvider interface {
	Location() string
	Checksum() uint32
	NumMethodIDs() uint32
	NumTypeIDs() uint32
}

// Annotation disambiguates samples added to the same module location,
// e.g. which app contributed a given sample in a merged boot profile.
// The empty Annotation is the sentinel "no annotation" value.
type Annotation struct {
	Package string
}

// NoAnnotation is the sentinel empty annotation.
var NoAnnotation = Annotation{}

func (a Annotation) IsNone() bool { return a.Package == "" }

func (a Annotation) serialize() string { return a.Package }

func annotationFromSerialized(s string) Annotation {
	return Annotation{Package: s}
}

// BaseKey returns the base profile key for a module location: the
// location with any archive prefix (everything up to and including the
// last archiveSeparator) stripped off.
func BaseKey(location string) string {
	return string(baseKeyView(location))
}

// baseKeyView returns a view into location with no allocation, per
// spec.md §4.1 ("extracting the base key must not allocate when a
// view-type is available").
func baseKeyView(location string) string {
	if i := strings.LastIndex(location, archiveSeparator); i >= 0 {
		return location[i+len(archiveSeparator):]
	}
	return location
}

// AugmentedKey returns base_key + annotationSeparator + serialized
// annotation. When annotation is NoAnnotation this is exactly BaseKey.
func AugmentedKey(location string, annotation Annotation) string {
	base := BaseKey(location)
	if annotation.IsNone() {
		return base
	}
	var b strings.Builder
	b.Grow(len(base) + len(annotationSeparator) + len(annotation.Package))
	b.WriteString(base)
	b.WriteString(annotationSeparator)
	b.WriteString(annotation.serialize())
	return b.String()
}

// BaseKeyFromAugmented strips the annotation suffix (if any) from an
// augmented key, returning just the base key. Allocation-free: it
// returns a substring view of key.
func BaseKeyFromAugmented(key string) string {
	return baseKeyViewFromAugmented(key)
}

func baseKeyViewFromAugmented(key string) string {
	if i := strings.Index(key, annotationSeparator); i >= 0 {
		return key[:i]
	}
	return key
}

// AnnotationFromKey extracts the Annotation encoded in an augmented key.
// A base key (no separator present) yields NoAnnotation.
func AnnotationFromKey(key string) Annotation {
	i := strings.Index(key, annotationSeparator)
	if i < 0 {
		return NoAnnotation
	}
	return annotationFromSerialized(key[i+len(annotationSeparator):])
}

// unsafeBytesToString reinterprets b as a string without copying. It is
// only ever applied to byte slices this package owns and never mutates
// afterwards (the bytes backing a freshly decoded wire key), matching
// the read-only, zero-allocation intent of a view-type per spec.md §4.1.
func unsafeBytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
