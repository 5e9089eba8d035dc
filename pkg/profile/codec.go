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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Wire format (spec.md §4.6). Multi-byte integers are little-endian
// throughout; "index" below means u8 for a regular profile, u16 for boot.
//
//	magic             [4]byte  "API\x00"
//	version           [4]byte  "029\x00" (regular) or "b09\x00" (boot)
//	numModules        index
//	uncompressedSize  uint32
//	compressedSize    uint32
//	deflate(payload)
//
// payload is the concatenation of numModules module lines:
//
//	profileIndex        index  (this module's position in the stream)
//	numTypeIDsInClassSet uint16
//	methodsRegionBytes   uint32
//	checksum             uint32
//	numMethodIDs         uint32
//	keyLength            uint16
//	keyBytes             []byte (keyLength bytes, the augmented profile key)
//	methodsRegion        []byte (methodsRegionBytes bytes, see below)
//	classIDList          [numTypeIDsInClassSet]uint16 (ascending, not delta-encoded)
//	flagBitmap           []byte (ceil(numMethodIDs*F/8) bytes, raw flagBitmap.bits)
//
// methodsRegion is a sequence of per-method records ordered by ascending
// method index:
//
//	deltaMethodIndex  uvarint (relative to previous; first is absolute)
//	numInlineCaches   uint16
//	inlineCache*
//
// inlineCache:
//
//	dexPC       uint16
//	classCount  byte    (0 means the next byte is a sentinel kind)
//	sentinelKind byte   (only present if classCount == 0; 1=missingTypes, 2=megamorphic)
//	classRefGroup*      (only present if classCount > 0, totalling classCount refs)
//
// classRefGroup (class references are grouped by profileIndex ascending,
// type index ascending delta-encoded within a group):
//
//	profileIndex  index
//	runLength     byte
//	typeIndexDelta* uvarint (runLength of them, first absolute)

var magicBytes = [4]byte{'A', 'P', 'I', 0}

var regularVersion = [4]byte{'0', '2', '9', 0}
var bootVersion = [4]byte{'b', '0', '9', 0}

const (
	dexPcKindClasses      = byte(0)
	dexPcKindMissingTypes = byte(1)
	dexPcKindMegamorphic  = byte(2)
)

// maxUncompressedSize guards against runaway allocation from a corrupt or
// hostile stream (spec.md §4.6 size guardrails): ~100 MiB.
const maxUncompressedSize = 100 << 20

// maxGroupRunLength bounds a single classRefGroup's run length to a byte.
const maxGroupRunLength = 0xff

// versionTag returns the 4-byte version marker for a store flavor.
func versionTag(isBoot bool) [4]byte {
	if isBoot {
		return bootVersion
	}
	return regularVersion
}

// putIndex appends a flavor-sized index (u8 regular, u16 boot LE) to dst.
func putIndex(dst []byte, isBoot bool, v uint32) []byte {
	if !isBoot {
		return append(dst, byte(v))
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return append(dst, b[:]...)
}

// readIndex reads a flavor-sized index from r.
func readIndex(r io.Reader, isBoot bool) (uint32, error) {
	if !isBoot {
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint32(b[0]), nil
	}
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint32(binary.LittleEndian.Uint16(b[:])), nil
}

// encodeModules serializes modules (in store order) to w for the given
// flavor.
func encodeModules(w io.Writer, isBoot bool, modules []*ModuleData) error {
	if _, err := w.Write(magicBytes[:]); err != nil {
		return err
	}
	tag := versionTag(isBoot)
	if _, err := w.Write(tag[:]); err != nil {
		return err
	}

	var numModulesHdr []byte
	numModulesHdr = putIndex(numModulesHdr, isBoot, uint32(len(modules)))
	if _, err := w.Write(numModulesHdr); err != nil {
		return err
	}

	var payload bytes.Buffer
	for _, m := range modules {
		if err := encodeModule(&payload, isBoot, m); err != nil {
			return err
		}
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return err
	}
	if _, err := fw.Write(payload.Bytes()); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:4], uint32(payload.Len()))
	binary.LittleEndian.PutUint32(sizes[4:8], uint32(compressed.Len()))
	if _, err := w.Write(sizes[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed.Bytes())
	return err
}

func encodeModule(body *bytes.Buffer, isBoot bool, m *ModuleData) error {
	var idxBuf []byte
	idxBuf = putIndex(idxBuf, isBoot, uint32(m.profileIndex))
	body.Write(idxBuf)

	indices := m.ClassSetIndices()

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(indices)))
	body.Write(u16[:])

	var methods bytes.Buffer
	if err := encodeMethodsRegion(&methods, isBoot, m); err != nil {
		return err
	}

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(methods.Len()))
	body.Write(u32[:])

	binary.LittleEndian.PutUint32(u32[:], m.checksum)
	body.Write(u32[:])
	binary.LittleEndian.PutUint32(u32[:], m.numMethodIDs)
	body.Write(u32[:])

	key := []byte(m.profileKey)
	binary.LittleEndian.PutUint16(u16[:], uint16(len(key)))
	body.Write(u16[:])
	body.Write(key)

	body.Write(methods.Bytes())

	for _, t := range indices {
		binary.LittleEndian.PutUint16(u16[:], t)
		body.Write(u16[:])
	}

	body.Write(m.bitmap.bits)
	return nil
}

func encodeMethodsRegion(out *bytes.Buffer, isBoot bool, m *ModuleData) error {
	var tmp [maxVarintLen32]byte
	var u16 [2]byte

	var prev uint32
	for _, idx := range m.methodOrder {
		out.Write(tmp[:putUvarint(tmp[:], uint32(idx)-prev)])
		prev = uint32(idx)

		ic := m.methodMap[idx]
		binary.LittleEndian.PutUint16(u16[:], uint16(len(ic.order)))
		out.Write(u16[:])

		for _, pc := range ic.order {
			dpc := ic.data[pc]
			binary.LittleEndian.PutUint16(u16[:], pc)
			out.Write(u16[:])

			switch dpc.kind {
			case dexPcMegamorphic:
				out.WriteByte(0)
				out.WriteByte(dexPcKindMegamorphic)
			case dexPcMissingTypes:
				out.WriteByte(0)
				out.WriteByte(dexPcKindMissingTypes)
			case dexPcClasses:
				if len(dpc.classes) > 0xff {
					return fmt.Errorf("profile: pc %d has %d classes, exceeds wire limit 255", pc, len(dpc.classes))
				}
				out.WriteByte(byte(len(dpc.classes)))
				writeClassRefGroups(out, isBoot, dpc.classes)
			default:
				return fmt.Errorf("profile: unknown dex pc kind %d", dpc.kind)
			}
		}
	}
	return nil
}

// writeClassRefGroups writes refs (already sorted by (ProfileIndex,
// TypeIndex), per ClassReference's ordering invariant) as runs of equal
// ProfileIndex, each run's TypeIndex delta-encoded from the previous
// member of the same run.
func writeClassRefGroups(out *bytes.Buffer, isBoot bool, refs []ClassReference) {
	var tmp [maxVarintLen32]byte
	i := 0
	for i < len(refs) {
		j := i + 1
		for j < len(refs) && refs[j].ProfileIndex == refs[i].ProfileIndex && j-i < maxGroupRunLength {
			j++
		}

		var idxBuf []byte
		idxBuf = putIndex(idxBuf, isBoot, uint32(refs[i].ProfileIndex))
		out.Write(idxBuf)
		out.WriteByte(byte(j - i))

		var prevType uint32
		for k := i; k < j; k++ {
			out.Write(tmp[:putUvarint(tmp[:], uint32(refs[k].TypeIndex)-prevType)])
			prevType = uint32(refs[k].TypeIndex)
		}
		i = j
	}
}

// decodedModule is the wire-order module data before it is assigned a
// profile index in the destination Store (decoding happens before we know
// the merge target's numbering).
type decodedModule struct {
	key          string
	checksum     uint32
	numMethodIDs uint32
	bitmapBits   []byte
	methods      []decodedMethod
	classes      []uint16
}

type decodedMethod struct {
	index uint16
	pcs   []decodedPC
}

type decodedPC struct {
	pc      uint16
	kind    dexPcKind
	classes []ClassReference // ProfileIndex here is the *source* stream's local index, remapped by the caller
}

// decode parses the wire format from r, validating the magic and returning
// the flavor (isBoot) and decoded modules. It does not touch any Store —
// callers apply remapping and merge policy themselves (spec.md §4.5/§4.6).
func decode(r io.Reader) (isBoot bool, modules []decodedModule, err error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return false, nil, badData("header", err)
	}
	if magic != magicBytes {
		return false, nil, badData("header", fmt.Errorf("bad magic %q", magic))
	}

	var version [4]byte
	if _, err := io.ReadFull(br, version[:]); err != nil {
		return false, nil, badData("header", err)
	}
	switch version {
	case regularVersion:
		isBoot = false
	case bootVersion:
		isBoot = true
	default:
		return false, nil, ErrVersionMismatch
	}

	numModules, err := readIndex(br, isBoot)
	if err != nil {
		return false, nil, badData("numModules", err)
	}

	var sizes [8]byte
	if _, err := io.ReadFull(br, sizes[:]); err != nil {
		return false, nil, badData("sizes", err)
	}
	uncompressedSize := binary.LittleEndian.Uint32(sizes[0:4])
	if uncompressedSize > maxUncompressedSize {
		return false, nil, badDataf("sizes", "uncompressed size %d exceeds guardrail %d", uncompressedSize, uint32(maxUncompressedSize))
	}

	fr := flate.NewReader(br)
	defer fr.Close()

	lr := io.LimitReader(fr, int64(uncompressedSize)+1)
	body := bufio.NewReader(lr)

	modules = make([]decodedModule, 0, numModules)
	for i := uint32(0); i < numModules; i++ {
		m, err := decodeModule(body, isBoot)
		if err != nil {
			return false, nil, err
		}
		modules = append(modules, m)
	}
	return isBoot, modules, nil
}

func decodeModule(body *bufio.Reader, isBoot bool) (decodedModule, error) {
	var m decodedModule

	if _, err := readIndex(body, isBoot); err != nil {
		return m, badData("profileIndex", err)
	}

	var u16 [2]byte
	if _, err := io.ReadFull(body, u16[:]); err != nil {
		return m, badData("numTypeIDsInClassSet", err)
	}
	numTypeIDsInClassSet := binary.LittleEndian.Uint16(u16[:])

	var u32 [4]byte
	if _, err := io.ReadFull(body, u32[:]); err != nil {
		return m, badData("methodsRegionBytes", err)
	}
	methodsRegionBytes := binary.LittleEndian.Uint32(u32[:])

	if _, err := io.ReadFull(body, u32[:]); err != nil {
		return m, badData("checksum", err)
	}
	m.checksum = binary.LittleEndian.Uint32(u32[:])

	if _, err := io.ReadFull(body, u32[:]); err != nil {
		return m, badData("numMethodIDs", err)
	}
	m.numMethodIDs = binary.LittleEndian.Uint32(u32[:])

	if _, err := io.ReadFull(body, u16[:]); err != nil {
		return m, badData("keyLength", err)
	}
	keyLen := binary.LittleEndian.Uint16(u16[:])
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(body, keyBuf); err != nil {
		return m, badData("moduleKey", err)
	}
	m.key = unsafeBytesToString(keyBuf)

	methodsBuf := make([]byte, methodsRegionBytes)
	if _, err := io.ReadFull(body, methodsBuf); err != nil {
		return m, badData("methodsRegion", err)
	}
	methods, err := decodeMethodsRegion(bufio.NewReader(bytes.NewReader(methodsBuf)), isBoot, m.numMethodIDs)
	if err != nil {
		return m, err
	}
	m.methods = methods

	m.classes = make([]uint16, numTypeIDsInClassSet)
	for i := range m.classes {
		if _, err := io.ReadFull(body, u16[:]); err != nil {
			return m, badData("classID", err)
		}
		m.classes[i] = binary.LittleEndian.Uint16(u16[:])
	}

	planes := len(bitmapPlanes(isBoot))
	totalBits := uint64(m.numMethodIDs) * uint64(planes)
	m.bitmapBits = make([]byte, (totalBits+7)/8)
	if _, err := io.ReadFull(body, m.bitmapBits); err != nil {
		return m, badData("bitmap", err)
	}

	return m, nil
}

func decodeMethodsRegion(body *bufio.Reader, isBoot bool, numMethodIDs uint32) ([]decodedMethod, error) {
	var methods []decodedMethod
	var u16 [2]byte
	var prevMethod uint32
	for {
		delta, err := readUvarint(body)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, badData("methodIndex", err)
		}
		prevMethod += delta
		if prevMethod > 0xffff {
			return nil, badDataf("methodIndex", "method index %d exceeds uint16 range", prevMethod)
		}
		if prevMethod >= numMethodIDs {
			return nil, badDataf("methodIndex", "method index %d exceeds module's num_method_ids %d", prevMethod, numMethodIDs)
		}
		meth := decodedMethod{index: uint16(prevMethod)}

		if _, err := io.ReadFull(body, u16[:]); err != nil {
			return nil, badData("numInlineCaches", err)
		}
		numPCs := binary.LittleEndian.Uint16(u16[:])
		meth.pcs = make([]decodedPC, 0, numPCs)

		for j := uint16(0); j < numPCs; j++ {
			if _, err := io.ReadFull(body, u16[:]); err != nil {
				return nil, badData("dexPC", err)
			}
			pc := decodedPC{pc: binary.LittleEndian.Uint16(u16[:])}

			classCount, err := body.ReadByte()
			if err != nil {
				return nil, badData("classCount", err)
			}
			if classCount == 0 {
				kindByte, err := body.ReadByte()
				if err != nil {
					return nil, badData("sentinelKind", err)
				}
				switch kindByte {
				case dexPcKindMegamorphic:
					pc.kind = dexPcMegamorphic
				case dexPcKindMissingTypes:
					pc.kind = dexPcMissingTypes
				default:
					return nil, badDataf("sentinelKind", "unknown dex pc kind %d", kindByte)
				}
			} else {
				pc.kind = dexPcClasses
				refs, err := readClassRefGroups(body, isBoot, int(classCount))
				if err != nil {
					return nil, err
				}
				pc.classes = refs
			}
			meth.pcs = append(meth.pcs, pc)
		}
		methods = append(methods, meth)
	}
	return methods, nil
}

func readClassRefGroups(body *bufio.Reader, isBoot bool, total int) ([]ClassReference, error) {
	refs := make([]ClassReference, 0, total)
	for len(refs) < total {
		profileIdx, err := readIndex(body, isBoot)
		if err != nil {
			return nil, badData("classRefGroup", err)
		}
		runLength, err := body.ReadByte()
		if err != nil {
			return nil, badData("classRefGroupRunLength", err)
		}
		if len(refs)+int(runLength) > total {
			return nil, badDataf("classRefGroup", "run length %d overruns class count %d", runLength, total)
		}
		var prevType uint32
		for k := byte(0); k < runLength; k++ {
			delta, err := readUvarint(body)
			if err != nil {
				return nil, badData("classRefTypeIndex", err)
			}
			prevType += delta
			if prevType > 0xffff {
				return nil, badDataf("classRefTypeIndex", "type index %d exceeds uint16 range", prevType)
			}
			refs = append(refs, ClassReference{
				ProfileIndex: uint16(profileIdx),
				TypeIndex:    uint16(prevType),
			})
		}
	}
	return refs, nil
}
