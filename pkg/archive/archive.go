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

// Package archive locates a profile stream inside either a bare file or a
// zip-format application archive, mirroring how a profile path on a real
// device can point at either kind of artifact.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// canonicalEntryName is the entry a zip archive is expected to carry its
// profile under.
const canonicalEntryName = "primary.prof"

var zipMagic = []byte("PK\x03\x04")

// OpenProfileEntry opens path for reading. If the file is zip-formatted it
// extracts canonicalEntryName (falling back to the first entry whose name
// ends in ".prof" if that exact name is absent); otherwise it returns the
// file itself as a bare profile stream.
func OpenProfileEntry(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	if n < len(magic) || !bytes.Equal(magic[:], zipMagic) {
		return f, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	entry := findEntry(zr, canonicalEntryName)
	if entry == nil {
		entry = findEntrySuffix(zr, ".prof")
	}
	if entry == nil {
		f.Close()
		return nil, fmt.Errorf("archive: %s: no %s entry and no fallback *.prof entry", path, canonicalEntryName)
	}

	rc, err := entry.Open()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zipEntryReadCloser{rc: rc, outer: f}, nil
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func findEntrySuffix(zr *zip.Reader, suffix string) *zip.File {
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, suffix) {
			return f
		}
	}
	return nil
}

// zipEntryReadCloser closes both the decompressing entry reader and the
// underlying archive file.
type zipEntryReadCloser struct {
	rc    io.ReadCloser
	outer *os.File
}

func (z *zipEntryReadCloser) Read(p []byte) (int, error) { return z.rc.Read(p) }

func (z *zipEntryReadCloser) Close() error {
	err := z.rc.Close()
	if cerr := z.outer.Close(); err == nil {
		err = cerr
	}
	return err
}
