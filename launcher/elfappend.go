package launcher

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// elf64EhdrSize and elf64ShdrSize are the fixed ELF64 header and section
// header entry sizes; see the ELF-64 spec for the field layout this file
// reads and writes directly, since debug/elf (stdlib) only reads ELF and
// has no writer.
const (
	elf64EhdrSize = 64
	elf64ShdrSize = 64
)

// BuildAugmented appends one new section named sectionName(platform)
// holding a gzip-compressed copy of liteBinary to base (an existing ELF64
// little-endian executable), returning the augmented image bytes. This is
// the Go equivalent of embedded_binaries.rs's create_big_binary: turn a
// "lite" binary (no embedded payloads) plus one or more target-platform
// binaries into a single "big" binary a boss can deploy from.
//
// Only ELF64 little-endian base images are supported; Go's standard
// library ships no ELF/PE writer, so augmenting a PE executable would
// need a hand-rolled COFF section-table editor with the same long-name
// workaround this function already needs for ELF's string table — out of
// proportion for this exercise, so PE augmentation is not implemented
// (see DESIGN.md). Reading embedded sections back out (EmbeddedBinaries,
// in embedded.go) works for both formats since debug/pe can at least read what an
// ELF-hosted build process already baked in for a Windows target.
func BuildAugmented(base []byte, platform string, liteBinary []byte) ([]byte, error) {
	compressed, err := gzipBytes(liteBinary)
	if err != nil {
		return nil, errors.Wrap(err, "compressing payload")
	}
	return appendELFSection(base, sectionName(platform), compressed)
}

func appendELFSection(base []byte, name string, data []byte) ([]byte, error) {
	if len(base) < elf64EhdrSize {
		return nil, errors.New("image too short to be ELF64")
	}
	ident := base[:16]
	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return nil, errors.New("not an ELF image")
	}
	if ident[4] != 2 {
		return nil, errors.New("only ELF64 images are supported")
	}
	if ident[5] != 1 {
		return nil, errors.New("only little-endian ELF images are supported")
	}

	le := binary.LittleEndian
	shoff := le.Uint64(base[40:48])
	shentsize := le.Uint16(base[58:60])
	shnum := le.Uint16(base[60:62])
	shstrndx := le.Uint16(base[62:64])
	if shentsize != elf64ShdrSize {
		return nil, errors.Errorf("unexpected section header entry size %d", shentsize)
	}
	if int(shstrndx) >= int(shnum) {
		return nil, errors.New("invalid shstrndx")
	}

	shdrTable := base[shoff : shoff+uint64(shnum)*uint64(shentsize)]
	strtabHdr := shdrTable[int(shstrndx)*elf64ShdrSize : (int(shstrndx)+1)*elf64ShdrSize]
	strtabOff := le.Uint64(strtabHdr[24:32])
	strtabSize := le.Uint64(strtabHdr[32:40])
	oldStrtab := base[strtabOff : strtabOff+strtabSize]

	newStrtab := make([]byte, len(oldStrtab))
	copy(newStrtab, oldStrtab)
	nameOffset := uint32(len(newStrtab))
	newStrtab = append(newStrtab, []byte(name)...)
	newStrtab = append(newStrtab, 0)

	out := append([]byte(nil), base...)

	out, dataOff := appendAligned(out, data, 8)
	out, strtabOff2 := appendAligned(out, newStrtab, 1)

	newShdrTable := append([]byte(nil), shdrTable...)

	dataShdr := make([]byte, elf64ShdrSize)
	le.PutUint32(dataShdr[0:4], nameOffset)
	le.PutUint32(dataShdr[4:8], 1) // SHT_PROGBITS
	le.PutUint64(dataShdr[8:16], 0)
	le.PutUint64(dataShdr[16:24], 0)
	le.PutUint64(dataShdr[24:32], dataOff)
	le.PutUint64(dataShdr[32:40], uint64(len(data)))
	le.PutUint32(dataShdr[40:44], 0)
	le.PutUint32(dataShdr[44:48], 0)
	le.PutUint64(dataShdr[48:56], 1)
	le.PutUint64(dataShdr[56:64], 0)
	newShdrTable = append(newShdrTable, dataShdr...)

	strShdr := make([]byte, elf64ShdrSize)
	le.PutUint32(strShdr[0:4], 0) // name of the strtab section itself is irrelevant here.
	le.PutUint32(strShdr[4:8], 3) // SHT_STRTAB
	le.PutUint64(strShdr[8:16], 0)
	le.PutUint64(strShdr[16:24], 0)
	le.PutUint64(strShdr[24:32], strtabOff2)
	le.PutUint64(strShdr[32:40], uint64(len(newStrtab)))
	le.PutUint32(strShdr[40:44], 0)
	le.PutUint32(strShdr[44:48], 0)
	le.PutUint64(strShdr[48:56], 1)
	le.PutUint64(strShdr[56:64], 0)
	newShdrTable = append(newShdrTable, strShdr...)

	out, newShoff := appendAligned(out, newShdrTable, 8)

	le.PutUint64(out[40:48], newShoff)
	le.PutUint16(out[60:62], shnum+2)
	le.PutUint16(out[62:64], shnum+1) // the new data section is at index shnum, the new strtab at shnum+1.

	return out, nil
}

// appendAligned pads dst to the given byte alignment, then appends data,
// returning the new slice and the offset data now starts at.
func appendAligned(dst []byte, data []byte, align int) ([]byte, uint64) {
	for len(dst)%align != 0 {
		dst = append(dst, 0)
	}
	offset := uint64(len(dst))
	dst = append(dst, data...)
	return dst, offset
}
