// Package spec implements the binary layout of pack archives: a fixed header, a
// mosaic table, Hilbert-ordered tile directories and clustered tile data.
package spec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZstd
)

type Header struct {
	HeaderMagic         uint64
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	MosaicTableOffset   uint64
	MosaicTableLength   uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
}

const (
	headerMagic     uint64 = 0x4b434150525950 // "PYRPACK"
	headerMagicMask uint64 = 1<<56 - 1
	HeaderMagicV1   uint64 = headerMagic | (0x01 << 56)

	HeaderLength = 114

	// root directory must be contained in the first 16 KiB
	HeaderRootDirMaxLength = 16 << 10
	RootDirOffset          = HeaderLength
	RootDirMaxLength       = HeaderRootDirMaxLength - HeaderLength
)

var ErrInvalidHeader = errors.New("libpyramid: invalid pack header")
var ErrInvalidVersion = errors.New("libpyramid: unsupported pack version")

func SerializeHeader(header *Header) []byte {
	var buffer bytes.Buffer
	writer := bufio.NewWriter(&buffer)
	binary.Write(writer, binary.LittleEndian, header)
	writer.Flush()
	return buffer.Bytes()
}

func DeserializeHeader(buffer []byte) (*Header, error) {
	header := Header{}
	reader := bytes.NewReader(buffer)
	err := binary.Read(reader, binary.LittleEndian, &header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if header.HeaderMagic&headerMagicMask != headerMagic {
		return nil, ErrInvalidHeader
	}
	if header.HeaderMagic != HeaderMagicV1 {
		return nil, ErrInvalidVersion
	}
	return &header, nil
}
