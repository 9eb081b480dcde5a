package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnknownCodec = errors.New("libpyramid: no decoder for tile data")
	ErrCorrupt      = errors.New("libpyramid: corrupt tile data")
)

type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("Compression(%d)", c)
}

// ParseCompression resolves "none", "snappy" or "zstd".
func ParseCompression(s string) (Compression, error) {
	for _, c := range []Compression{CompressionNone, CompressionSnappy, CompressionZstd} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("libpyramid: unknown compression %q", s)
}

type header struct {
	Magic       [4]byte
	DataType    DataType
	Compression Compression
	Bands       uint16
	MinX        int32
	MinY        int32
	Width       uint32
	Height      uint32
	Checksum    uint64
}

const headerLength = 32

var (
	rasterMagic = [4]byte{'L', 'P', 'R', '1'}
	pngMagic    = []byte("\x89PNG\r\n\x1a\n")
)

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

// Codec encodes rasters into self-describing tile blobs: a fixed little-endian header
// followed by the (optionally compressed) samples. The header carries an xxhash
// checksum of the uncompressed samples. Decode also accepts PNG data.
type Codec struct {
	Compression Compression
}

func (c Codec) Encode(r *Raster) ([]byte, error) {
	if !r.Model.Valid() {
		return nil, fmt.Errorf("libpyramid: invalid sample model %v", r.Model)
	}
	payload := encodeSamples(r)
	h := header{
		Magic:       rasterMagic,
		DataType:    r.Model.DataType,
		Compression: c.Compression,
		Bands:       uint16(r.Model.Bands),
		MinX:        int32(r.Rect.Min.X),
		MinY:        int32(r.Rect.Min.Y),
		Width:       uint32(r.Rect.Dx()),
		Height:      uint32(r.Rect.Dy()),
		Checksum:    xxhash.Sum64(payload),
	}

	var err error
	switch c.Compression {
	case CompressionNone:
	case CompressionSnappy:
		payload = snappy.Encode(nil, payload)
	case CompressionZstd:
		var enc *zstd.Encoder
		if enc, err = zstdEncoder(); err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("libpyramid: compression not supported (%v)", c.Compression)
	}

	var buffer bytes.Buffer
	buffer.Grow(headerLength + len(payload))
	binary.Write(&buffer, binary.LittleEndian, &h)
	buffer.Write(payload)
	return buffer.Bytes(), nil
}

func (c Codec) Decode(data []byte) (*Raster, error) {
	if bytes.HasPrefix(data, pngMagic) {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return FromImage(img), nil
	}
	if len(data) < headerLength || !bytes.Equal(data[:4], rasterMagic[:]) {
		return nil, ErrUnknownCodec
	}

	var h header
	if err := binary.Read(bytes.NewReader(data[:headerLength]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	payload := data[headerLength:]

	var err error
	switch h.Compression {
	case CompressionNone:
	case CompressionSnappy:
		payload, err = snappy.Decode(nil, payload)
	case CompressionZstd:
		var dec *zstd.Decoder
		if dec, err = zstdDecoder(); err == nil {
			payload, err = dec.DecodeAll(payload, nil)
		}
	default:
		return nil, fmt.Errorf("%w: compression %v", ErrUnknownCodec, h.Compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	model := SampleModel{DataType: h.DataType, Bands: int(h.Bands)}
	if !model.Valid() {
		return nil, fmt.Errorf("%w: sample model %v", ErrCorrupt, model)
	}
	if want := int(h.Width) * int(h.Height) * model.Bands * model.DataType.Size(); len(payload) != want {
		return nil, fmt.Errorf("%w: %d sample bytes, want %d", ErrCorrupt, len(payload), want)
	}
	if xxhash.Sum64(payload) != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	rect := image.Rect(int(h.MinX), int(h.MinY), int(h.MinX)+int(h.Width), int(h.MinY)+int(h.Height))
	r := New(rect, model)
	decodeSamples(r, payload)
	return r, nil
}

func encodeSamples(r *Raster) []byte {
	size := r.Model.DataType.Size()
	buf := make([]byte, len(r.Pix)*size)
	le := binary.LittleEndian
	for i, v := range r.Pix {
		b := buf[i*size:]
		switch r.Model.DataType {
		case Uint8:
			b[0] = uint8(v)
		case Int16:
			le.PutUint16(b, uint16(int16(v)))
		case Uint16:
			le.PutUint16(b, uint16(v))
		case Int32:
			le.PutUint32(b, uint32(int32(v)))
		case Float32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(b, math.Float64bits(v))
		}
	}
	return buf
}

func decodeSamples(r *Raster, buf []byte) {
	size := r.Model.DataType.Size()
	le := binary.LittleEndian
	for i := range r.Pix {
		b := buf[i*size:]
		switch r.Model.DataType {
		case Uint8:
			r.Pix[i] = float64(b[0])
		case Int16:
			r.Pix[i] = float64(int16(le.Uint16(b)))
		case Uint16:
			r.Pix[i] = float64(le.Uint16(b))
		case Int32:
			r.Pix[i] = float64(int32(le.Uint32(b)))
		case Float32:
			r.Pix[i] = float64(math.Float32frombits(le.Uint32(b)))
		case Float64:
			r.Pix[i] = math.Float64frombits(le.Uint64(b))
		}
	}
}
