package raster

import "errors"

// ImageReader gives access to the images of an external resource. Implementations
// must be closed after use.
type ImageReader interface {
	Read(index int) (*Raster, error)
	Close() error
}

var errReaderClosed = errors.New("libpyramid: image reader closed")

type bytesReader struct {
	codec  Codec
	images [][]byte
}

// NewBytesReader returns an ImageReader decoding the given encoded images on demand.
func NewBytesReader(codec Codec, images ...[]byte) ImageReader {
	return &bytesReader{codec: codec, images: images}
}

func (r *bytesReader) Read(index int) (*Raster, error) {
	if r.images == nil {
		return nil, errReaderClosed
	}
	if index < 0 || index >= len(r.images) {
		return nil, errors.New("libpyramid: image index out of range")
	}
	return r.codec.Decode(r.images[index])
}

func (r *bytesReader) Close() error {
	r.images = nil
	return nil
}
