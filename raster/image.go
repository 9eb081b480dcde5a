package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// FromImage converts an image into a uint8 raster. Gray images give one band, images
// without alpha three, everything else four (non-premultiplied RGBA).
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	switch img := img.(type) {
	case *image.Gray:
		r := New(b, SampleModel{DataType: Uint8, Bands: 1})
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r.Pix[r.offset(x, y)] = float64(img.GrayAt(x, y).Y)
			}
		}
		return r
	case *image.YCbCr:
		r := New(b, SampleModel{DataType: Uint8, Bands: 3})
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := img.YCbCrAt(x, y)
				cr, cg, cb := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				copy(r.Pixel(x, y), []float64{float64(cr), float64(cg), float64(cb)})
			}
		}
		return r
	}

	r := New(b, SampleModel{DataType: Uint8, Bands: 4})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			copy(r.Pixel(x, y), []float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)})
		}
	}
	return r
}

// Image converts a uint8 raster with 1, 3 or 4 bands into an image.
func (r *Raster) Image() (image.Image, error) {
	if r.Model.DataType != Uint8 {
		return nil, fmt.Errorf("libpyramid: cannot convert %v raster to image", r.Model)
	}
	switch r.Model.Bands {
	case 1:
		img := image.NewGray(r.Rect)
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: uint8(r.At(x, y, 0))})
			}
		}
		return img, nil
	case 3, 4:
		img := image.NewNRGBA(r.Rect)
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
				px := r.Pixel(x, y)
				c := color.NRGBA{R: uint8(px[0]), G: uint8(px[1]), B: uint8(px[2]), A: 0xff}
				if len(px) == 4 {
					c.A = uint8(px[3])
				}
				img.SetNRGBA(x, y, c)
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("libpyramid: cannot convert %d bands to image", r.Model.Bands)
}

// EncodePNG writes a uint8 raster as PNG.
func EncodePNG(w io.Writer, r *Raster) error {
	img, err := r.Image()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
