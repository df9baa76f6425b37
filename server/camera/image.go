package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/bmharper/cimg/v2"
)

var ErrUnknownImageFormat = errors.New("Unknown image format")

// Frames larger than this are scaled down before they enter the stream.
// The fusion thresholds are calibrated for frames of roughly this size.
const (
	IdealWidth  = 640
	IdealHeight = 480
)

// DecodeImage decodes a JPEG or PNG file into an RGBA image
func DecodeImage(data []byte) (*image.RGBA, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xff, 0xd8}):
		img, err := cimg.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode JPEG: %w", err)
		}
		return FromCImage(img), nil
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("Failed to decode PNG: %w", err)
		}
		return ToRGBA(img), nil
	}
	return nil, ErrUnknownImageFormat
}

// EncodeJPEG compresses an RGBA image
func EncodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	wrapped := cimg.WrapImageStrided(img.Rect.Dx(), img.Rect.Dy(), cimg.PixelFormatRGBA, img.Pix, img.Stride)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

// FromCImage converts a cimg image (gray, RGB or RGBA) into a Go RGBA image
func FromCImage(src *cimg.Image) *image.RGBA {
	if src.NChan() != 3 && src.NChan() != 4 {
		src = src.ToRGB()
	}
	nchan := src.NChan()
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		srcLine := src.Pixels[y*src.Stride : y*src.Stride+src.Width*nchan]
		dstLine := dst.Pix[y*dst.Stride : y*dst.Stride+src.Width*4]
		if nchan == 4 {
			copy(dstLine, srcLine)
			continue
		}
		for x := 0; x < src.Width; x++ {
			dstLine[x*4] = srcLine[x*3]
			dstLine[x*4+1] = srcLine[x*3+1]
			dstLine[x*4+2] = srcLine[x*3+2]
			dstLine[x*4+3] = 255
		}
	}
	return dst
}

// ToRGBA returns img if it is already an RGBA image with origin (0,0), otherwise a converted copy
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// FitWithin scales img down (preserving aspect ratio) so that it fits inside maxWidth x maxHeight.
// Images that already fit are returned unchanged.
func FitWithin(img *image.RGBA, maxWidth, maxHeight int) *image.RGBA {
	width := img.Rect.Dx()
	height := img.Rect.Dy()
	if maxWidth <= 0 || maxHeight <= 0 || (width <= maxWidth && height <= maxHeight) {
		return img
	}
	scale := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	newWidth := max(int(float64(width)*scale+0.5), 1)
	newHeight := max(int(float64(height)*scale+0.5), 1)
	src := cimg.WrapImageStrided(width, height, cimg.PixelFormatRGBA, img.Pix, img.Stride)
	resized := cimg.ResizeNew(src, newWidth, newHeight, nil)
	return &image.RGBA{
		Pix:    resized.Pixels,
		Stride: resized.Stride,
		Rect:   image.Rect(0, 0, resized.Width, resized.Height),
	}
}
