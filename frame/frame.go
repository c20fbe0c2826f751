package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// BytesPerPixel is the packed rgb24 pixel size fed to the encoder.
const BytesPerPixel = 3

var (
	ErrInvalidPayload    = errors.New("invalid screencast payload")
	ErrInvalidDimensions = errors.New("invalid frame dimensions")
)

// Event is one screenshot notification from the capture session. ID must be
// acknowledged exactly once, in arrival order, before the session produces
// more events.
type Event struct {
	ID      int64
	Payload string
}

// RawFrame is a packed, row-major rgb24 buffer with no padding.
type RawFrame struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// Size returns the expected byte length for the frame dimensions.
func (f *RawFrame) Size() int {
	return int(f.Width) * int(f.Height) * BytesPerPixel
}

// Validate checks the packing invariant len(Pixels) == Width*Height*3.
func (f *RawFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidDimensions)
	}
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, f.Width, f.Height)
	}
	if len(f.Pixels) != f.Size() {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrInvalidDimensions, f.Width, f.Height, f.Size(), len(f.Pixels))
	}
	return nil
}

// Decode turns a base64 encoded JPEG or PNG screenshot into a RawFrame of
// exactly width x height, resampling when the source size differs.
func Decode(payload string, width, height uint32) (*RawFrame, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: target %dx%d", ErrInvalidDimensions, width, height)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidPayload, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: image: %v", ErrInvalidPayload, err)
	}

	return FromImage(img, width, height), nil
}

// FromImage normalizes img to width x height rgb24.
func FromImage(img image.Image, width, height uint32) *RawFrame {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))

	if bounds.Dx() == int(width) && bounds.Dy() == int(height) {
		xdraw.Draw(dst, dst.Bounds(), img, bounds.Min, xdraw.Src)
	} else {
		xdraw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	}

	pixels := make([]byte, int(width)*int(height)*BytesPerPixel)
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+4, j+BytesPerPixel {
		pixels[j] = dst.Pix[i]
		pixels[j+1] = dst.Pix[i+1]
		pixels[j+2] = dst.Pix[i+2]
	}

	return &RawFrame{Width: width, Height: height, Pixels: pixels}
}
