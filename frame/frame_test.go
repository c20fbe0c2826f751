package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 grayscale PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAAAAAA6fptVAAAACklEQVR4nGNgAAAAAgABSK+kcQAAAABJRU5ErkJggg=="

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func encodeJPEG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDecodeResizesTinyPNG(t *testing.T) {
	f, err := Decode(tinyPNG, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), f.Width)
	assert.Equal(t, uint32(2), f.Height)
	assert.Len(t, f.Pixels, 2*2*3)
	assert.NoError(t, f.Validate())
}

func TestDecodeAlwaysYieldsTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		dstW, dstH   uint32
		encodeAsJPEG bool
	}{
		{"passthrough png", 8, 6, 8, 6, false},
		{"upscale png", 3, 2, 16, 9, false},
		{"downscale jpeg", 64, 48, 32, 18, true},
		{"aspect change jpeg", 40, 10, 10, 40, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(tt.srcW, tt.srcH, color.RGBA{R: 200, G: 100, B: 50, A: 255})
			payload := encodePNG(t, img)
			if tt.encodeAsJPEG {
				payload = encodeJPEG(t, img)
			}

			f, err := Decode(payload, tt.dstW, tt.dstH)
			require.NoError(t, err)
			assert.Len(t, f.Pixels, int(tt.dstW*tt.dstH*3))
			assert.NoError(t, f.Validate())
		})
	}
}

func TestDecodePassthroughKeepsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{B: 255, A: 255})

	f, err := Decode(encodePNG(t, img), 2, 1)
	require.NoError(t, err)

	assert.Equal(t, []byte{255, 0, 0, 0, 0, 255}, f.Pixels)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	_, err := Decode("not base64!!", 4, 4)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte("plain text")), 4, 4)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Decode(tinyPNG, 0, 4)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&RawFrame{Width: 2, Height: 2, Pixels: make([]byte, 12)}).Validate())
	assert.ErrorIs(t, (&RawFrame{Width: 2, Height: 2, Pixels: make([]byte, 11)}).Validate(), ErrInvalidDimensions)
	assert.ErrorIs(t, (&RawFrame{Width: 0, Height: 2}).Validate(), ErrInvalidDimensions)

	var nilFrame *RawFrame
	assert.ErrorIs(t, nilFrame.Validate(), ErrInvalidDimensions)
}
