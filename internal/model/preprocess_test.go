package model

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

func uniformRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func normalized(v float32, c int) float32 {
	return (v - Mean[c]) / Std[c]
}

func requirePlane(t *testing.T, tensor []float32, c int, want float32) {
	t.Helper()
	const plane = ImageSize * ImageSize
	for _, i := range []int{0, plane / 2, plane - 1} {
		require.InDelta(t, want, tensor[c*plane+i], 0.05, "channel %d index %d", c, i)
	}
}

func TestPreprocessShapeAndNormalization(t *testing.T) {
	tensor, err := Preprocess(uniformRGBA(64, 48, color.RGBA{R: 255, G: 0, B: 255, A: 255}))
	require.NoError(t, err)
	require.Len(t, tensor, TensorSize)

	requirePlane(t, tensor, 0, normalized(1, 0))
	requirePlane(t, tensor, 1, normalized(0, 1))
	requirePlane(t, tensor, 2, normalized(1, 2))
}

func TestPreprocessAnySize(t *testing.T) {
	sizes := []image.Rectangle{
		image.Rect(0, 0, 1, 1),
		image.Rect(0, 0, ImageSize, ImageSize),
		image.Rect(0, 0, 640, 90),
		image.Rect(10, 20, 17, 500),
	}
	for _, r := range sizes {
		img := image.NewRGBA(r)
		tensor, err := Preprocess(img)
		require.NoError(t, err, r.String())
		require.Len(t, tensor, TensorSize, r.String())
	}
}

func TestPreprocessDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 0, B: 0, A: 0})
		}
	}

	tensor, err := Preprocess(img)
	require.NoError(t, err)
	requirePlane(t, tensor, 0, normalized(1, 0))
	requirePlane(t, tensor, 1, normalized(0, 1))
}

func TestPreprocessGrayscaleReplicatesChannels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 30, 10))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	tensor, err := Preprocess(img)
	require.NoError(t, err)
	v := float32(128) / 255
	for c := 0; c < Channels; c++ {
		requirePlane(t, tensor, c, normalized(v, c))
	}
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 70))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}
	a, err := Preprocess(img)
	require.NoError(t, err)
	b, err := Preprocess(img)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestPreprocessRejectsEmpty(t *testing.T) {
	_, err := Preprocess(nil)
	require.True(t, domain.IsKind(err, domain.ErrDecode))

	_, err = Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 5)))
	require.True(t, domain.IsKind(err, domain.ErrDecode))
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, uniformRGBA(3, 2, color.RGBA{A: 255})))

	img, format, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 3, img.Bounds().Dx())

	_, _, err = DecodeImage([]byte("definitely not an image"))
	require.True(t, domain.IsKind(err, domain.ErrDecode))

	_, _, err = DecodeImage(nil)
	require.True(t, domain.IsKind(err, domain.ErrDecode))
}
