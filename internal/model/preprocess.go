package model

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

const (
	ImageSize = 224
	Channels  = 3

	// TensorSize is the number of float32 values fed to the graph per image.
	TensorSize = Channels * ImageSize * ImageSize
)

// ImageNet statistics the ResNet-50 backbone was trained with.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// DecodeImage decodes JPEG, PNG or GIF bytes and returns the format name.
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", errors.New("empty input"))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image", err)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, "", domain.WrapError(domain.ErrDecode, "decode image",
			fmt.Errorf("empty raster %dx%d", b.Dx(), b.Dy()))
	}
	return img, format, nil
}

// Preprocess turns an image of any size into the normalized CHW tensor the
// classifier expects. The aspect ratio is not preserved.
func Preprocess(img image.Image) ([]float32, error) {
	if img == nil {
		return nil, domain.WrapError(domain.ErrDecode, "preprocess", errors.New("nil image"))
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, domain.WrapError(domain.ErrDecode, "preprocess",
			fmt.Errorf("empty raster %dx%d", b.Dx(), b.Dy()))
	}

	resized := resize.Resize(ImageSize, ImageSize, toRGB(img), resize.Bilinear)
	rb := resized.Bounds()

	const plane = ImageSize * ImageSize
	out := make([]float32, TensorSize)
	for y := 0; y < ImageSize; y++ {
		for x := 0; x < ImageSize; x++ {
			r, g, bl, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()

			i := y*ImageSize + x
			out[i] = (float32(r)/65535.0 - Mean[0]) / Std[0]
			out[plane+i] = (float32(g)/65535.0 - Mean[1]) / Std[1]
			out[2*plane+i] = (float32(bl)/65535.0 - Mean[2]) / Std[2]
		}
	}
	return out, nil
}

// toRGB returns an opaque copy of img. Alpha is discarded rather than
// composited, so a transparent red pixel stays red.
func toRGB(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray:
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			off := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[off] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}
