// Package preprocess turns uploaded images into the input tensor the
// classifier expects.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// Channels is the number of colour channels fed to the network.
	Channels = 3
	// ImageSize is the square input resolution of the network.
	ImageSize = 224
)

// ErrUndecodable is returned when the uploaded bytes are not an image in
// any registered format.
var ErrUndecodable = errors.New("not a decodable image")

// Pipeline resizes an image to Width x Height and lays it out as a
// 1 x 3 x Height x Width float32 tensor with values in [0, 1].
type Pipeline struct {
	Width  int
	Height int
}

// Default returns the pipeline the shipped model was trained with.
func Default() Pipeline {
	return Pipeline{Width: ImageSize, Height: ImageSize}
}

// Shape is the batched, channel-first tensor shape produced by Apply.
func (p Pipeline) Shape() []int64 {
	return []int64{1, Channels, int64(p.Height), int64(p.Width)}
}

// Size is the number of float32 values produced by Apply.
func (p Pipeline) Size() int {
	return Channels * p.Width * p.Height
}

// Decode reads one image in any of the registered formats.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: %s image has no pixels", ErrUndecodable, format)
	}
	return img, format, nil
}

// Apply converts img to RGB, resizes it and returns the tensor data.
func (p Pipeline) Apply(img image.Image) []float32 {
	resized := resize.Resize(uint(p.Width), uint(p.Height), toRGB(img), resize.Bilinear)

	bounds := resized.Bounds()
	plane := p.Width * p.Height
	data := make([]float32, Channels*plane)

	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*p.Width + x
			data[i] = float32(r>>8) / 255.0
			data[plane+i] = float32(g>>8) / 255.0
			data[2*plane+i] = float32(b>>8) / 255.0
		}
	}
	return data
}

// toRGB returns an opaque copy of img. Colour values are taken
// non-premultiplied and alpha is discarded rather than composited.
func toRGB(img image.Image) *image.NRGBA {
	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return rgb
}
