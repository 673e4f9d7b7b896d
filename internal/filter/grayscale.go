package filter

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/image-batch/internal/validation"
)

const GrayscaleName = "grayscale"

// Grayscale desaturates an image, keeping its alpha channel.
type Grayscale struct{}

func NewGrayscale() *Grayscale {
	return &Grayscale{}
}

func grayscaleFactory(params map[string]string) (Filter, error) {
	if err := validation.Known(params); err != nil {
		return nil, err
	}
	return NewGrayscale(), nil
}

func (g *Grayscale) Name() string { return GrayscaleName }

func (g *Grayscale) Params() map[string]string { return map[string]string{} }

func (g *Grayscale) Process(src image.Image) (image.Image, error) {
	if err := checkBounds(src); err != nil {
		return nil, err
	}
	return sameChannels(src, imaging.Grayscale(src)), nil
}
