package filter

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/aliskhannn/image-batch/internal/validation"
)

const (
	WatermarkName = "watermark"

	ParamText = "text"

	watermarkMargin = 10.0
)

// Watermark draws a text label in the bottom-right corner.
// The text is drawn with gg's built-in bitmap face.
type Watermark struct {
	text string
}

// NewWatermark creates a watermark filter; text must not be blank.
func NewWatermark(text string) (*Watermark, error) {
	t, err := validation.NonEmpty(ParamText, text)
	if err != nil {
		return nil, err
	}
	return &Watermark{text: t}, nil
}

func watermarkFactory(params map[string]string) (Filter, error) {
	if err := validation.Known(params, ParamText); err != nil {
		return nil, err
	}
	return NewWatermark(params[ParamText])
}

func (w *Watermark) Name() string { return WatermarkName }

func (w *Watermark) Params() map[string]string {
	return map[string]string{ParamText: w.text}
}

func (w *Watermark) Process(src image.Image) (image.Image, error) {
	if err := checkBounds(src); err != nil {
		return nil, err
	}

	// NewContextForImage copies src into a fresh RGBA buffer.
	dc := gg.NewContextForImage(src)

	x := float64(dc.Width()) - watermarkMargin
	y := float64(dc.Height()) - watermarkMargin

	// Dark shadow first so the label stays readable on light backgrounds.
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(w.text, x+1, y+1, 1, 0)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(w.text, x, y, 1, 0)

	return sameChannels(src, imaging.Clone(dc.Image())), nil
}
