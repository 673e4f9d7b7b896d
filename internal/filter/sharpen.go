package filter

import (
	"fmt"
	"image"
	"strconv"

	"github.com/disintegration/imaging"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/validation"
)

const (
	SharpenName = "sharpen"

	defaultSharpenSigma = 1.0
)

// Sharpen applies an unsharp mask.
type Sharpen struct {
	sigma float64
}

// NewSharpen creates a sharpen filter; sigma controls the mask radius.
func NewSharpen(sigma float64) (*Sharpen, error) {
	if !(sigma > 0) {
		return nil, apperrors.NewValidationError(ParamSigma, fmt.Sprintf("must be a positive number (got %v)", sigma), nil)
	}
	return &Sharpen{sigma: sigma}, nil
}

func sharpenFactory(params map[string]string) (Filter, error) {
	if err := validation.Known(params, ParamSigma); err != nil {
		return nil, err
	}

	sigma, err := validation.PositiveFloat(ParamSigma, params[ParamSigma], defaultSharpenSigma)
	if err != nil {
		return nil, err
	}

	return NewSharpen(sigma)
}

func (s *Sharpen) Name() string { return SharpenName }

func (s *Sharpen) Params() map[string]string {
	return map[string]string{ParamSigma: strconv.FormatFloat(s.sigma, 'g', -1, 64)}
}

func (s *Sharpen) Process(src image.Image) (image.Image, error) {
	if err := checkBounds(src); err != nil {
		return nil, err
	}
	return sameChannels(src, imaging.Sharpen(src, s.sigma)), nil
}
