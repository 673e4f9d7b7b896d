package filter

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"github.com/disintegration/imaging"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/validation"
)

const (
	GaussianName = "gaussian"

	ParamKernelSize = "kernel_size"
	ParamSigma      = "sigma"
)

// GaussianBlur is a separable Gaussian convolution with reflect-101 borders.
type GaussianBlur struct {
	kernelSize int
	sigma      float64 // as supplied; 0 means derived from kernelSize
	kernel     []float64
}

// NewGaussianBlur creates a blur with an odd kernelSize in [1, validation.MaxKernelSize].
// A sigma of 0 derives the standard deviation from the kernel size.
func NewGaussianBlur(kernelSize int, sigma float64) (*GaussianBlur, error) {
	if kernelSize <= 0 || kernelSize%2 == 0 || kernelSize > validation.MaxKernelSize {
		return nil, apperrors.NewValidationError(
			ParamKernelSize,
			fmt.Sprintf("must be a positive odd integer no greater than %d (got %d)", validation.MaxKernelSize, kernelSize),
			nil,
		)
	}
	if sigma < 0 || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return nil, apperrors.NewValidationError(ParamSigma, fmt.Sprintf("must be a positive number (got %v)", sigma), nil)
	}

	return &GaussianBlur{
		kernelSize: kernelSize,
		sigma:      sigma,
		kernel:     gaussianKernel(kernelSize, sigma),
	}, nil
}

func gaussianFactory(params map[string]string) (Filter, error) {
	if err := validation.Known(params, ParamKernelSize, ParamSigma); err != nil {
		return nil, err
	}

	k, err := validation.KernelSize(ParamKernelSize, params[ParamKernelSize])
	if err != nil {
		return nil, err
	}
	sigma, err := validation.PositiveFloat(ParamSigma, params[ParamSigma], 0)
	if err != nil {
		return nil, err
	}

	return NewGaussianBlur(k, sigma)
}

func (g *GaussianBlur) Name() string { return GaussianName }

func (g *GaussianBlur) Params() map[string]string {
	p := map[string]string{ParamKernelSize: strconv.Itoa(g.kernelSize)}
	if g.sigma > 0 {
		p[ParamSigma] = strconv.FormatFloat(g.sigma, 'g', -1, 64)
	}
	return p
}

// KernelSize returns the side length of the convolution window.
func (g *GaussianBlur) KernelSize() int { return g.kernelSize }

// Sigma returns the effective standard deviation.
func (g *GaussianBlur) Sigma() float64 { return effectiveSigma(g.kernelSize, g.sigma) }

// Process blurs src.
//
// *image.Gray input is blurred as one channel and returned as *image.Gray.
// Every other type (including *image.YCbCr from JPEG and 16-bit images) is
// converted to 8-bit NRGBA and returned as *image.NRGBA with the same width and
// height. Colour is weighted by alpha, so transparent pixels do not bleed
// into opaque neighbours.
func (g *GaussianBlur) Process(src image.Image) (image.Image, error) {
	if err := checkBounds(src); err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	if gray, ok := src.(*image.Gray); ok {
		in := make([]float64, w*h)
		for y := 0; y < h; y++ {
			i := gray.PixOffset(b.Min.X, b.Min.Y+y)
			for x, v := range gray.Pix[i : i+w] {
				in[y*w+x] = float64(v)
			}
		}

		dst := image.NewGray(image.Rect(0, 0, w, h))
		out := g.convolve(in, w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst.Pix[y*dst.Stride+x] = clampUint8(out[y*w+x])
			}
		}
		return dst, nil
	}

	// Clone always allocates, so src is never aliased.
	nrgba := imaging.Clone(src)

	in := make([]float64, w*h*4)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < w; x++ {
			p, i := row[x*4:x*4+4], (y*w+x)*4
			a := float64(p[3])
			in[i+0] = float64(p[0]) * a / 255
			in[i+1] = float64(p[1]) * a / 255
			in[i+2] = float64(p[2]) * a / 255
			in[i+3] = a
		}
	}

	out := g.convolve(in, w, h, 4)

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			p, i := row[x*4:x*4+4], (y*w+x)*4
			a := out[i+3]
			if a <= 0 {
				continue // fully transparent stays zero
			}
			p[0] = clampUint8(out[i+0] * 255 / a)
			p[1] = clampUint8(out[i+1] * 255 / a)
			p[2] = clampUint8(out[i+2] * 255 / a)
			p[3] = clampUint8(a)
		}
	}

	return dst, nil
}

// convolve runs the horizontal then the vertical pass of the separable kernel
// over a packed w*h*ch buffer and returns the result in the same layout.
func (g *GaussianBlur) convolve(src []float64, w, h, ch int) []float64 {
	r := len(g.kernel) / 2
	xs := reflectTable(w, r)
	ys := reflectTable(h, r)

	tmp := make([]float64, w*h*ch)
	for y := 0; y < h; y++ {
		row := src[y*w*ch:]
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var sum float64
				for j, kv := range g.kernel {
					sum += kv * row[xs[x+j]*ch+c]
				}
				tmp[(y*w+x)*ch+c] = sum
			}
		}
	}

	out := make([]float64, w*h*ch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var sum float64
				for j, kv := range g.kernel {
					sum += kv * tmp[(ys[y+j]*w+x)*ch+c]
				}
				out[(y*w+x)*ch+c] = sum
			}
		}
	}

	return out
}

// effectiveSigma derives sigma from the kernel size when none was given,
// using the same rule as OpenCV's getGaussianKernel.
func effectiveSigma(size int, sigma float64) float64 {
	if sigma > 0 {
		return sigma
	}
	return 0.3*((float64(size)-1)*0.5-1) + 0.8
}

// gaussianKernel returns a normalized 1-D kernel of the given odd size.
func gaussianKernel(size int, sigma float64) []float64 {
	s := effectiveSigma(size, sigma)
	r := size / 2

	k := make([]float64, size)
	var sum float64
	for i := range k {
		x := float64(i - r)
		k[i] = math.Exp(-(x * x) / (2 * s * s))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}

	return k
}

// reflectTable maps padded coordinates [-r, n+r) (shifted by r) onto [0, n).
func reflectTable(n, r int) []int {
	t := make([]int, n+2*r)
	for i := range t {
		t[i] = reflect101(i-r, n)
	}
	return t
}

// reflect101 mirrors i into [0, n) without repeating the edge sample: gfedcb|abcdefgh|gfedcba.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
