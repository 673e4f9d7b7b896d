package filter

import (
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
)

// Filter transforms an image.
//
// Implementations carry their validated parameters, are safe for concurrent use,
// never mutate src and return an image with the same width and height as src.
type Filter interface {
	Name() string
	Params() map[string]string
	Process(src image.Image) (image.Image, error)
}

// Factory builds a Filter from raw string parameters, validating them first.
type Factory func(params map[string]string) (Filter, error)

// Descriptor documents a registered filter.
type Descriptor struct {
	Name  string
	Usage string
}

// Registry maps filter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	usage     map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		usage:     make(map[string]string),
	}
}

// NewDefaultRegistry creates a registry holding the built-in filters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(GaussianName, "kernel_size=<odd 1..255> [sigma=<float>]", gaussianFactory)
	r.MustRegister(SharpenName, "[sigma=<float, default 1>]", sharpenFactory)
	r.MustRegister(GrayscaleName, "no parameters", grayscaleFactory)
	r.MustRegister(WatermarkName, "text=<string>", watermarkFactory)
	return r
}

// Default holds the built-in filters.
var Default = NewDefaultRegistry()

// Register adds a filter factory under name.
func (r *Registry) Register(name, usage string, factory Factory) error {
	name = normalize(name)
	if name == "" {
		return fmt.Errorf("filter name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("filter factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("filter %s is already registered", name)
	}
	r.factories[name] = factory
	r.usage[name] = usage

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name, usage string, factory Factory) {
	if err := r.Register(name, usage, factory); err != nil {
		panic(err)
	}
}

// Parse validates params for the named filter and returns the constructed Filter.
// Every failure is a validation error; no file has been touched at this point.
func (r *Registry) Parse(name string, params map[string]string) (Filter, error) {
	key := normalize(name)

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewValidationError(
			"filter",
			fmt.Sprintf("unknown filter %q (expected one of: %s)", name, strings.Join(r.Names(), ", ")),
			nil,
		)
	}

	if params == nil {
		params = map[string]string{}
	}

	return factory(params)
}

// Names returns the registered filter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Describe returns a descriptor for each registered filter, sorted by name.
func (r *Registry) Describe() []Descriptor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, Descriptor{Name: n, Usage: r.usage[n]})
	}

	return out
}

// Parse validates params against the default registry.
func Parse(name string, params map[string]string) (Filter, error) {
	return Default.Parse(name, params)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// sameChannels converts out back to grayscale when src was grayscale,
// so single-channel inputs produce single-channel outputs.
func sameChannels(src, out image.Image) image.Image {
	if _, ok := src.(*image.Gray); !ok {
		return out
	}
	if g, ok := out.(*image.Gray); ok {
		return g
	}

	b := out.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, out.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	return gray
}

func checkBounds(src image.Image) error {
	if src == nil {
		return fmt.Errorf("nil image")
	}
	if src.Bounds().Empty() {
		return fmt.Errorf("empty image bounds %v", src.Bounds())
	}
	return nil
}
