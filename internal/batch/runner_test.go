package batch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imgcodec "github.com/aliskhannn/image-batch/internal/codec"
	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/filter"
	"github.com/aliskhannn/image-batch/internal/model"
)

func writeImage(t *testing.T, dir, name string, w, h int) {
	t.Helper()

	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	img.Set(w/2, h/2, color.NRGBA{A: 255})
	require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
}

func writeFile(t *testing.T, dir, name, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
}

func gaussian(t *testing.T, k int) filter.Filter {
	t.Helper()
	f, err := filter.NewGaussianBlur(k, 0)
	require.NoError(t, err)
	return f
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func base(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

// funcFilter adapts a function to filter.Filter.
type funcFilter func(image.Image) (image.Image, error)

func (funcFilter) Name() string                                  { return "func" }
func (funcFilter) Params() map[string]string                     { return map[string]string{} }
func (f funcFilter) Process(img image.Image) (image.Image, error) { return f(img) }

func identity(img image.Image) (image.Image, error) { return img, nil }

type fakeCodec struct {
	mu      sync.Mutex
	decode  func(path string) (image.Image, error)
	encode  func(img image.Image, path string) error
	decoded []string
	encoded []string
}

func (c *fakeCodec) Decode(path string) (image.Image, error) {
	c.mu.Lock()
	c.decoded = append(c.decoded, path)
	c.mu.Unlock()

	if c.decode != nil {
		return c.decode(path)
	}
	return image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (c *fakeCodec) Encode(img image.Image, path string) error {
	if c.encode != nil {
		if err := c.encode(img, path); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.encoded = append(c.encoded, path)
	c.mu.Unlock()
	return nil
}

func TestRun_MixedDirectory(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", 20, 10)
	writeImage(t, dir, "b.png", 7, 13)
	writeFile(t, dir, "notes.txt", "keep me")

	r := NewRunner(imgcodec.New(0), Options{})
	result, err := r.Run(context.Background(), dir, gaussian(t, 5))
	require.NoError(t, err)

	assert.Equal(t, 2, result.SucceededCount())
	assert.Equal(t, 0, result.FailedCount())
	assert.False(t, result.Canceled)
	assert.Equal(t, []string{"processed_a.jpg", "processed_b.png"}, base(result.Succeeded))
	assert.Equal(t, "gaussian", result.Filter)

	c := imgcodec.New(0)
	for name, size := range map[string]image.Point{
		"processed_a.jpg": image.Pt(20, 10),
		"processed_b.png": image.Pt(7, 13),
	} {
		img, err := c.Decode(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, size, img.Bounds().Size(), name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "processed_notes.txt"))
}

func TestRun_OneOutputPerEligibleFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.jpg", "3.jpeg", "4.bmp"} {
		writeImage(t, dir, name, 5, 5)
	}
	for _, name := range []string{"readme.md", "data.json", "image.gif", "noext"} {
		writeFile(t, dir, name, "x")
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	result, err := NewRunner(imgcodec.New(0), Options{}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, result.SucceededCount())

	var outputs int
	for _, name := range listDir(t, dir) {
		if strings.HasPrefix(name, OutputPrefix) {
			outputs++
		}
	}
	assert.Equal(t, 4, outputs)
}

func TestRun_CorruptFileIsIsolated(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 6, 6)
	writeFile(t, dir, "b.png", "not an image")
	writeImage(t, dir, "c.jpg", 6, 6)

	result, err := NewRunner(imgcodec.New(0), Options{}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"processed_a.png", "processed_c.jpg"}, base(result.Succeeded))
	require.Len(t, result.Failed, 1)
	assert.Equal(t, filepath.Join(dir, "b.png"), result.Failed[0].Path)
	assert.Equal(t, apperrors.ErrorTypeDecode, result.Failed[0].Kind)
	assert.NotEmpty(t, result.Failed[0].Reason)
	assert.NoFileExists(t, filepath.Join(dir, "processed_b.png"))
}

func TestRun_DirectoryErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		dir  string
	}{
		{"missing", filepath.Join(t.TempDir(), "does-not-exist")},
		{"regular file", file},
		{"empty path", ""},
	}

	r := NewRunner(&fakeCodec{}, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Run(context.Background(), tt.dir, gaussian(t, 3))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDirectory))
		})
	}
}

func TestRun_NilFilter(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 3, 3)
	c := &fakeCodec{}

	_, err := NewRunner(c, Options{}).Run(context.Background(), dir, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Empty(t, c.decoded)
}

func TestRun_EmptyDirectory(t *testing.T) {
	result, err := NewRunner(&fakeCodec{}, Options{}).Run(context.Background(), t.TempDir(), gaussian(t, 3))
	require.NoError(t, err)
	assert.Equal(t, "0 succeeded / 0 failed", result.Summary())
}

func TestRun_ExtensionCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "C.PNG", 4, 4)
	writeImage(t, dir, "d.JpEg", 4, 4)

	result, err := NewRunner(imgcodec.New(0), Options{}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"processed_C.PNG", "processed_d.JpEg"}, base(result.Succeeded))
}

func TestRun_RerunReprocessesOutputs(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 8, 8)
	r := NewRunner(imgcodec.New(0), Options{})

	first, err := r.Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, first.SucceededCount())

	second, err := r.Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"processed_a.png", "processed_processed_a.png"}, base(second.Succeeded))
	assert.FileExists(t, filepath.Join(dir, "processed_processed_a.png"))
}

func TestRun_SkipProcessed(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 8, 8)
	r := NewRunner(imgcodec.New(0), Options{SkipProcessed: true})

	_, err := r.Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)

	second, err := r.Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"processed_a.png"}, base(second.Succeeded))
	assert.NoFileExists(t, filepath.Join(dir, "processed_processed_a.png"))
}

func TestRun_WorkersPreserveOrder(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.png", "b.png", "c.jpg", "d.png", "e.bmp", "f.png", "g.jpg", "h.png", "i.png", "j.png"}
	for _, name := range names {
		writeImage(t, dir, name, 9, 9)
	}
	writeFile(t, dir, "e2.png", "garbage")

	seq, err := NewRunner(imgcodec.New(0), Options{Workers: 1, SkipProcessed: true}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)

	par, err := NewRunner(imgcodec.New(0), Options{Workers: 4, SkipProcessed: true}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)

	assert.Equal(t, seq.Succeeded, par.Succeeded)
	assert.Equal(t, seq.Failed, par.Failed)
	assert.Len(t, par.Succeeded, len(names))
	assert.Len(t, par.Failed, 1)
	assert.True(t, sort.StringsAreSorted(base(par.Succeeded)))
}

func TestRun_EncodeFailure(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeFile(t, dir, name, "x")
	}

	c := &fakeCodec{
		encode: func(_ image.Image, path string) error {
			if filepath.Base(path) == "processed_b.png" {
				return errors.New("disk full")
			}
			return nil
		},
	}

	result, err := NewRunner(c, Options{}).Run(context.Background(), dir, funcFilter(identity))
	require.NoError(t, err)

	assert.Equal(t, []string{"processed_a.png", "processed_c.png"}, base(result.Succeeded))
	require.Len(t, result.Failed, 1)
	assert.Equal(t, apperrors.ErrorTypeEncode, result.Failed[0].Kind)
	assert.Contains(t, result.Failed[0].Reason, "disk full")
}

func TestRun_FilterFailures(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"err.png", "ok.png", "panic.png", "shrink.png"} {
		writeFile(t, dir, name, "x")
	}

	var current sync.Map
	c := &fakeCodec{
		decode: func(path string) (image.Image, error) {
			img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
			current.Store(img, filepath.Base(path))
			return img, nil
		},
	}

	f := funcFilter(func(img image.Image) (image.Image, error) {
		name, _ := current.Load(img)
		switch name {
		case "err.png":
			return nil, errors.New("boom")
		case "panic.png":
			panic("kernel out of range")
		case "shrink.png":
			return image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil
		}
		return img, nil
	})

	result, err := NewRunner(c, Options{}).Run(context.Background(), dir, f)
	require.NoError(t, err)

	assert.Equal(t, []string{"processed_ok.png"}, base(result.Succeeded))
	require.Len(t, result.Failed, 3)
	for _, fail := range result.Failed {
		assert.Equal(t, apperrors.ErrorTypeProcessing, fail.Kind, fail.Path)
	}
	assert.Contains(t, result.Failed[1].Reason, "panic: kernel out of range")
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", "x")
	writeFile(t, dir, "b.png", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeCodec{}
	result, err := NewRunner(c, Options{Workers: 2}).Run(ctx, dir, funcFilter(identity))
	require.NoError(t, err)

	assert.True(t, result.Canceled)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 2)
	for _, f := range result.Failed {
		assert.Equal(t, apperrors.ErrorTypeCanceled, f.Kind)
	}
	assert.Empty(t, c.decoded)
	assert.Contains(t, result.Summary(), "(canceled)")
}

func TestRun_CanceledBetweenJobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		writeFile(t, dir, name, "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &fakeCodec{
		decode: func(path string) (image.Image, error) {
			if filepath.Base(path) == "b.png" {
				cancel()
			}
			return image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil
		},
	}

	result, err := NewRunner(c, Options{}).Run(ctx, dir, funcFilter(identity))
	require.NoError(t, err)

	// The job in flight when cancellation arrives completes.
	assert.Equal(t, []string{"processed_a.png", "processed_b.png"}, base(result.Succeeded))
	assert.Equal(t, []string{"c.png", "d.png"}, base(failurePaths(result.Failed)))
	assert.True(t, result.Canceled)
}

func failurePaths(fs []model.Failure) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Path
	}
	return out
}

func TestRun_SymlinksResolved(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", 6, 6)

	other := t.TempDir()
	writeImage(t, other, "real.png", 6, 6)
	require.NoError(t, os.Mkdir(filepath.Join(other, "album"), 0o755))

	links := map[string]string{
		"album.png":    filepath.Join(other, "album"),
		"linked.png":   filepath.Join(other, "real.png"),
		"dangling.png": filepath.Join(other, "gone.png"),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Skipf("symlinks not supported: %v", err)
		}
	}

	result, err := NewRunner(imgcodec.New(0), Options{}).Run(context.Background(), dir, gaussian(t, 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"processed_a.png", "processed_linked.png"}, base(result.Succeeded))
	assert.Empty(t, result.Failed)
}

func TestDiscover_OrderAndOutputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "c.txt"} {
		writeFile(t, dir, name, "x")
	}

	jobs, err := NewRunner(&fakeCodec{}, Options{}).Discover(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, 0, jobs[0].Index)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), jobs[0].Source)
	assert.Equal(t, filepath.Join(dir, "processed_a.jpg"), jobs[0].Output)
	assert.Equal(t, 1, jobs[1].Index)
	assert.Equal(t, filepath.Join(dir, "b.png"), jobs[1].Source)
}

func TestIsEligible(t *testing.T) {
	tests := map[string]bool{
		"a.png":    true,
		"a.JPG":    true,
		"a.jpeg":   true,
		"a.Bmp":    true,
		"a.gif":    false,
		"a.png.gz": false,
		"png":      false,
		".png":     true,
	}

	for name, want := range tests {
		assert.Equal(t, want, IsEligible(name), name)
	}
}
