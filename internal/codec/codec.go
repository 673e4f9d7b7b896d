package codec

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 95

// FileCodec reads and writes images on the local filesystem.
// The output format is chosen from the file extension.
type FileCodec struct {
	jpegQuality int
}

// New creates a FileCodec. Qualities outside 1..100 fall back to DefaultJPEGQuality.
func New(jpegQuality int) *FileCodec {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &FileCodec{jpegQuality: jpegQuality}
}

// Decode opens path and decodes it into an image with non-empty bounds.
func (c *FileCodec) Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	if img.Bounds().Empty() {
		return nil, fmt.Errorf("open %s: image has no pixels", filepath.Base(path))
	}

	return img, nil
}

// Encode writes img to path in the format implied by its extension.
//
// The image is encoded into a temporary file in the same directory and renamed
// over path, so a failed or interrupted write never leaves a partial output.
func (c *FileCodec) Encode(img image.Image, path string) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("resolve format: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".image-batch-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := imaging.Encode(tmp, img, format, imaging.JPEGQuality(c.jpegQuality)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename to %s: %w", filepath.Base(path), err)
	}
	committed = true

	return nil
}
