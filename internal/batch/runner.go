package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/wb-go/wbf/zlog"

	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/filter"
	"github.com/aliskhannn/image-batch/internal/model"
)

// OutputPrefix is prepended to the input file name to form the output name.
const OutputPrefix = "processed_"

var eligibleExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".bmp":  {},
}

// codec decodes input files and encodes processed images.
type codec interface {
	Decode(path string) (image.Image, error)
	Encode(img image.Image, path string) error
}

// Options configures a Runner.
type Options struct {
	Workers       int  // values below 1 are treated as 1
	SkipProcessed bool // skip inputs whose name already starts with OutputPrefix
}

// Runner applies one filter to every eligible image of a directory.
type Runner struct {
	codec         codec
	workers       int
	skipProcessed bool
}

// NewRunner creates a Runner using c for file I/O.
func NewRunner(c codec, opts Options) *Runner {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	return &Runner{
		codec:         c,
		workers:       workers,
		skipProcessed: opts.SkipProcessed,
	}
}

// IsEligible reports whether name has a supported image extension (case-insensitive).
func IsEligible(name string) bool {
	_, ok := eligibleExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// OutputName derives the output file name for an input file name.
func OutputName(name string) string {
	return OutputPrefix + name
}

// Discover lists the eligible files of dir in lexical order of their names.
// It fails with a directory error if dir is missing, not a directory or unreadable.
func (r *Runner) Discover(dir string) ([]model.Job, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, apperrors.NewDirectoryError(dir, "directory path is required", nil)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewDirectoryError(dir, "directory does not exist", err)
		}
		return nil, apperrors.NewDirectoryError(dir, "cannot access directory", err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewDirectoryError(dir, "not a directory", nil)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.NewDirectoryError(dir, "cannot read directory", err)
	}

	jobs := make([]model.Job, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !IsEligible(name) {
			continue
		}

		switch {
		case e.Type().IsRegular():
		case e.Type()&fs.ModeSymlink != 0:
			// Only links resolving to a regular file are inputs; links to
			// directories and dangling links are skipped like subdirectories.
			target, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !target.Mode().IsRegular() {
				continue
			}
		default:
			continue
		}
		if r.skipProcessed && strings.HasPrefix(name, OutputPrefix) {
			continue
		}

		jobs = append(jobs, model.Job{
			Index:  len(jobs),
			Source: filepath.Join(dir, name),
			Output: filepath.Join(dir, OutputName(name)),
		})
	}

	return jobs, nil
}

// Run applies f to every eligible file in dir.
//
// Only fatal errors are returned: a nil filter (validation) or an unusable
// directory, both before any file is read. Per-file failures are recorded in
// the result. Cancellation is checked before each job starts; jobs already
// running are allowed to finish and the rest are recorded as canceled.
func (r *Runner) Run(ctx context.Context, dir string, f filter.Filter) (*model.BatchResult, error) {
	if f == nil {
		return nil, apperrors.NewValidationError("filter", "a filter is required", nil)
	}

	jobs, err := r.Discover(dir)
	if err != nil {
		return nil, err
	}

	result := model.NewBatchResult(dir, f.Name(), f.Params())

	zlog.Logger.Info().
		Str("batch_id", result.ID.String()).
		Str("dir", dir).
		Str("filter", f.Name()).
		Int("files", len(jobs)).
		Int("workers", r.workers).
		Msg("batch started")

	outcomes := make([]model.Outcome, len(jobs))

	if r.workers == 1 {
		for i, job := range jobs {
			outcomes[i] = r.next(ctx, f, job)
		}
	} else {
		p := pool.New().WithMaxGoroutines(r.workers)
		for i, job := range jobs {
			i, job := i, job
			// Each slot is written by exactly one task.
			p.Go(func() {
				outcomes[i] = r.next(ctx, f, job)
			})
		}
		p.Wait()
	}

	for _, o := range outcomes {
		result.Add(o)
		if o.Failure != nil && o.Failure.Kind == apperrors.ErrorTypeCanceled {
			result.Canceled = true
		}
	}
	result.FinishedAt = time.Now()

	zlog.Logger.Info().
		Str("batch_id", result.ID.String()).
		Int("succeeded", result.SucceededCount()).
		Int("failed", result.FailedCount()).
		Bool("canceled", result.Canceled).
		Dur("duration", result.Duration()).
		Msg("batch finished")

	return result, nil
}

// next runs job unless the batch has been canceled.
func (r *Runner) next(ctx context.Context, f filter.Filter, job model.Job) model.Outcome {
	if err := ctx.Err(); err != nil {
		return failed(job, apperrors.NewCanceledError(job.Source, err))
	}
	return r.runJob(f, job)
}

// runJob decodes, filters and encodes a single file, capturing any error or
// panic as a typed failure.
func (r *Runner) runJob(f filter.Filter, job model.Job) (out model.Outcome) {
	stage := apperrors.ErrorTypeDecode
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			out = failed(job, stageError(stage, job.Source, fmt.Errorf("panic: %v", rec)))
		}
	}()

	img, err := r.codec.Decode(job.Source)
	if err != nil {
		return failed(job, apperrors.NewDecodeError(job.Source, err))
	}

	stage = apperrors.ErrorTypeProcessing
	processed, err := f.Process(img)
	if err != nil {
		return failed(job, apperrors.NewProcessingError(job.Source, err))
	}
	if processed == nil || processed.Bounds().Size() != img.Bounds().Size() {
		return failed(job, apperrors.NewProcessingError(job.Source, fmt.Errorf("filter %s changed image dimensions", f.Name())))
	}

	stage = apperrors.ErrorTypeEncode
	if err := r.codec.Encode(processed, job.Output); err != nil {
		return failed(job, apperrors.NewEncodeError(job.Source, err))
	}

	zlog.Logger.Debug().
		Str("file", job.Source).
		Str("output", job.Output).
		Dur("took", time.Since(start)).
		Msg("file processed")

	return model.Outcome{Job: job, Output: job.Output}
}

func stageError(stage apperrors.ErrorType, path string, cause error) *apperrors.AppError {
	switch stage {
	case apperrors.ErrorTypeDecode:
		return apperrors.NewDecodeError(path, cause)
	case apperrors.ErrorTypeEncode:
		return apperrors.NewEncodeError(path, cause)
	default:
		return apperrors.NewProcessingError(path, cause)
	}
}

func failed(job model.Job, err *apperrors.AppError) model.Outcome {
	zlog.Logger.Warn().
		Err(err).
		Str("file", job.Source).
		Str("kind", string(err.Type)).
		Msg("file failed")

	return model.Outcome{
		Job: job,
		Failure: &model.Failure{
			Path:   job.Source,
			Kind:   err.Type,
			Reason: err.Reason(),
		},
	}
}
