package batch

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-batch/internal/filter"
	"github.com/aliskhannn/image-batch/internal/model"
)

// parser turns a filter name and raw parameters into a validated filter.
type parser interface {
	Parse(name string, params map[string]string) (filter.Filter, error)
}

// runner applies a filter to a directory.
type runner interface {
	Run(ctx context.Context, dir string, f filter.Filter) (*model.BatchResult, error)
}

// mirror copies processed outputs to object storage (e.g. MinIO).
type mirror interface {
	Mirror(ctx context.Context, result *model.BatchResult) ([]string, error)
}

// history records finished batches (e.g. PostgreSQL).
type history interface {
	SaveRun(ctx context.Context, result *model.BatchResult) error
}

// publisher sends batch reports to a message broker (e.g. Kafka).
type publisher interface {
	Publish(ctx context.Context, report model.Report) error
}

// Service runs batch requests. Parsing and running are required; mirroring,
// history and report publishing are optional and never fail a finished batch.
type Service struct {
	parser    parser
	runner    runner
	mirror    mirror
	history   history
	publisher publisher
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithMirror uploads the outputs of every finished batch.
func WithMirror(m mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithHistory saves every finished batch.
func WithHistory(h history) Option {
	return func(s *Service) { s.history = h }
}

// WithPublisher publishes a report for every request, including rejected ones.
func WithPublisher(p publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a new Service.
func NewService(p parser, r runner, opts ...Option) *Service {
	s := &Service{parser: p, runner: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run validates req, runs the batch and hands the result to the optional collaborators.
//
// Validation and directory errors are returned as is, before any file is read.
// Any other outcome, including per-file failures and cancellation, is reported
// through the returned result.
func (s *Service) Run(ctx context.Context, req model.Request) (*model.BatchResult, error) {
	f, err := s.parser.Parse(req.Filter, req.Params)
	if err != nil {
		s.publish(ctx, model.Report{Request: req, Error: err.Error()})
		return nil, err
	}

	result, err := s.runner.Run(ctx, req.Directory, f)
	if err != nil {
		s.publish(ctx, model.Report{Request: req, Error: err.Error()})
		return nil, err
	}

	// The batch has finished; cancellation must not drop its bookkeeping.
	ctx = context.WithoutCancel(ctx)

	if s.mirror != nil && result.SucceededCount() > 0 {
		keys, err := s.mirror.Mirror(ctx, result)
		result.Mirrored = keys
		if err != nil {
			zlog.Logger.Err(fmt.Errorf("mirror outputs: %w", err)).
				Str("batch_id", result.ID.String()).
				Msg("failed to mirror some outputs")
		}
	}

	if s.history != nil {
		if err := s.history.SaveRun(ctx, result); err != nil {
			zlog.Logger.Err(fmt.Errorf("save run: %w", err)).
				Str("batch_id", result.ID.String()).
				Msg("failed to record batch run")
		}
	}

	s.publish(ctx, model.Report{Request: req, Result: result})

	return result, nil
}

func (s *Service) publish(ctx context.Context, report model.Report) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(context.WithoutCancel(ctx), report); err != nil {
		zlog.Logger.Err(fmt.Errorf("publish report: %w", err)).
			Str("directory", report.Request.Directory).
			Msg("failed to publish batch report")
	}
}
