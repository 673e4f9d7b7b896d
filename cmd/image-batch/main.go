package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-batch/internal/batch"
	"github.com/aliskhannn/image-batch/internal/codec"
	"github.com/aliskhannn/image-batch/internal/config"
	apperrors "github.com/aliskhannn/image-batch/internal/errors"
	"github.com/aliskhannn/image-batch/internal/filter"
	"github.com/aliskhannn/image-batch/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-batch/internal/infra/kafka/producer"
	batchmsg "github.com/aliskhannn/image-batch/internal/kafka/handlers/batch"
	"github.com/aliskhannn/image-batch/internal/model"
	runrepo "github.com/aliskhannn/image-batch/internal/repository/run"
	batchsvc "github.com/aliskhannn/image-batch/internal/service/batch"
	"github.com/aliskhannn/image-batch/internal/storage/object"
)

// Exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2 // the batch ran but some files failed
)

const defaultConfigPath = "./config/config.yml"

const usageText = `Usage: image-batch <command> [flags]

Commands:
  run       apply a filter to every image in a directory
  listen    run batch requests consumed from Kafka
  filters   list available filters
  history   print a recorded batch run by ID

Run "image-batch <command> --help" for command flags.
`

func main() {
	// Context & signals: a running batch stops starting new files on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	zlog.Init()

	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return exitFatal
	}

	switch args[0] {
	case "run":
		return runBatch(ctx, args[1:], stdout, stderr)
	case "listen":
		return listen(ctx, args[1:], stderr)
	case "filters":
		return listFilters(stdout)
	case "history":
		return history(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return exitFatal
	}
}

func runBatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	dir := fs.StringP("dir", "d", "", "directory of images to process (or first argument)")
	name := fs.StringP("filter", "f", filter.GaussianName, "filter to apply, see \"image-batch filters\"")
	params := fs.StringArrayP("param", "p", nil, "filter parameter as key=value, repeatable")
	kernelSize := fs.StringP("kernel-size", "k", "", "shortcut for --param kernel_size=N")
	workers := fs.IntP("workers", "w", 0, "files processed in parallel (default from config)")
	skip := fs.Bool("skip-processed", false, "skip inputs already named processed_*")
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	if *dir == "" && fs.NArg() > 0 {
		*dir = fs.Arg(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	if fs.Changed("workers") {
		cfg.Batch.Workers = *workers
	}
	if *skip {
		cfg.Batch.SkipProcessed = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	setLogLevel(cfg.Log.Level)

	req, err := buildRequest(*dir, *name, *params, *kernelSize)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}

	svc, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	defer cleanup()

	res, err := svc.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}

	printResult(stdout, res)

	if res.FailedCount() > 0 {
		return exitPartial
	}
	return exitOK
}

func listen(ctx context.Context, args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	// A long-running listener refuses to start on a broken config.
	cfg := config.MustLoad(*cfgPath)
	if !cfg.Kafka.Enabled {
		fmt.Fprintln(stderr, "error: kafka.enabled must be true to listen for batch requests")
		return exitFatal
	}
	setLogLevel(cfg.Log.Level)

	svc, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	defer cleanup()

	// Kafka consumer for batch requests.
	c := consumer.New(&cfg.Kafka, retryStrategy(cfg), batchmsg.NewRequestHandler(svc))

	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for the batch in progress, if any.
	wg.Wait()

	if err := c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}

	return exitOK
}

// runGetter reads recorded batch runs.
type runGetter interface {
	GetRun(ctx context.Context, id uuid.UUID) (*model.BatchResult, error)
}

func history(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.StringP("config", "c", defaultConfigPath, "path to config file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: image-batch history [--config path] <batch id>")
		return exitFatal
	}

	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "error: invalid batch id %q: %v\n", fs.Arg(0), err)
		return exitFatal
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	if !cfg.Database.Enabled {
		fmt.Fprintln(stderr, "error: database.enabled must be true to read batch history")
		return exitFatal
	}
	setLogLevel(cfg.Log.Level)

	db, err := openDB(cfg.Database)
	if err != nil {
		fmt.Fprintf(stderr, "error: connect to database: %v\n", err)
		return exitFatal
	}
	defer closeDB(db)

	return showRun(ctx, runrepo.NewRepository(db, retryStrategy(cfg)), id, stdout, stderr)
}

// showRun prints the stored run as indented JSON.
func showRun(ctx context.Context, runs runGetter, id uuid.UUID, stdout, stderr io.Writer) int {
	res, err := runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, runrepo.ErrRunNotFound) {
			fmt.Fprintf(stderr, "error: batch run %s not found\n", id)
			return exitFatal
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "error: marshal batch run: %v\n", err)
		return exitFatal
	}

	fmt.Fprintln(stdout, string(data))
	return exitOK
}

func listFilters(stdout io.Writer) int {
	for _, d := range filter.Default.Describe() {
		fmt.Fprintf(stdout, "%-10s %s\n", d.Name, d.Usage)
	}
	return exitOK
}

// buildRequest assembles a model.Request from command-line values.
func buildRequest(dir, name string, rawParams []string, kernelSize string) (model.Request, error) {
	params, err := parseParams(rawParams)
	if err != nil {
		return model.Request{}, err
	}

	if kernelSize != "" {
		if v, ok := params[filter.ParamKernelSize]; ok && v != kernelSize {
			return model.Request{}, apperrors.NewValidationError(filter.ParamKernelSize,
				"set to different values by --kernel-size and --param", nil)
		}
		params[filter.ParamKernelSize] = kernelSize
	}

	return model.Request{Directory: dir, Filter: name, Params: params}, nil
}

// parseParams turns "key=value" pairs into a map. Values may contain '='.
func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))

	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, apperrors.NewValidationError("param",
				fmt.Sprintf("must be in key=value form (got %q)", kv), nil)
		}
		params[key] = value
	}

	return params, nil
}

func printResult(w io.Writer, res *model.BatchResult) {
	fmt.Fprintln(w, res.Summary())
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  %s: %s\n", filepath.Base(f.Path), f.Reason)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		zlog.Logger.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func retryStrategy(cfg *config.Config) retry.Strategy {
	return retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}
}

// buildService wires the batch service with the collaborators enabled in cfg.
// The returned cleanup func releases them.
func buildService(ctx context.Context, cfg *config.Config) (*batchsvc.Service, func(), error) {
	strategy := retryStrategy(cfg)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	r := batch.NewRunner(codec.New(cfg.Codec.JPEGQuality), batch.Options{
		Workers:       cfg.Batch.Workers,
		SkipProcessed: cfg.Batch.SkipProcessed,
	})

	var opts []batchsvc.Option

	// Mirror processed outputs to MinIO.
	if cfg.Storage.Enabled {
		storage, err := object.NewStorage(ctx, cfg.Storage, strategy)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to storage: %w", err)
		}
		opts = append(opts, batchsvc.WithMirror(storage))
	}

	// Record batch runs in PostgreSQL (master and slaves).
	if cfg.Database.Enabled {
		db, err := openDB(cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		closers = append(closers, func() { closeDB(db) })
		opts = append(opts, batchsvc.WithHistory(runrepo.NewRepository(db, strategy)))
	}

	// Publish batch reports to Kafka.
	if cfg.Kafka.Enabled {
		p := producer.New(&cfg.Kafka, strategy)
		closers = append(closers, func() {
			if err := p.Client.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
			}
		})
		opts = append(opts, batchsvc.WithPublisher(p))
	}

	return batchsvc.NewService(filter.Default, r, opts...), cleanup, nil
}

func openDB(cfg config.Database) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	return dbpg.New(cfg.Master.DSN(), slaveDSNs, opts)
}

func closeDB(db *dbpg.DB) {
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
		}
	}
}
