package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-batch/internal/model"
)

var ErrRunNotFound = errors.New("batch run not found")

// Repository stores the history of batch runs in the database.
type Repository struct {
	db       *dbpg.DB
	strategy retry.Strategy
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB, s retry.Strategy) *Repository {
	return &Repository{db: db, strategy: s}
}

// row is the column form of a BatchResult. Map and list fields are stored as JSONB
// and passed as text, since lib/pq sends []byte parameters as bytea.
type row struct {
	id         uuid.UUID
	directory  string
	filter     string
	params     []byte
	succeeded  []byte
	failed     []byte
	mirrored   []byte
	canceled   bool
	startedAt  sql.NullTime
	finishedAt sql.NullTime
}

func toRow(res *model.BatchResult) (row, error) {
	r := row{
		id:         res.ID,
		directory:  res.Directory,
		filter:     res.Filter,
		canceled:   res.Canceled,
		startedAt:  sql.NullTime{Time: res.StartedAt, Valid: !res.StartedAt.IsZero()},
		finishedAt: sql.NullTime{Time: res.FinishedAt, Valid: !res.FinishedAt.IsZero()},
	}

	var err error
	if r.params, err = json.Marshal(res.Params); err != nil {
		return row{}, fmt.Errorf("failed to marshal params: %w", err)
	}
	if r.succeeded, err = json.Marshal(res.Succeeded); err != nil {
		return row{}, fmt.Errorf("failed to marshal succeeded: %w", err)
	}
	if r.failed, err = json.Marshal(res.Failed); err != nil {
		return row{}, fmt.Errorf("failed to marshal failed: %w", err)
	}
	if r.mirrored, err = json.Marshal(res.Mirrored); err != nil {
		return row{}, fmt.Errorf("failed to marshal mirrored: %w", err)
	}

	return r, nil
}

func (r row) toResult() (*model.BatchResult, error) {
	res := &model.BatchResult{
		ID:         r.id,
		Directory:  r.directory,
		Filter:     r.filter,
		Canceled:   r.canceled,
		StartedAt:  r.startedAt.Time,
		FinishedAt: r.finishedAt.Time,
	}

	fields := []struct {
		name string
		data []byte
		dst  any
	}{
		{"params", r.params, &res.Params},
		{"succeeded", r.succeeded, &res.Succeeded},
		{"failed", r.failed, &res.Failed},
		{"mirrored", r.mirrored, &res.Mirrored},
	}
	for _, f := range fields {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", f.name, err)
		}
	}

	if res.Succeeded == nil {
		res.Succeeded = []string{}
	}
	if res.Failed == nil {
		res.Failed = []model.Failure{}
	}

	return res, nil
}

// SaveRun inserts a finished batch run. Saving the same run twice overwrites it.
func (r *Repository) SaveRun(ctx context.Context, res *model.BatchResult) error {
	query := `
		INSERT INTO batch_runs (id, directory, filter, params, succeeded, failed, mirrored, canceled, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			mirrored = EXCLUDED.mirrored,
			canceled = EXCLUDED.canceled,
			finished_at = EXCLUDED.finished_at
	`

	rec, err := toRow(res)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	err = retry.Do(func() error {
		_, err := r.db.ExecContext(
			ctx, query,
			rec.id, rec.directory, rec.filter,
			string(rec.params), string(rec.succeeded), string(rec.failed), string(rec.mirrored),
			rec.canceled, rec.startedAt, rec.finishedAt,
		)
		return err
	}, r.strategy)
	if err != nil {
		return fmt.Errorf("save: failed to save batch run: %w", err)
	}

	return nil
}

// GetRun retrieves a batch run by ID.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*model.BatchResult, error) {
	query := `
		SELECT directory, filter, params, succeeded, failed, mirrored, canceled, started_at, finished_at
		FROM batch_runs
		WHERE id = $1
	`

	rec := row{id: id}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.directory, &rec.filter, &rec.params, &rec.succeeded, &rec.failed, &rec.mirrored,
		&rec.canceled, &rec.startedAt, &rec.finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("get: failed to get batch run: %w", err)
	}

	res, err := rec.toResult()
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	return res, nil
}
