package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capturekit/server/internal/models"
)

// querier is the part of *pgxpool.Pool the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores video records in PostgreSQL.
type Repository struct {
	pool querier
}

// NewRepository creates a Postgres-backed video store.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const videoColumns = `id, folder, format, region_x, region_y, region_width, region_height, status, project, feature, scenario,
	sid, description, error, stack_trace, meta, logs, environment, created_at, finished_at, duration_seconds`

// Save upserts the record by id.
func (r *Repository) Save(ctx context.Context, v *models.Video) error {
	meta, logs, env, err := encodeJSONColumns(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	const q = `INSERT INTO videos (` + videoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			folder = EXCLUDED.folder, format = EXCLUDED.format,
			region_x = EXCLUDED.region_x, region_y = EXCLUDED.region_y,
			region_width = EXCLUDED.region_width, region_height = EXCLUDED.region_height,
			status = EXCLUDED.status, project = EXCLUDED.project, feature = EXCLUDED.feature, scenario = EXCLUDED.scenario,
			sid = EXCLUDED.sid, description = EXCLUDED.description, error = EXCLUDED.error, stack_trace = EXCLUDED.stack_trace,
			meta = EXCLUDED.meta, logs = EXCLUDED.logs, environment = EXCLUDED.environment,
			created_at = EXCLUDED.created_at, finished_at = EXCLUDED.finished_at, duration_seconds = EXCLUDED.duration_seconds`
	_, err = r.pool.Exec(ctx, q,
		v.ID, v.Folder, v.Format, v.Region.X, v.Region.Y, v.Region.Width, v.Region.Height,
		v.Status, v.Project, v.Feature, v.Scenario, v.SID, v.Description, v.Error, v.StackTrace,
		meta, logs, env, v.CreatedAt, v.FinishedAt, v.DurationSeconds)
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStoreIO, v.ID, err)
	}
	return nil
}

// FindByID returns the record or ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	v, err := scanVideo(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: find %s: %v", ErrStoreIO, id, err)
	}
	return v, nil
}

// List returns summaries, newest first.
func (r *Repository) List(ctx context.Context) ([]models.VideoSummary, error) {
	const q = `SELECT id, folder, format, status, project, feature, scenario, error, created_at, finished_at
		FROM videos ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStoreIO, err)
	}
	defer rows.Close()
	list := make([]models.VideoSummary, 0)
	for rows.Next() {
		var s models.VideoSummary
		if err := rows.Scan(&s.ID, &s.Folder, &s.Format, &s.Status, &s.Project, &s.Feature, &s.Scenario, &s.Error, &s.CreatedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStoreIO, err)
		}
		list = append(list, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStoreIO, err)
	}
	return list, nil
}

// Delete removes the row. Absent ids are ignored.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStoreIO, id, err)
	}
	return nil
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var (
		v               models.Video
		meta, logs, env []byte
	)
	err := row.Scan(&v.ID, &v.Folder, &v.Format, &v.Region.X, &v.Region.Y, &v.Region.Width, &v.Region.Height,
		&v.Status, &v.Project, &v.Feature, &v.Scenario, &v.SID, &v.Description, &v.Error, &v.StackTrace,
		&meta, &logs, &env, &v.CreatedAt, &v.FinishedAt, &v.DurationSeconds)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumns(&v, meta, logs, env); err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeJSONColumns(v *models.Video) (meta, logs, env []byte, err error) {
	m := v.Meta
	if m == nil {
		m = map[string]string{}
	}
	l := v.Logs
	if l == nil {
		l = []models.LogEntry{}
	}
	e := v.Environment
	if e == nil {
		e = map[string]string{}
	}
	if meta, err = json.Marshal(m); err != nil {
		return nil, nil, nil, fmt.Errorf("encode meta: %w", err)
	}
	if logs, err = json.Marshal(l); err != nil {
		return nil, nil, nil, fmt.Errorf("encode logs: %w", err)
	}
	if env, err = json.Marshal(e); err != nil {
		return nil, nil, nil, fmt.Errorf("encode environment: %w", err)
	}
	return meta, logs, env, nil
}

func decodeJSONColumns(v *models.Video, meta, logs, env []byte) error {
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &v.Meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &v.Logs); err != nil {
			return fmt.Errorf("decode logs: %w", err)
		}
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &v.Environment); err != nil {
			return fmt.Errorf("decode environment: %w", err)
		}
	}
	return nil
}
