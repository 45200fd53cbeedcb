package videos

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/server/internal/models"
)

// memRow scans stored column values back into the destinations, like a pgx row.
type memRow struct {
	values []any
	err    error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

// memDB keeps the arguments of the last upsert per id and answers single-row selects from them.
type memDB struct {
	rows    map[string][]any
	execErr error
	queries []string
}

func newMemDB() *memDB { return &memDB{rows: make(map[string][]any)} }

func (m *memDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.queries = append(m.queries, sql)
	if m.execErr != nil {
		return pgconn.CommandTag{}, m.execErr
	}
	id := args[0].(string)
	if strings.HasPrefix(sql, "DELETE") {
		delete(m.rows, id)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	m.rows[id] = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *memDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("connection refused")
}

func (m *memDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.queries = append(m.queries, sql)
	values, ok := m.rows[args[0].(string)]
	if !ok {
		return memRow{err: pgx.ErrNoRows}
	}
	return memRow{values: values}
}

func TestRepository_SaveFindRoundTrip(t *testing.T) {
	db := newMemDB()
	repo := &Repository{pool: db}
	ctx := context.Background()

	sid := int64(42)
	v := newVideo("v1", "acme/login")
	v.SID = &sid
	v.StackTrace = "at step 3"
	v.Environment = map[string]string{"os": "linux", "display": ":0"}

	require.NoError(t, repo.Save(ctx, v))
	assert.Contains(t, db.queries[0], "ON CONFLICT (id) DO UPDATE")

	got, err := repo.FindByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestRepository_EmptyJSONColumns(t *testing.T) {
	db := newMemDB()
	repo := &Repository{pool: db}
	ctx := context.Background()

	v := newVideo("v2", "acme")
	v.Meta = nil
	v.Logs = nil
	require.NoError(t, repo.Save(ctx, v))

	stored := db.rows["v2"]
	assert.JSONEq(t, `{}`, string(stored[15].([]byte)))
	assert.JSONEq(t, `[]`, string(stored[16].([]byte)))
	assert.JSONEq(t, `{}`, string(stored[17].([]byte)))

	got, err := repo.FindByID(ctx, "v2")
	require.NoError(t, err)
	assert.Empty(t, got.Meta)
	assert.Empty(t, got.Logs)
	assert.Empty(t, got.Environment)
}

func TestDecodeJSONColumns(t *testing.T) {
	var v models.Video
	require.NoError(t, decodeJSONColumns(&v, nil, nil, nil))
	assert.Nil(t, v.Meta)

	require.NoError(t, decodeJSONColumns(&v, []byte(`{"k":"v"}`), []byte(`[{"message":"m"}]`), []byte(`{"os":"mac"}`)))
	assert.Equal(t, map[string]string{"k": "v"}, v.Meta)
	require.Len(t, v.Logs, 1)
	assert.Equal(t, "m", v.Logs[0].Message)
	assert.Equal(t, "mac", v.Environment["os"])

	assert.ErrorContains(t, decodeJSONColumns(&v, nil, []byte(`{"not":"a list"}`), nil), "decode logs")
}

func TestRepository_Errors(t *testing.T) {
	db := newMemDB()
	repo := &Repository{pool: db}
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	db.rows["broken"] = nil
	_, err = repo.FindByID(ctx, "broken")
	assert.ErrorIs(t, err, ErrStoreIO)

	_, err = repo.List(ctx)
	assert.ErrorIs(t, err, ErrStoreIO)

	db.execErr = errors.New("disk full")
	assert.ErrorIs(t, repo.Save(ctx, newVideo("v3", "acme")), ErrStoreIO)
	assert.ErrorIs(t, repo.Delete(ctx, "v3"), ErrStoreIO)
}

func TestRepository_Delete(t *testing.T) {
	db := newMemDB()
	repo := &Repository{pool: db}
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newVideo("v4", "acme")))
	require.NoError(t, repo.Delete(ctx, "v4"))
	require.NoError(t, repo.Delete(ctx, "v4"))

	_, err := repo.FindByID(ctx, "v4")
	assert.ErrorIs(t, err, ErrNotFound)
}
