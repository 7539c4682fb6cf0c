package manifests

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbomer/pkg/database"
	"sbomer/pkg/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seed inserts n manifests named "<prefix>-<i>", newest last.
func seed(t *testing.T, repo *Repo, prefix string, n int) []models.Manifest {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Manifest, 0, n)
	for i := 0; i < n; i++ {
		m := models.Manifest{
			ID:      fmt.Sprintf("%s-%02d", prefix, i),
			Name:    fmt.Sprintf("%s-%d", prefix, i),
			Version: "1.0",
			Purl:    fmt.Sprintf("pkg:maven/org.example/%s@1.0", prefix),
			Format:  "cyclonedx",
			Created: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), &m, []byte(`{"bomFormat":"CycloneDX"}`)))
		out = append(out, m)
	}
	return out
}

// TestRepo_CreateAndGet tests round-tripping a manifest and its BOM
func TestRepo_CreateAndGet(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()

	m := &models.Manifest{ID: "88CA2291D4014C6", Name: "log4j-core"}
	bom := []byte(`{"bomFormat":"CycloneDX","specVersion":"1.6","components":[]}`)
	require.NoError(t, repo.Create(ctx, m, bom))
	assert.False(t, m.Created.IsZero())

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "log4j-core", got.Name)
	assert.Empty(t, got.Version)
	assert.True(t, m.Created.Equal(got.Created))

	gotBOM, err := repo.GetBOM(ctx, m.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(bom), string(gotBOM))
}

// TestRepo_GetMissing tests that unknown ids yield nil without error
func TestRepo_GetMissing(t *testing.T) {
	repo := NewRepo(newTestDB(t))

	m, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, m)

	bom, err := repo.GetBOM(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, bom)
}

// TestRepo_ListPaging tests 0-based page windows and count
func TestRepo_ListPaging(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()
	seed(t, repo, "app", 5)

	total, err := repo.Count(ctx, ListQuery{PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	first, err := repo.List(ctx, ListQuery{PageIndex: 0, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "app-04", first[0].ID, "newest first")
	assert.Equal(t, "app-03", first[1].ID)

	last, err := repo.List(ctx, ListQuery{PageIndex: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "app-00", last[0].ID)

	beyond, err := repo.List(ctx, ListQuery{PageIndex: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

// TestRepo_ListFilters tests each query type
func TestRepo_ListFilters(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()
	seed(t, repo, "log4j", 3)
	seed(t, repo, "netty", 2)

	tests := []struct {
		name  string
		query ListQuery
		want  int
	}{
		{name: "no filter", query: ListQuery{PageSize: 50}, want: 5},
		{name: "name substring", query: ListQuery{QueryType: models.QueryTypeName, QueryValue: "LOG4J", PageSize: 50}, want: 3},
		{name: "id exact", query: ListQuery{QueryType: models.QueryTypeID, QueryValue: "netty-01", PageSize: 50}, want: 1},
		{name: "id partial does not match", query: ListQuery{QueryType: models.QueryTypeID, QueryValue: "netty", PageSize: 50}, want: 0},
		{name: "purl substring", query: ListQuery{QueryType: models.QueryTypePurl, QueryValue: "org.example/netty", PageSize: 50}, want: 2},
		{name: "blank value ignored", query: ListQuery{QueryType: models.QueryTypeName, QueryValue: "  ", PageSize: 50}, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := repo.Count(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)

			items, err := repo.List(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

// TestRepo_ListLiteralWildcards tests that % and _ in a search value match literally
func TestRepo_ListLiteralWildcards(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"log_4j", "log-4j", "100%-pure", "1000-pure", `back\slash`} {
		m := models.Manifest{
			ID:      fmt.Sprintf("w-%d", i),
			Name:    name,
			Purl:    "pkg:generic/" + name,
			Created: created.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, &m, []byte(`{}`)))
	}

	tests := []struct {
		qt    models.QueryType
		value string
		want  []string
	}{
		{qt: models.QueryTypeName, value: "log_4j", want: []string{"w-0"}},
		{qt: models.QueryTypeName, value: "100%", want: []string{"w-2"}},
		{qt: models.QueryTypeName, value: `k\s`, want: []string{"w-4"}},
		{qt: models.QueryTypePurl, value: "generic/log_", want: []string{"w-0"}},
		{qt: models.QueryTypeName, value: "4j", want: []string{"w-1", "w-0"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.qt)+" "+tt.value, func(t *testing.T) {
			q := ListQuery{QueryType: tt.qt, QueryValue: tt.value, PageSize: 50}
			items, err := repo.List(ctx, q)
			require.NoError(t, err)
			ids := make([]string, 0, len(items))
			for _, m := range items {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)

			total, err := repo.Count(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)
		})
	}
}

// TestRepo_Delete tests deletion reporting
func TestRepo_Delete(t *testing.T) {
	repo := NewRepo(newTestDB(t))
	ctx := context.Background()
	seed(t, repo, "app", 1)

	ok, err := repo.Delete(ctx, "app-00")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, "app-00")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestBuildListSQL tests limit clamping
func TestBuildListSQL(t *testing.T) {
	_, args := buildListSQL(ListQuery{PageIndex: 3, PageSize: 1000}, false)
	require.Len(t, args, 2)
	assert.Equal(t, DefaultPageSize, args[0])
	assert.Equal(t, 3*DefaultPageSize, args[1])

	sqlStr, args := buildListSQL(ListQuery{QueryType: models.QueryTypeName, QueryValue: "x"}, true)
	assert.Contains(t, sqlStr, "COUNT(*)")
	assert.Equal(t, []any{"%x%"}, args)
}

// TestBuildListSQL_OffsetOverflow tests that huge page indexes cannot wrap around
func TestBuildListSQL_OffsetOverflow(t *testing.T) {
	_, args := buildListSQL(ListQuery{PageIndex: math.MaxInt/10 + 1, PageSize: 10}, false)
	require.Len(t, args, 2)
	assert.Equal(t, math.MaxInt, args[1])

	_, args = buildListSQL(ListQuery{PageIndex: -4, PageSize: 10}, false)
	assert.Equal(t, 0, args[1])
}

// TestCodec tests zstd round trip
func TestCodec(t *testing.T) {
	raw := []byte(`{"components":[{"name":"a"},{"name":"a"},{"name":"a"}]}`)
	blob, err := compressBOM(raw)
	require.NoError(t, err)

	out, err := decompressBOM(blob)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	_, err = decompressBOM([]byte("not zstd"))
	assert.Error(t, err)
}
