package manifests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"sbomer/pkg/models"
)

// createdLayout keeps created_at lexically sortable.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

type Repo struct {
	DB *sql.DB
}

type ListQuery struct {
	QueryType  models.QueryType
	QueryValue string
	PageIndex  int // 0-based
	PageSize   int
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) GetByID(ctx context.Context, id string) (*models.Manifest, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, version, purl, format, created_at
		FROM manifests
		WHERE id = ?
	`, id)

	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan getByID: %w", err)
	}
	return m, nil
}

// GetBOM returns the decompressed BOM document, or nil when the manifest is unknown.
func (r *Repo) GetBOM(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := r.DB.QueryRowContext(ctx, `SELECT bom FROM manifests WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bom: %w", err)
	}
	return decompressBOM(blob)
}

func (r *Repo) Create(ctx context.Context, m *models.Manifest, bom []byte) error {
	blob, err := compressBOM(bom)
	if err != nil {
		return err
	}
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO manifests (id, name, version, purl, format, created_at, bom)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, nullable(m.Version), nullable(m.Purl), nullable(m.Format),
		m.Created.UTC().Format(createdLayout), blob)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

// Delete reports whether a row was removed.
func (r *Repo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM manifests WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete manifest: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	row := r.DB.QueryRowContext(ctx, sqlStr, args...)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.Manifest, error) {
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()

	out := make([]models.Manifest, 0, q.PageSize)
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanManifest(s scanner) (*models.Manifest, error) {
	var (
		m       models.Manifest
		version sql.NullString
		purl    sql.NullString
		format  sql.NullString
		created string
	)
	if err := s.Scan(&m.ID, &m.Name, &version, &purl, &format, &created); err != nil {
		return nil, err
	}
	m.Version = version.String
	m.Purl = purl.String
	m.Format = format.String

	t, err := time.Parse(createdLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	m.Created = t
	return &m, nil
}

// buildListSQL builds either COUNT(*) or the paged SELECT for q.
func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	baseSelect := `
		SELECT id, name, version, purl, format, created_at
		FROM manifests
	`
	if countOnly {
		baseSelect = `SELECT COUNT(*) FROM manifests`
	}

	var where []string
	var args []any

	value := strings.TrimSpace(q.QueryValue)
	if value != "" {
		switch q.QueryType {
		case models.QueryTypeID:
			where = append(where, "id = ?")
			args = append(args, value)
		case models.QueryTypeName:
			where = append(where, `LOWER(name) LIKE ? ESCAPE '\'`)
			args = append(args, containsPattern(value))
		case models.QueryTypePurl:
			where = append(where, `LOWER(purl) LIKE ? ESCAPE '\'`)
			args = append(args, containsPattern(value))
		}
	}

	sqlStr := baseSelect
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if !countOnly {
		sqlStr += " ORDER BY created_at DESC, id ASC"
		sqlStr += " LIMIT ? OFFSET ?"
		limit := q.PageSize
		if limit <= 0 || limit > MaxPageSize {
			limit = DefaultPageSize
		}
		var offset int
		switch {
		case q.PageIndex <= 0:
		case q.PageIndex > math.MaxInt/limit:
			offset = math.MaxInt
		default:
			offset = q.PageIndex * limit
		}
		args = append(args, limit, offset)
	}

	return sqlStr, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches value literally anywhere in a lowercased column.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(value)) + "%"
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
