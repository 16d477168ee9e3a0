package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/pkg/traffic"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const tripleColumns = `id, loaded_ns, method, uri, request_headers_json, request_body_kind, request_body, request_ts_ns,
    primary_status, primary_latency_ms, primary_headers_json, primary_body_kind, primary_body, primary_ts_ns,
    shadow_status, shadow_latency_ms, shadow_headers_json, shadow_body_kind, shadow_body, shadow_ts_ns`

type sqliteStore struct {
	db  *sql.DB
	cfg *config.StorageConfig
	log logger.Logger
}

func newSQLiteStore(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if log == nil {
		log = logger.Nop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", stmt, err)
		}
	}

	store := &sqliteStore{db: db, cfg: cfg, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Triple store opened", "path", absPath)
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS triples (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    loaded_ns INTEGER NOT NULL,
    method TEXT NOT NULL,
    uri TEXT NOT NULL,
    request_headers_json TEXT,
    request_body_kind INTEGER NOT NULL,
    request_body BLOB,
    request_ts_ns INTEGER,
    primary_status INTEGER NOT NULL,
    primary_latency_ms REAL NOT NULL,
    primary_headers_json TEXT,
    primary_body_kind INTEGER NOT NULL,
    primary_body BLOB,
    primary_ts_ns INTEGER,
    shadow_status INTEGER NOT NULL,
    shadow_latency_ms REAL NOT NULL,
    shadow_headers_json TEXT,
    shadow_body_kind INTEGER NOT NULL,
    shadow_body BLOB,
    shadow_ts_ns INTEGER
);
CREATE INDEX IF NOT EXISTS idx_triples_method ON triples(method, seq);
CREATE INDEX IF NOT EXISTS idx_triples_status ON triples(primary_status, shadow_status);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Record(primary *traffic.RequestResponsePair) (*StoredTriple, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	stored, err := s.insert(ctx, tx, primary, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := s.prune(ctx, tx); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *sqliteStore) RecordStreams(primary, shadow traffic.RequestResponseStream) (int, error) {
	if len(primary) != len(shadow) {
		return 0, fmt.Errorf("stream length mismatch: %d primary pairs, %d shadow pairs", len(primary), len(shadow))
	}
	for i := range primary {
		if primary[i] == nil || primary[i].Corresponding != shadow[i] {
			return 0, fmt.Errorf("pair %d: %w", i, ErrUnlinkedPair)
		}
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	loadedAt := time.Now().UTC()
	for i, pair := range primary {
		if _, err := s.insert(ctx, tx, pair, loadedAt); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("pair %d: %w", i, err)
		}
	}
	if err := s.prune(ctx, tx); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.log.Debug("Recorded triples", "count", len(primary))
	return len(primary), nil
}

func (s *sqliteStore) insert(ctx context.Context, tx *sql.Tx, primary *traffic.RequestResponsePair, loadedAt time.Time) (*StoredTriple, error) {
	if primary == nil {
		return nil, fmt.Errorf("pair is nil")
	}
	shadow := primary.Corresponding
	if shadow == nil {
		return nil, ErrUnlinkedPair
	}
	if primary.Request == nil || primary.Response == nil || shadow.Response == nil {
		return nil, fmt.Errorf("pair is incomplete")
	}

	req := primary.Request
	reqHeaders, err := encodeHeaders(req.Headers)
	if err != nil {
		return nil, err
	}
	reqKind, reqBody := encodeBody(req.Body)

	primaryCols, err := responseValues(primary.Response)
	if err != nil {
		return nil, err
	}
	shadowCols, err := responseValues(shadow.Response)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	args := []interface{}{
		id,
		loadedAt.UnixNano(),
		req.HTTPMethod,
		req.URI,
		reqHeaders,
		reqKind,
		reqBody,
		timestampValue(req.Timestamp),
	}
	args = append(args, primaryCols...)
	args = append(args, shadowCols...)

	insertSQL := fmt.Sprintf("INSERT INTO triples (%s) VALUES (?%s)", tripleColumns, strings.Repeat(", ?", len(args)-1))
	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return nil, fmt.Errorf("insert triple: %w", err)
	}

	return &StoredTriple{ID: id, LoadedAt: loadedAt, Primary: primary, Shadow: shadow}, nil
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx) error {
	if s.cfg.MaxRecords <= 0 {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM triples").Scan(&count); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if excess := count - s.cfg.MaxRecords; excess > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM triples WHERE seq IN (SELECT seq FROM triples ORDER BY seq ASC LIMIT ?)", excess); err != nil {
			return fmt.Errorf("prune max records: %w", err)
		}
		s.log.Debug("Pruned triples", "count", excess)
	}
	return nil
}

func (s *sqliteStore) List(opts ListOptions) ([]*StoredTriple, int, error) {
	ctx := context.Background()
	where, args := buildFilters(opts)

	countQuery := fmt.Sprintf("SELECT COUNT(1) FROM triples %s", where)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT " + tripleColumns + " FROM triples ")
	queryBuilder.WriteString(where)
	queryBuilder.WriteString(" ORDER BY seq ASC")

	limit := opts.Limit
	offset := opts.Offset
	var listArgs []interface{}
	listArgs = append(listArgs, args...)
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		queryBuilder.WriteString(" LIMIT ? OFFSET ?")
		listArgs = append(listArgs, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, queryBuilder.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*StoredTriple
	for rows.Next() {
		triple, err := scanStoredTriple(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, triple)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (s *sqliteStore) Iterate(opts ListOptions, fn func(*StoredTriple) bool) error {
	ctx := context.Background()
	where, args := buildFilters(opts)

	query := "SELECT " + tripleColumns + " FROM triples " + where + " ORDER BY seq ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		triple, err := scanStoredTriple(rows)
		if err != nil {
			return err
		}
		if !fn(triple) {
			break
		}
	}
	return rows.Err()
}

// Get returns nil without error when no triple has the given id.
func (s *sqliteStore) Get(id string) (*StoredTriple, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx, "SELECT "+tripleColumns+" FROM triples WHERE id = ?", id)
	triple, err := scanStoredTriple(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return triple, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// responseColumns holds the scanned columns of one response.
type responseColumns struct {
	status      int
	latency     float64
	headersJSON sql.NullString
	bodyKind    int
	body        []byte
	ts          sql.NullInt64
}

func (c *responseColumns) targets() []interface{} {
	return []interface{}{&c.status, &c.latency, &c.headersJSON, &c.bodyKind, &c.body, &c.ts}
}

func (c *responseColumns) response() (*traffic.Response, error) {
	headers, err := decodeHeaders(c.headersJSON)
	if err != nil {
		return nil, err
	}
	return &traffic.Response{
		StatusCode: c.status,
		Headers:    headers,
		Body:       decodeBody(c.bodyKind, c.body),
		Latency:    c.latency,
		Timestamp:  timestampFrom(c.ts),
	}, nil
}

func responseValues(resp *traffic.Response) ([]interface{}, error) {
	headers, err := encodeHeaders(resp.Headers)
	if err != nil {
		return nil, err
	}
	kind, body := encodeBody(resp.Body)
	return []interface{}{
		resp.StatusCode,
		resp.Latency,
		headers,
		kind,
		body,
		timestampValue(resp.Timestamp),
	}, nil
}

// scanStoredTriple rebuilds a linked primary/shadow pair sharing one request.
func scanStoredTriple(scanner interface {
	Scan(dest ...interface{}) error
}) (*StoredTriple, error) {
	var (
		id          string
		loadedNs    int64
		method      string
		uri         string
		headersJSON sql.NullString
		bodyKind    int
		body        []byte
		ts          sql.NullInt64
		primary     responseColumns
		shadow      responseColumns
	)

	dest := []interface{}{&id, &loadedNs, &method, &uri, &headersJSON, &bodyKind, &body, &ts}
	dest = append(dest, primary.targets()...)
	dest = append(dest, shadow.targets()...)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	reqHeaders, err := decodeHeaders(headersJSON)
	if err != nil {
		return nil, err
	}
	req := &traffic.Request{
		HTTPMethod: method,
		URI:        uri,
		Headers:    reqHeaders,
		Body:       decodeBody(bodyKind, body),
		Timestamp:  timestampFrom(ts),
	}

	primaryResp, err := primary.response()
	if err != nil {
		return nil, err
	}
	shadowResp, err := shadow.response()
	if err != nil {
		return nil, err
	}

	primaryPair := traffic.NewPair(req, primaryResp)
	shadowPair := traffic.NewPair(req, shadowResp)
	traffic.Link(primaryPair, shadowPair)

	return &StoredTriple{
		ID:       id,
		LoadedAt: time.Unix(0, loadedNs).UTC(),
		Primary:  primaryPair,
		Shadow:   shadowPair,
	}, nil
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func buildFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if method := strings.TrimSpace(opts.Method); method != "" {
		clauses = append(clauses, "UPPER(method) = UPPER(?)")
		args = append(args, method)
	}

	if search := strings.TrimSpace(strings.ToLower(opts.Search)); search != "" {
		like := "%" + likeEscaper.Replace(search) + "%"
		clauses = append(clauses, `(LOWER(uri) LIKE ? ESCAPE '\' OR LOWER(request_headers_json) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}

	if opts.Mismatched {
		clauses = append(clauses, "primary_status <> shadow_status")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func encodeHeaders(h traffic.Headers) (string, error) {
	if h == nil {
		h = traffic.Headers{}
	}
	buf, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(buf), nil
}

func decodeHeaders(raw sql.NullString) (traffic.Headers, error) {
	headers := traffic.Headers{}
	if !raw.Valid || raw.String == "" {
		return headers, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return headers, nil
}

func encodeBody(b traffic.Body) (int, []byte) {
	return int(b.Kind()), []byte(b.String())
}

// decodeBody restores a body; JSON bodies are decoded again from their stored text.
func decodeBody(kind int, raw []byte) traffic.Body {
	if traffic.BodyKind(kind) == traffic.BodyKindJSON {
		return loader.DecodeBody(string(raw))
	}
	return traffic.RawBody(string(raw))
}

func timestampValue(ts *time.Time) interface{} {
	if ts == nil {
		return nil
	}
	return ts.UTC().UnixNano()
}

func timestampFrom(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	ts := time.Unix(0, ns.Int64).UTC()
	return &ts
}
