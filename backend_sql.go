package callcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/goforj/callcache/cachecore"
)

type sqlBackend struct {
	db         *sql.DB
	table      string
	driverName string
	prefix     string
	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	pushStmt   *sql.Stmt
	countStmt  *sql.Stmt
	rangeStmt  *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newSQLBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if cfg.SQLDriverName == "" || cfg.SQLDSN == "" {
		return nil, errors.New("sql driver requires driver name and dsn")
	}
	if err := validateSQLTableName(cfg.SQLTable); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.SQLDriverName, cfg.SQLDSN)
	if err != nil {
		return nil, err
	}
	if cfg.SQLDriverName == "sqlite" {
		// A single connection keeps in-memory databases shared and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &sqlBackend{
		db:         db,
		table:      cfg.SQLTable,
		driverName: cfg.SQLDriverName,
		prefix:     cfg.Prefix,
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlBackend) Driver() Driver { return DriverSQL }

func (s *sqlBackend) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlBackend) listTable() string {
	return s.table + "_lists"
}

func (s *sqlBackend) ensureSchema(ctx context.Context) error {
	var stmts []string
	switch s.driverName {
	case "postgres", "pgx":
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k TEXT PRIMARY KEY,
				v BYTEA NOT NULL
			);`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				k TEXT NOT NULL,
				v BYTEA NOT NULL
			);`, s.listTable()),
		}
	case "mysql":
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k VARBINARY(255) PRIMARY KEY,
				v LONGBLOB NOT NULL
			) ENGINE=InnoDB;`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				k VARBINARY(255) NOT NULL,
				v LONGBLOB NOT NULL,
				INDEX (k)
			) ENGINE=InnoDB;`, s.listTable()),
		}
	default: // sqlite
		stmts = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				k TEXT PRIMARY KEY,
				v BLOB NOT NULL
			);`, s.table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				k TEXT NOT NULL,
				v BLOB NOT NULL
			);`, s.listTable()),
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.getStmt.QueryRowContext(ctx, s.cacheKey(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cloneBytes(v), true, nil
}

func (s *sqlBackend) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.upsertStmt.ExecContext(ctx, s.cacheKey(key), value, value)
	return err
}

func (s *sqlBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	if value == nil {
		value = []byte{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.pushStmt).ExecContext(ctx, s.cacheKey(key), value); err != nil {
		return 0, err
	}
	var n int64
	if err := tx.StmtContext(ctx, s.countStmt).QueryRowContext(ctx, s.cacheKey(key)).Scan(&n); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqlBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	rows, err := s.rangeStmt.QueryContext(ctx, s.cacheKey(key))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		all = append(all, cloneBytes(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lo, hi, ok := cachecore.RangeBounds(int64(len(all)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	return all[lo:hi], nil
}

func (s *sqlBackend) Incr(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	selectSQL := fmt.Sprintf("SELECT v FROM %s WHERE k = %s", s.table, s.ph(1))
	if s.driverName == "postgres" || s.driverName == "pgx" || s.driverName == "mysql" {
		selectSQL += " FOR UPDATE"
	}
	var v []byte
	err = tx.QueryRowContext(ctx, selectSQL, s.cacheKey(key)).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	current := int64(0)
	if err == nil {
		current, err = strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("callcache: key %q does not contain a numeric value", key)
		}
	}

	next := []byte(strconv.FormatInt(current+1, 10))
	if _, err := tx.StmtContext(ctx, s.upsertStmt).ExecContext(ctx, s.cacheKey(key), next, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return current + 1, nil
}

// Flush clears both tables, or only the rows under prefix when one is configured.
func (s *sqlBackend) Flush(ctx context.Context) error {
	for _, table := range []string{s.table, s.listTable()} {
		var err error
		if s.prefix == "" {
			_, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
		} else {
			_, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k LIKE %s ESCAPE '!'", table, s.ph(1)), escapeLike(s.prefix)+":%")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlBackend) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *sqlBackend) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3 := s.ph(1), s.ph(2), s.ph(3)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v) VALUES (%s, %s) ON CONFLICT (k) DO UPDATE SET v = %s", s.table, p1, p2, p3)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v) VALUES (%s, %s) ON DUPLICATE KEY UPDATE v = %s", s.table, p1, p2, p3)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v) VALUES (%s, %s) ON CONFLICT(k) DO UPDATE SET v = %s", s.table, p1, p2, p3)
	}
}

func (s *sqlBackend) prepareStatements(ctx context.Context) error {
	var err error
	if s.getStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf("SELECT v FROM %s WHERE k = %s", s.table, s.ph(1))); err != nil {
		return err
	}
	if s.upsertStmt, err = s.db.PrepareContext(ctx, s.upsertSQL()); err != nil {
		return err
	}
	if s.pushStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (k, v) VALUES (%s, %s)", s.listTable(), s.ph(1), s.ph(2))); err != nil {
		return err
	}
	if s.countStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE k = %s", s.listTable(), s.ph(1))); err != nil {
		return err
	}
	if s.rangeStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf("SELECT v FROM %s WHERE k = %s ORDER BY id", s.listTable(), s.ph(1))); err != nil {
		return err
	}
	return nil
}

func (s *sqlBackend) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
