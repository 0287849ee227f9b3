package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the mapping store. Mappings are kept in four lookup tables, one per
// index, each keyed by the lookup key of that index.
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

const (
	mappingColumns = `lookup_key, kind, uri, local_host, local_id, remote_host, remote_id, resolved_id, author_username, boosted_json, followed_since, updated_at`

	sqlUpsertMapping = `INSERT INTO %s(` + mappingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lookup_key) DO UPDATE SET
			kind = COALESCE(NULLIF(excluded.kind, ''), kind),
			uri = COALESCE(NULLIF(excluded.uri, ''), uri),
			local_host = COALESCE(NULLIF(excluded.local_host, ''), local_host),
			local_id = COALESCE(NULLIF(excluded.local_id, ''), local_id),
			remote_host = COALESCE(NULLIF(excluded.remote_host, ''), remote_host),
			remote_id = COALESCE(NULLIF(excluded.remote_id, ''), remote_id),
			resolved_id = COALESCE(NULLIF(excluded.resolved_id, ''), resolved_id),
			author_username = COALESCE(NULLIF(excluded.author_username, ''), author_username),
			boosted_json = COALESCE(NULLIF(excluded.boosted_json, ''), boosted_json),
			followed_since = COALESCE(excluded.followed_since, followed_since),
			updated_at = excluded.updated_at`
	sqlInsertMappingIfAbsent = `INSERT INTO %s(` + mappingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lookup_key) DO NOTHING`
	sqlSelectMapping = `SELECT ` + mappingColumns + ` FROM %s WHERE lookup_key = ?`
	sqlCountMappings = `SELECT COUNT(*) FROM %s`

	sqlUpsertInstance = `INSERT INTO instances(host, record_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET record_json = excluded.record_json, updated_at = excluded.updated_at`
	sqlSelectInstance = `SELECT record_json FROM instances WHERE host = ?`

	sqlUpsertContext = `INSERT INTO remote_contexts(lookup_key, tree_json, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(lookup_key) DO UPDATE SET tree_json = excluded.tree_json, fetched_at = excluded.fetched_at`
	sqlSelectContext = `SELECT tree_json, fetched_at FROM remote_contexts WHERE lookup_key = ?`
	sqlPruneContexts = `DELETE FROM remote_contexts WHERE fetched_at < ?`

	sqlUpsertMeta = `INSERT INTO meta(name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	sqlSelectMeta = `SELECT value FROM meta WHERE name = ?`
)

var mappingTables = map[domain.Index]string{
	domain.LocalStatusIndex:   "local_status_mappings",
	domain.RemoteStatusIndex:  "remote_status_mappings",
	domain.LocalAccountIndex:  "local_account_mappings",
	domain.RemoteAccountIndex: "remote_account_mappings",
}

// Open opens the sqlite database at path and runs the migrations.
// ":memory:" gives a private in-memory store.
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("db")

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if path == ":memory:" {
		// every connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			logger.Warn("failed to enable WAL mode", "err", err)
		} else {
			logger.Debug("database journal mode", "mode", journalMode)
		}
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")

	db := &DB{db: sqlDB, logger: logger}
	if err := db.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) ReadStatusByLocalKey(ctx context.Context, key string) (*domain.StatusMapping, error) {
	return db.readStatus(ctx, domain.LocalStatusIndex, key)
}

func (db *DB) ReadStatusByRemoteKey(ctx context.Context, key string) (*domain.StatusMapping, error) {
	return db.readStatus(ctx, domain.RemoteStatusIndex, key)
}

func (db *DB) ReadAccountByLocalKey(ctx context.Context, key string) (*domain.AccountMapping, error) {
	return db.readAccount(ctx, domain.LocalAccountIndex, key)
}

func (db *DB) ReadAccountByRemoteKey(ctx context.Context, key string) (*domain.AccountMapping, error) {
	return db.readAccount(ctx, domain.RemoteAccountIndex, key)
}

// UpsertStatus writes m under every key it has. Empty fields of m keep
// whatever is already stored.
func (db *DB) UpsertStatus(ctx context.Context, m domain.StatusMapping) error {
	var batch domain.MappingBatch
	if m.IsLocal() {
		batch.PutStatus(domain.LocalStatusIndex, m)
	}
	if m.IsRemote() {
		batch.PutStatus(domain.RemoteStatusIndex, m)
	}
	return db.ApplyBatch(ctx, batch)
}

func (db *DB) UpsertAccount(ctx context.Context, m domain.AccountMapping) error {
	var batch domain.MappingBatch
	if m.IsLocal() {
		batch.PutAccount(domain.LocalAccountIndex, m)
	}
	if m.IsRemote() {
		batch.PutAccount(domain.RemoteAccountIndex, m)
	}
	return db.ApplyBatch(ctx, batch)
}

// ApplyBatch writes all entries in one transaction, so the four lookup
// tables never disagree about a mapping.
func (db *DB) ApplyBatch(ctx context.Context, batch domain.MappingBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	now := time.Now()
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, entry := range batch.Entries {
			key := entry.Key()
			if key == "" {
				return fmt.Errorf("batch entry for %s has no key", entry.Index)
			}
			stmt := sqlUpsertMapping
			if entry.IfAbsent {
				stmt = sqlInsertMappingIfAbsent
			}
			args, err := mappingArgs(entry, key, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(stmt, mappingTables[entry.Index]), args...); err != nil {
				return fmt.Errorf("writing %s %s: %w", entry.Index, key, err)
			}
		}
		return nil
	})
}

// ClearMetadata drops every mapping, instance record and cached context.
// It is the only way anything is ever deleted from the mapping tables.
func (db *DB) ClearMetadata(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"local_status_mappings", "remote_status_mappings",
			"local_account_mappings", "remote_account_mappings",
			"instances", "remote_contexts",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}

// CountMappings returns the row count of each lookup table
func (db *DB) CountMappings(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(mappingTables))
	for index, table := range mappingTables {
		var n int
		if err := db.db.QueryRowContext(ctx, fmt.Sprintf(sqlCountMappings, table)).Scan(&n); err != nil {
			return nil, err
		}
		counts[index.String()] = n
	}
	return counts, nil
}

func (db *DB) ReadInstance(ctx context.Context, host string) (*domain.InstanceRecord, error) {
	var raw string
	err := db.db.QueryRowContext(ctx, sqlSelectInstance, host).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.InstanceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("instance record for %s: %w", host, err)
	}
	return &rec, nil
}

func (db *DB) WriteInstance(ctx context.Context, rec domain.InstanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertInstance, rec.Host, string(raw), time.Now().UnixMilli())
		return err
	})
}

// ReadContext returns the cached origin context for key, or nil when there
// is none younger than maxAge
func (db *DB) ReadContext(ctx context.Context, key string, maxAge time.Duration) (*domain.ReplyTree, error) {
	var raw string
	var fetchedAt int64
	err := db.db.QueryRowContext(ctx, sqlSelectContext, key).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Since(time.UnixMilli(fetchedAt)) > maxAge {
		return nil, nil
	}
	var tree domain.ReplyTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("cached context %s: %w", key, err)
	}
	return &tree, nil
}

func (db *DB) WriteContext(ctx context.Context, key string, tree domain.ReplyTree) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertContext, key, string(raw), time.Now().UnixMilli())
		return err
	})
}

// PruneContexts deletes cached contexts fetched before olderThan
func (db *DB) PruneContexts(ctx context.Context, olderThan time.Time) (int64, error) {
	var removed int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlPruneContexts, olderThan.UnixMilli())
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// ReadMeta returns "" for names that were never written
func (db *DB) ReadMeta(ctx context.Context, name string) (string, error) {
	var value string
	err := db.db.QueryRowContext(ctx, sqlSelectMeta, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (db *DB) WriteMeta(ctx context.Context, name, value string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertMeta, name, value)
		return err
	})
}

func (db *DB) readStatus(ctx context.Context, index domain.Index, key string) (*domain.StatusMapping, error) {
	row := db.db.QueryRowContext(ctx, fmt.Sprintf(sqlSelectMapping, mappingTables[index]), key)
	var m domain.StatusMapping
	boosted, _, err := scanMapping(row, &m.Mapping, &m.AuthorUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if boosted != "" {
		m.Boosted = &domain.Mapping{}
		if err := json.Unmarshal([]byte(boosted), m.Boosted); err != nil {
			db.logger.Warn("dropping unreadable boosted mapping", "key", key, "err", err)
			m.Boosted = nil
		}
	}
	return &m, nil
}

func (db *DB) readAccount(ctx context.Context, index domain.Index, key string) (*domain.AccountMapping, error) {
	row := db.db.QueryRowContext(ctx, fmt.Sprintf(sqlSelectMapping, mappingTables[index]), key)
	var m domain.AccountMapping
	var author string
	_, followed, err := scanMapping(row, &m.Mapping, &author)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if followed.Valid {
		m.FollowedSince = domain.TimePtr(time.UnixMilli(followed.Int64))
	}
	return &m, nil
}

func scanMapping(row *sql.Row, m *domain.Mapping, author *string) (string, sql.NullInt64, error) {
	var key, kind, boosted string
	var followed sql.NullInt64
	var updatedAt int64
	err := row.Scan(&key, &kind, &m.URI, &m.LocalHost, &m.LocalID, &m.RemoteHost, &m.RemoteID,
		&m.ResolvedID, author, &boosted, &followed, &updatedAt)
	if err != nil {
		return "", followed, err
	}
	m.Kind = domain.Kind(kind)
	m.UpdatedAt = time.UnixMilli(updatedAt)
	return boosted, followed, nil
}

func mappingArgs(entry domain.BatchEntry, key string, now time.Time) ([]any, error) {
	var data domain.MappingData
	var author, boosted string
	var followed sql.NullInt64

	switch {
	case entry.Status != nil:
		data = entry.Status.MappingData
		data.Kind = domain.KindStatus
		author = entry.Status.AuthorUsername
		if entry.Status.Boosted != nil {
			raw, err := json.Marshal(entry.Status.Boosted)
			if err != nil {
				return nil, err
			}
			boosted = string(raw)
		}
	case entry.Account != nil:
		data = entry.Account.MappingData
		data.Kind = domain.KindAccount
		if entry.Account.FollowedSince != nil {
			followed = sql.NullInt64{Int64: entry.Account.FollowedSince.UnixMilli(), Valid: true}
		}
	default:
		return nil, fmt.Errorf("batch entry for %s carries no mapping", entry.Index)
	}

	return []any{key, string(data.Kind), data.URI, data.LocalHost, data.LocalID, data.RemoteHost,
		data.RemoteID, data.ResolvedID, author, boosted, followed, now.UnixMilli()}, nil
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("error starting transaction", "err", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			var serr *sqlite.Error
			if errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			db.logger.Error("error in transaction", "err", err)
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			db.logger.Error("error committing transaction", "err", err)
			return err
		}
		break
	}
	return nil
}
