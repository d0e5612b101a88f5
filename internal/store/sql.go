package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// updatedLayout is fixed-width so updated_at sorts lexically.
const updatedLayout = "2006-01-02T15:04:05.000000000Z"

// dialect holds the statements that differ between databases. Queries are
// written with "?" placeholders and rebound per dialect.
type dialect struct {
	driver      string
	placeholder func(n int) string
	create      string
	upsert      string
	insertIfNew string
}

var dialects = map[string]dialect{
	"postgres": {
		driver:      "postgres",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		create: `CREATE TABLE IF NOT EXISTS device_state (
	device_id   VARCHAR(191) NOT NULL,
	state_key   VARCHAR(191) NOT NULL,
	state_value TEXT NOT NULL,
	updated_at  VARCHAR(40) NOT NULL,
	PRIMARY KEY (device_id, state_key)
)`,
		upsert: `INSERT INTO device_state (device_id, state_key, state_value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (device_id, state_key) DO UPDATE SET state_value = EXCLUDED.state_value, updated_at = EXCLUDED.updated_at`,
		insertIfNew: `INSERT INTO device_state (device_id, state_key, state_value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (device_id, state_key) DO NOTHING`,
	},
	"mysql": {
		driver:      "mysql",
		placeholder: func(int) string { return "?" },
		create: `CREATE TABLE IF NOT EXISTS device_state (
	device_id   VARCHAR(191) NOT NULL,
	state_key   VARCHAR(191) NOT NULL,
	state_value TEXT NOT NULL,
	updated_at  VARCHAR(40) NOT NULL,
	PRIMARY KEY (device_id, state_key)
)`,
		upsert: `INSERT INTO device_state (device_id, state_key, state_value, updated_at) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE state_value = VALUES(state_value), updated_at = VALUES(updated_at)`,
		insertIfNew: `INSERT IGNORE INTO device_state (device_id, state_key, state_value, updated_at) VALUES (?, ?, ?, ?)`,
	},
	"sqlserver": {
		driver:      "sqlserver",
		placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		create: `IF OBJECT_ID(N'device_state', N'U') IS NULL
CREATE TABLE device_state (
	device_id   NVARCHAR(191) NOT NULL,
	state_key   NVARCHAR(191) NOT NULL,
	state_value NVARCHAR(MAX) NOT NULL,
	updated_at  NVARCHAR(40) NOT NULL,
	PRIMARY KEY (device_id, state_key)
)`,
		upsert: `MERGE device_state WITH (HOLDLOCK) AS t
USING (SELECT ? AS device_id, ? AS state_key, ? AS state_value, ? AS updated_at) AS s
ON t.device_id = s.device_id AND t.state_key = s.state_key
WHEN MATCHED THEN UPDATE SET state_value = s.state_value, updated_at = s.updated_at
WHEN NOT MATCHED THEN INSERT (device_id, state_key, state_value, updated_at)
VALUES (s.device_id, s.state_key, s.state_value, s.updated_at);`,
		insertIfNew: `INSERT INTO device_state (device_id, state_key, state_value, updated_at)
SELECT s.device_id, s.state_key, s.state_value, s.updated_at
FROM (SELECT ? AS device_id, ? AS state_key, ? AS state_value, ? AS updated_at) AS s
WHERE NOT EXISTS (SELECT 1 FROM device_state WITH (UPDLOCK, HOLDLOCK)
	WHERE device_id = s.device_id AND state_key = s.state_key)`,
	},
}

// rebind replaces "?" placeholders with the dialect's form.
func (d dialect) rebind(query string) string {
	if d.driver == "mysql" {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQL is a Store backed by a device_state table.
type SQL struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// OpenSQL connects to the database, verifies it and creates the
// device_state table when missing.
func OpenSQL(ctx context.Context, backend, dsn string) (*SQL, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
	if dsn == "" {
		return nil, errors.New("store: empty DSN")
	}
	if backend == "mysql" {
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s connection: %w", backend, err)
	}
	s := &SQL{db: db, d: d, now: time.Now}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing connection. The table must already exist or be
// created with Migrate.
func NewSQL(db *sql.DB, backend string) (*SQL, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
	return &SQL{db: db, d: d, now: time.Now}, nil
}

// mysqlDSN enables found-rows reporting so a compare-and-set that rewrites
// an identical value still counts as a match.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("store: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func (s *SQL) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping %s: %w", s.d.driver, err)
	}
	return s.Migrate(ctx)
}

// Migrate creates the device_state table when it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.create); err != nil {
		return fmt.Errorf("store: create device_state: %w", err)
	}
	return nil
}

func (s *SQL) stamp() string { return s.now().UTC().Format(updatedLayout) }

// Get implements Store.
func (s *SQL) Get(ctx context.Context, deviceID, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.d.rebind(`SELECT state_value FROM device_state WHERE device_id = ? AND state_key = ?`),
		deviceID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", deviceID, key, err)
	}
	v, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set implements Store.
func (s *SQL) Set(ctx context.Context, deviceID, key string, value any) error {
	if value == nil {
		_, err := s.db.ExecContext(ctx,
			s.d.rebind(`DELETE FROM device_state WHERE device_id = ? AND state_key = ?`),
			deviceID, key)
		if err != nil {
			return fmt.Errorf("store: delete %s/%s: %w", deviceID, key, err)
		}
		return nil
	}
	enc, err := encode(value)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.d.rebind(s.d.upsert), deviceID, key, enc, s.stamp()); err != nil {
		return fmt.Errorf("store: set %s/%s: %w", deviceID, key, err)
	}
	return nil
}

// CompareAndSet implements Store. The swap is a single conditional
// statement; success is judged by the affected row count.
func (s *SQL) CompareAndSet(ctx context.Context, deviceID, key string, expected, next any) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case expected == nil && next == nil:
		_, found, err := s.Get(ctx, deviceID, key)
		return !found, err

	case expected == nil:
		enc, err := encode(next)
		if err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx, s.d.rebind(s.d.insertIfNew), deviceID, key, enc, s.stamp())
		if err != nil {
			return false, fmt.Errorf("store: insert %s/%s: %w", deviceID, key, err)
		}

	case next == nil:
		want, err := encode(expected)
		if err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx,
			s.d.rebind(`DELETE FROM device_state WHERE device_id = ? AND state_key = ? AND state_value = ?`),
			deviceID, key, want)
		if err != nil {
			return false, fmt.Errorf("store: delete %s/%s: %w", deviceID, key, err)
		}

	default:
		want, err := encode(expected)
		if err != nil {
			return false, err
		}
		enc, err := encode(next)
		if err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx,
			s.d.rebind(`UPDATE device_state SET state_value = ?, updated_at = ? WHERE device_id = ? AND state_key = ? AND state_value = ?`),
			enc, s.stamp(), deviceID, key, want)
		if err != nil {
			return false, fmt.Errorf("store: update %s/%s: %w", deviceID, key, err)
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n == 1, nil
}

// Snapshot implements Store.
func (s *SQL) Snapshot(ctx context.Context, deviceID string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx,
		s.d.rebind(`SELECT state_key, state_value FROM device_state WHERE device_id = ?`), deviceID)
	if err != nil {
		return nil, fmt.Errorf("store: snapshot %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("store: scan state: %w", err)
		}
		v, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate state: %w", err)
	}
	return out, nil
}

// Devices implements Store.
func (s *SQL) Devices(ctx context.Context) ([]DeviceSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, COUNT(*), MAX(updated_at) FROM device_state GROUP BY device_id ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	defer rows.Close()

	out := []DeviceSummary{}
	for rows.Next() {
		var (
			sum     DeviceSummary
			updated string
		)
		if err := rows.Scan(&sum.DeviceID, &sum.Keys, &updated); err != nil {
			return nil, fmt.Errorf("store: scan device: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(updatedLayout, updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate devices: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQL) Close() error { return s.db.Close() }
