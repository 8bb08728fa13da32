package querylog

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxSQLLength bounds the SQL text kept with each record.
const MaxSQLLength = 500

const createTable = `
	CREATE TABLE IF NOT EXISTS query_log (
		user_id     String,
		question    String,
		answer      String,
		intent      LowCardinality(String),
		source      LowCardinality(String),
		sql         String,
		row_count   UInt32,
		retry_count UInt8,
		created_at  DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (user_id, created_at)
`

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *logrus.Logger
}

type ClickHouseStore struct {
	conn   driver.Conn
	logger *logrus.Logger
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	if cfg.Database == "" {
		cfg.Database = "nlq"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create query_log table: %w", err)
	}

	cfg.Logger.WithField("database", cfg.Database).Info("connected to ClickHouse")
	return &ClickHouseStore{conn: conn, logger: cfg.Logger}, nil
}

func (c *ClickHouseStore) LogQuery(ctx context.Context, rec *models.QueryLog) error {
	query := `
		INSERT INTO query_log (
			user_id, question, answer, intent, source,
			sql, row_count, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := c.conn.Exec(ctx, query,
		rec.UserID,
		rec.Question,
		rec.Answer,
		rec.Intent,
		rec.Source,
		TruncateSQL(rec.SQL),
		uint32(rec.RowCount),
		uint8(rec.RetryCount),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}

// Recent returns a user's latest records, newest first.
func (c *ClickHouseStore) Recent(ctx context.Context, userID string, limit int) ([]models.QueryLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := c.conn.Query(ctx, `
		SELECT user_id, question, answer, intent, source, sql, row_count, retry_count, created_at
		FROM query_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.QueryLog
	for rows.Next() {
		var (
			rec        models.QueryLog
			rowCount   uint32
			retryCount uint8
		)
		if err := rows.Scan(&rec.UserID, &rec.Question, &rec.Answer, &rec.Intent, &rec.Source,
			&rec.SQL, &rowCount, &retryCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.RowCount = int(rowCount)
		rec.RetryCount = int(retryCount)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}

// TruncateSQL cuts SQL to MaxSQLLength runes.
func TruncateSQL(sql string) string {
	r := []rune(sql)
	if len(r) <= MaxSQLLength {
		return sql
	}
	return string(r[:MaxSQLLength])
}
