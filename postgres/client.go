//nolint:nilnil
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docmgr/docstore/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// notExpired restricts reads to rows whose TTL has not passed.
const notExpired = "(expires_at IS NULL OR expires_at > NOW())"

var errNotConnected = errors.New("client is not connected")

var _ store.Store = (*Client)(nil)

// pool defines the interface for database operations.
// This interface is satisfied by *pgxpool.Pool and can be mocked for testing.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
	Ping(ctx context.Context) error
}

// Client is a PostgreSQL-backed implementation of [store.Store]. Items live
// in one table keyed by (pk, sk); the secondary index keys are mirrored into
// nullable columns and the full item is kept as DynamoDB JSON in attrs.
type Client struct {
	conn      pool
	opts      *options
	cancelTTL context.CancelFunc
}

func New(opts ...Option) *Client {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{opts: o}
}

func (c *Client) Connect(ctx context.Context) error {
	// Close existing connection if any to prevent leaks
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid Postgres db configuration: %w", err)
	}

	config, err := pgxpool.ParseConfig(c.opts.connectionString())
	if err != nil {
		return fmt.Errorf("failed to parse Postgres db connection string: %w", err)
	}

	if c.opts.poolMaxConnections != nil {
		config.MaxConns = *c.opts.poolMaxConnections
	}

	if c.opts.poolMinConnections != nil {
		config.MinConns = *c.opts.poolMinConnections
	}

	if c.opts.poolMinIdleConnections != nil {
		config.MinIdleConns = *c.opts.poolMinIdleConnections
	}

	if c.opts.poolMaxConnectionLifetime != nil {
		config.MaxConnLifetime = *c.opts.poolMaxConnectionLifetime
	}

	if c.opts.poolMaxConnectionIdleTime != nil {
		config.MaxConnIdleTime = *c.opts.poolMaxConnectionIdleTime
	}

	if c.opts.poolHealthCheckPeriod != nil {
		config.HealthCheckPeriod = *c.opts.poolHealthCheckPeriod
	}

	if c.opts.poolMaxConnectionLifetimeJitter != nil {
		config.MaxConnLifetimeJitter = *c.opts.poolMaxConnectionLifetimeJitter
	}

	conn, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create new Postgres connection pool: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping Postgres db: %w", err)
	}

	c.conn = conn

	return nil
}

func (c *Client) Close(_ context.Context) error {
	if c.cancelTTL != nil {
		c.cancelTTL()
		c.cancelTTL = nil
	}

	if c.conn == nil {
		return nil
	}

	c.conn.Close()

	c.conn = nil

	return nil
}

// Init creates the items table and its indexes if they do not exist, then
// verifies the column layout unless skipSchemaValidation is set. It also
// starts the background TTL cleanup goroutine unless it is disabled.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin init transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.createStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute create statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit init transaction: %w", err)
	}

	if !skipSchemaValidation {
		query := "SELECT table_name, column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = 'public' ORDER BY ordinal_position"

		rows, err := c.conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to query information schema: %w", err)
		}

		defer rows.Close()

		infoRows := map[string]*dbRow{}

		for rows.Next() {
			var table, column string
			infoRow := &dbRow{}

			if err := rows.Scan(&table, &column, &infoRow.DataType, &infoRow.IsNullable); err != nil {
				return fmt.Errorf("failed to scan row from information schema: %w", err)
			}

			infoRows[table+"."+column] = infoRow
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating over rows from information schema: %w", err)
		}

		if err := c.opts.verifyCurrentDatabaseVersion(infoRows); err != nil {
			return fmt.Errorf("failed to verify current database version: %w", err)
		}
	}

	if c.cancelTTL == nil && c.opts.ttlCleanupInterval != nil {
		ttlCtx, cancel := context.WithCancel(context.Background())
		c.cancelTTL = cancel

		//nolint:contextcheck // Intentionally using a new context: the TTL goroutine must outlive the Init call.
		go c.runTTLCleanup(ttlCtx)
	}

	return nil
}

// DropAllData drops the items table. Call [Client.Init] to recreate it.
//
// This method is intended for use in tests only. Do not call it in production.
func (c *Client) DropAllData(ctx context.Context) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin drop tables transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.dropStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute drop statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit drop tables transaction: %w", err)
	}

	return nil
}

func (c *Client) Get(ctx context.Context, key store.Key) (store.Item, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if err := validateKey(key); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT attrs FROM %s WHERE pk = $1 AND sk = $2 AND %s", c.opts.table, notExpired)

	var body []byte

	err := c.retry(ctx, "get item", func() error {
		return c.conn.QueryRow(ctx, query, key.PK, key.SK).Scan(&body)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get item %s from Postgres db: %w", key, err)
	}

	return decodeItem(body)
}

func (c *Client) Exists(ctx context.Context, key store.Key) (bool, error) {
	if c.conn == nil {
		return false, errNotConnected
	}

	if err := validateKey(key); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE pk = $1 AND sk = $2 AND %s)", c.opts.table, notExpired)

	var exists bool

	err := c.retry(ctx, "check item", func() error {
		return c.conn.QueryRow(ctx, query, key.PK, key.SK).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check item %s in Postgres db: %w", key, err)
	}

	return exists, nil
}

func (c *Client) BatchGet(ctx context.Context, keys []store.Key) ([]store.Item, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if len(keys) == 0 {
		return nil, nil
	}

	if len(keys) > store.MaxBatchGetKeys {
		return nil, fmt.Errorf("batch get accepts at most %d keys, got %d", store.MaxBatchGetKeys, len(keys))
	}

	pks, sks, err := splitKeys(keys)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT attrs FROM %s WHERE (pk, sk) IN (SELECT * FROM unnest($1::text[], $2::text[])) AND %s", c.opts.table, notExpired)

	var items []store.Item

	err = c.retry(ctx, "batch get items", func() error {
		var err error
		items, err = c.queryItems(ctx, query, pks, sks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to batch get items from Postgres db: %w", err)
	}

	return items, nil
}

func (c *Client) Put(ctx context.Context, item store.Item) error {
	if c.conn == nil {
		return errNotConnected
	}

	args, err := rowArgs(item)
	if err != nil {
		return err
	}

	err = c.retry(ctx, "put item", func() error {
		_, err := c.conn.Exec(ctx, c.upsertSQL(), args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put item %s to Postgres db: %w", item.Key(), err)
	}

	return nil
}

func (c *Client) PutBatch(ctx context.Context, items []store.Item) error {
	if c.conn == nil {
		return errNotConnected
	}

	if len(items) == 0 {
		return nil
	}

	// Use the simplified Put method if there's only one item.
	if len(items) == 1 {
		return c.Put(ctx, items[0])
	}

	// Use batch for better performance with multiple items
	batch := &pgx.Batch{}

	for _, item := range items {
		args, err := rowArgs(item)
		if err != nil {
			return err
		}

		batch.Queue(c.upsertSQL(), args...)
	}

	err := c.retry(ctx, "batch put items", func() error {
		results := c.conn.SendBatch(ctx, batch)

		defer results.Close()

		for range items {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to batch put items to Postgres db: %w", err)
	}

	return nil
}

// PutIf writes the item only if cond holds. The current row is locked with
// SELECT ... FOR UPDATE while the condition is evaluated; when no row exists
// the insert skips conflicts, so a concurrent creator makes it fail.
func (c *Client) PutIf(ctx context.Context, item store.Item, cond store.Condition) error {
	if c.conn == nil {
		return errNotConnected
	}

	args, err := rowArgs(item)
	if err != nil {
		return err
	}

	key := item.Key()

	err = c.retry(ctx, "conditionally put item", func() error {
		return c.conditional(ctx, key, cond, func(tx pgx.Tx, exists bool) error {
			if exists {
				_, err := tx.Exec(ctx, c.upsertSQL(), args...)
				return err
			}

			tag, err := tx.Exec(ctx, c.insertSQL(), args...)
			if err != nil {
				return err
			}

			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s was created concurrently", store.ErrPreconditionFailed, key)
			}

			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to conditionally put item to Postgres db: %w", err)
	}

	return nil
}

// Increment adds delta to a numeric attribute in a single upsert, creating
// the item when it does not exist.
func (c *Client) Increment(ctx context.Context, key store.Key, attr string, delta int64) (int64, error) {
	if c.conn == nil {
		return 0, errNotConnected
	}

	if err := validateKey(key); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`INSERT INTO %s AS t (pk, sk, attrs) VALUES ($1, $2, jsonb_build_object('%s', jsonb_build_object('S', $1::text), '%s', jsonb_build_object('S', $2::text), $3::text, jsonb_build_object('N', $4::bigint::text))) `+
		`ON CONFLICT (pk, sk) DO UPDATE SET attrs = t.attrs || jsonb_build_object($3::text, jsonb_build_object('N', (COALESCE((t.attrs -> $3::text ->> 'N')::bigint, 0) + $4::bigint)::text)) `+
		`RETURNING (attrs -> $3::text ->> 'N')::bigint`, c.opts.table, store.PartitionKey, store.SortKey)

	var value int64

	err := c.retry(ctx, "increment counter", func() error {
		return c.conn.QueryRow(ctx, query, key.PK, key.SK, attr, delta).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s of %s in Postgres db: %w", attr, key, err)
	}

	return value, nil
}

func (c *Client) Delete(ctx context.Context, key store.Key) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := validateKey(key); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE pk = $1 AND sk = $2", c.opts.table)

	err := c.retry(ctx, "delete item", func() error {
		_, err := c.conn.Exec(ctx, query, key.PK, key.SK)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete item %s from Postgres db: %w", key, err)
	}

	return nil
}

func (c *Client) DeleteIf(ctx context.Context, key store.Key, cond store.Condition) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := validateKey(key); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE pk = $1 AND sk = $2", c.opts.table)

	err := c.retry(ctx, "conditionally delete item", func() error {
		return c.conditional(ctx, key, cond, func(tx pgx.Tx, exists bool) error {
			if !exists {
				return nil
			}

			_, err := tx.Exec(ctx, query, key.PK, key.SK)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to conditionally delete item from Postgres db: %w", err)
	}

	return nil
}

func (c *Client) DeleteBatch(ctx context.Context, keys []store.Key) error {
	if c.conn == nil {
		return errNotConnected
	}

	if len(keys) == 0 {
		return nil
	}

	pks, sks, err := splitKeys(keys)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE (pk, sk) IN (SELECT * FROM unnest($1::text[], $2::text[]))", c.opts.table)

	err = c.retry(ctx, "batch delete items", func() error {
		_, err := c.conn.Exec(ctx, query, pks, sks)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to batch delete items from Postgres db: %w", err)
	}

	return nil
}

func (c *Client) DeleteBeginsWith(ctx context.Context, pk, skPrefix string) error {
	if c.conn == nil {
		return errNotConnected
	}

	if pk == "" {
		return fmt.Errorf("%w: partition key cannot be empty", store.ErrInvalidKey)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE pk = $1 AND starts_with(sk, $2)", c.opts.table)

	err := c.retry(ctx, "delete items by prefix", func() error {
		_, err := c.conn.Exec(ctx, query, pk, skPrefix)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete items %s %s* from Postgres db: %w", pk, skPrefix, err)
	}

	return nil
}

// Query reads one page with keyset pagination on (sort key, pk, sk), which
// matches the order of the index on those columns.
func (c *Client) Query(ctx context.Context, q store.Query) (*store.Page, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	pkCol, skCol := indexColumns(q.Index)
	_, skAttr := q.Index.KeyAttributes()

	args := []any{q.PK}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := []string{pkCol + " = $1", skCol + " IS NOT NULL", notExpired}

	switch q.SortOp {
	case store.SortEqual:
		where = append(where, fmt.Sprintf("%s = %s", skCol, arg(q.SK)))
	case store.SortBeginsWith:
		where = append(where, fmt.Sprintf("starts_with(%s, %s)", skCol, arg(q.SK)))
	case store.SortBetween:
		where = append(where, fmt.Sprintf("%s BETWEEN %s AND %s", skCol, arg(q.SK), arg(q.SKHigh)))
	case store.SortAny:
	}

	order, after := "ASC", ">"
	if q.Descending {
		order, after = "DESC", "<"
	}

	if q.StartKey != nil {
		where = append(where, fmt.Sprintf("(%s, pk, sk) %s (%s, %s, %s)", skCol, after,
			arg(q.StartKey.String(skAttr)), arg(q.StartKey.String(store.PartitionKey)), arg(q.StartKey.String(store.SortKey))))
	}

	limit := int(q.EffectiveLimit())

	query := fmt.Sprintf("SELECT attrs FROM %s WHERE %s ORDER BY %s %s, pk %s, sk %s LIMIT %s",
		c.opts.table, strings.Join(where, " AND "), skCol, order, order, order, arg(limit+1))

	var items []store.Item

	err := c.retry(ctx, "query", func() error {
		var err error
		items, err = c.queryItems(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items from Postgres db: %w", err)
	}

	page := &store.Page{Items: items}

	if len(items) > limit {
		page.Items = items[:limit]
		page.LastEvaluatedKey = lastEvaluatedKey(page.Items[limit-1], q.Index)
	}

	return page, nil
}

// conditional runs write inside a transaction after locking the current row
// and checking cond against it. Expired rows count as absent for the
// condition; exists reports whether a row is physically present.
func (c *Client) conditional(ctx context.Context, key store.Key, cond store.Condition, write func(tx pgx.Tx, exists bool) error) error {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	query := fmt.Sprintf("SELECT attrs, %s FROM %s WHERE pk = $1 AND sk = $2 FOR UPDATE", notExpired, c.opts.table)

	var (
		body   []byte
		live   bool
		exists = true
	)

	if err := tx.QueryRow(ctx, query, key.PK, key.SK).Scan(&body, &live); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		exists = false
	}

	var current store.Item

	if exists && live {
		if current, err = decodeItem(body); err != nil {
			return err
		}
	}

	ok, err := cond.Eval(current)
	if err != nil {
		return fmt.Errorf("failed to evaluate condition on %s: %w", key, err)
	}

	if !ok {
		return fmt.Errorf("%w: %s", store.ErrPreconditionFailed, key)
	}

	if err := write(tx, exists); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (c *Client) queryItems(ctx context.Context, query string, args ...any) ([]store.Item, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var items []store.Item

	for rows.Next() {
		var body []byte

		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}

		item, err := decodeItem(body)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// retry runs fn with the configured backoff while it fails with a transient
// error.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0

	return c.opts.retry.Do(ctx, func(err error) bool {
		if !isTransient(err) {
			return false
		}

		attempt++

		c.opts.logger.Debug("Retrying transient Postgres error",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		return true
	}, fn)
}

func (c *Client) upsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, attrs, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (pk, sk) DO UPDATE SET gsi1pk = EXCLUDED.gsi1pk, gsi1sk = EXCLUDED.gsi1sk, gsi2pk = EXCLUDED.gsi2pk, gsi2sk = EXCLUDED.gsi2sk, attrs = EXCLUDED.attrs, expires_at = EXCLUDED.expires_at", c.opts.table)
}

func (c *Client) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, attrs, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (pk, sk) DO NOTHING", c.opts.table)
}

func (c *Client) runTTLCleanup(ctx context.Context) {
	ticker := time.NewTicker(*c.opts.ttlCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpiredRows(ctx)
		}
	}
}

func (c *Client) deleteExpiredRows(ctx context.Context) {
	tag, err := c.conn.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < NOW()", c.opts.table))
	if err != nil {
		c.opts.logger.Warn("Failed to delete expired rows", zap.String("table", c.opts.table), zap.Error(err))
		return
	}

	if n := tag.RowsAffected(); n > 0 {
		c.opts.logger.Debug("Deleted expired rows", zap.String("table", c.opts.table), zap.Int64("count", n))
	}
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03": // cannot_connect_now
			return true
		default:
			return false
		}
	}

	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func rowArgs(item store.Item) ([]any, error) {
	key := item.Key()
	if err := validateKey(key); err != nil {
		return nil, err
	}

	body, err := store.MarshalItemJSON(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item %s: %w", key, err)
	}

	var expiresAt *time.Time

	if ttl := item.Int(store.TTLAttr); ttl > 0 {
		t := time.Unix(ttl, 0).UTC()
		expiresAt = &t
	}

	return []any{
		key.PK,
		key.SK,
		optional(item, store.GSI1PartitionKey),
		optional(item, store.GSI1SortKey),
		optional(item, store.GSI2PartitionKey),
		optional(item, store.GSI2SortKey),
		string(body),
		expiresAt,
	}, nil
}

func optional(item store.Item, attr string) *string {
	if v := item.String(attr); v != "" {
		return &v
	}

	return nil
}

func decodeItem(body []byte) (store.Item, error) {
	item, err := store.UnmarshalItemJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode item attributes: %w", err)
	}

	return item, nil
}

func splitKeys(keys []store.Key) ([]string, []string, error) {
	pks := make([]string, 0, len(keys))
	sks := make([]string, 0, len(keys))

	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return nil, nil, err
		}

		pks = append(pks, key.PK)
		sks = append(sks, key.SK)
	}

	return pks, sks, nil
}

// lastEvaluatedKey returns the table keys of item plus the keys of the
// queried index, the same shape DynamoDB returns.
func lastEvaluatedKey(item store.Item, index store.Index) store.Item {
	key := item.Key().Item()

	if index != store.IndexTable {
		pkAttr, skAttr := index.KeyAttributes()
		key[pkAttr] = item[pkAttr]
		key[skAttr] = item[skAttr]
	}

	return key
}

func validateKey(key store.Key) error {
	if key.PK == "" || key.SK == "" {
		return fmt.Errorf("%w: pk and sk cannot be empty", store.ErrInvalidKey)
	}

	return nil
}
