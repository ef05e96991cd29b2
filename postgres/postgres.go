package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"xrplbridge/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const table = "bridge_requests"

const uniqueViolation = "23505"

var columns = []string{
	"request_id", "direction", "source_address", "destination_address", "amount", "status",
	"source_tx_hash", "destination_tx_hash", "error_message", "estimated_fee",
	"hook_status", "hook_tx_hash", "hook_message", "created_at", "updated_at", "completed_at",
}

// Store keeps bridge requests in a postgres table, every write that follows
// the insert is conditioned on status = 'pending'
type Store struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// Migrate applies embedded migrations that were not applied yet
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	if err != nil {
		return fmt.Errorf("can't ensure schema table: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		var applied bool
		err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file).Scan(&applied)
		if err != nil {
			return fmt.Errorf("can't check migration %s: %w", file, err)
		}
		if applied {
			continue
		}
		data, err := migrations.ReadFile(file)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) != "" {
			if _, err := s.Pool.Exec(ctx, string(data)); err != nil {
				return fmt.Errorf("can't apply migration %s: %w", file, err)
			}
		}
		if _, err := s.Pool.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
			return fmt.Errorf("can't mark migration %s: %w", file, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) Create(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("create")()

	if req.Status != types.StatusPending {
		return errors.New("bridge request must be created pending")
	}
	q, args, err := sq.Insert(table).
		Columns(columns...).
		Values(req.RequestID, req.Direction, req.SourceAddress, req.DestinationAddress, req.Amount, req.Status,
			nullString(req.SourceTxHash), req.DestinationTxHash, req.ErrorMessage, req.EstimatedFee,
			req.HookStatus, req.HookTxHash, req.HookMessage, req.CreatedAt, req.UpdatedAt, req.CompletedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("can't insert bridge request: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*types.BridgeRequest, error) {
	var req types.BridgeRequest
	var sourceTxHash sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&req.RequestID,
		&req.Direction,
		&req.SourceAddress,
		&req.DestinationAddress,
		&req.Amount,
		&req.Status,
		&sourceTxHash,
		&req.DestinationTxHash,
		&req.ErrorMessage,
		&req.EstimatedFee,
		&req.HookStatus,
		&req.HookTxHash,
		&req.HookMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	req.SourceTxHash = sourceTxHash.String
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	return &req, nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.BridgeRequest, error) {
	defer observeDuration("get")()

	q, args, err := sq.Select(columns...).
		From(table).
		Where(sq.Eq{"request_id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	req, err := scanRequest(s.Pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bridge request %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("can't get bridge request: %w", err)
	}
	return req, nil
}

// updatePending runs the update only while the record is pending and tells
// a missing record apart from a lost compare-and-set
func (s *Store) updatePending(ctx context.Context, id string, set map[string]interface{}) error {
	q, args, err := sq.Update(table).
		SetMap(set).
		Where(sq.Eq{"request_id": id, "status": types.StatusPending}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := s.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("bridge request %s: %w", id, types.ErrConflict)
}

func (s *Store) UpdatePending(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("update_pending")()

	if req.Status != types.StatusPending {
		return fmt.Errorf("bridge request %s: pending update with status %s", req.RequestID, req.Status)
	}
	err := s.updatePending(ctx, req.RequestID, map[string]interface{}{
		"destination_address": req.DestinationAddress,
		"estimated_fee":       req.EstimatedFee,
		"updated_at":          req.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("can't update bridge request: %w", err)
	}
	return nil
}

func (s *Store) ClaimSourceTx(ctx context.Context, req *types.BridgeRequest) (bool, error) {
	defer observeDuration("claim_source_tx")()

	if req.SourceTxHash == "" {
		return false, errors.New("empty source tx hash")
	}
	err := s.updatePending(ctx, req.RequestID, map[string]interface{}{
		"source_tx_hash": req.SourceTxHash,
		"updated_at":     req.UpdatedAt,
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("can't claim source tx: %w", err)
	}
	return true, nil
}

func (s *Store) SourceTxClaimedBy(ctx context.Context, txHash string) (string, error) {
	defer observeDuration("source_tx_claimed_by")()

	q, args, err := sq.Select("request_id").
		From(table).
		Where(sq.Expr("lower(source_tx_hash) = lower(?)", txHash)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("can't build query: %w", err)
	}
	var id string
	err = s.Pool.QueryRow(ctx, q, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("can't find source tx claim: %w", err)
	}
	return id, nil
}

func (s *Store) Finalize(ctx context.Context, req *types.BridgeRequest) error {
	defer observeDuration("finalize")()

	if !req.Status.IsTerminal() {
		return fmt.Errorf("bridge request %s: %s is not a terminal status", req.RequestID, req.Status)
	}
	err := s.updatePending(ctx, req.RequestID, map[string]interface{}{
		"status":              req.Status,
		"destination_address": req.DestinationAddress,
		"destination_tx_hash": req.DestinationTxHash,
		"error_message":       req.ErrorMessage,
		"estimated_fee":       req.EstimatedFee,
		"hook_status":         req.HookStatus,
		"hook_tx_hash":        req.HookTxHash,
		"hook_message":        req.HookMessage,
		"updated_at":          req.UpdatedAt,
		"completed_at":        req.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("can't finalize bridge request: %w", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, where sq.Sqlizer, limit int) ([]*types.BridgeRequest, error) {
	b := sq.Select(columns...).
		From(table).
		Where(where).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar)
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't list bridge requests: %w", err)
	}
	defer rows.Close()

	reqs := make([]*types.BridgeRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *Store) ListByStatus(ctx context.Context, status types.Status, limit int) ([]*types.BridgeRequest, error) {
	defer observeDuration("list_by_status")()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, status)
	}
	return s.list(ctx, sq.Eq{"status": status}, limit)
}

func (s *Store) ListBySourceAddress(ctx context.Context, address string, limit int) ([]*types.BridgeRequest, error) {
	defer observeDuration("list_by_source")()

	return s.list(ctx, sq.Expr("lower(source_address) = lower(?)", address), limit)
}

func (s *Store) CountCreatedSince(ctx context.Context, since time.Time) (int, error) {
	defer observeDuration("count_created_since")()

	var count int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM bridge_requests WHERE created_at >= $1`, since).Scan(&count)
	return count, err
}
