package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store over database/sql. Outside a
// transaction it queries the pool directly; inside InTx every call
// runs on the same *sql.Tx.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

// NewPostgresStore wraps an open pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// InTx runs fn against a store bound to one transaction. A nested call
// reuses the surrounding transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &PostgresStore{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const userColumns = `id, username, email, password_hash, balance, xp, level, rank, total_trades, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Balance, u.XP, u.Level, u.Rank, u.TotalTrades, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Balance,
		&u.XP, &u.Level, &u.Rank, &u.TotalTrades, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET username=$2, balance=$3, xp=$4, level=$5, rank=$6, total_trades=$7, updated_at=$8 WHERE id=$1`,
		u.ID, u.Username, u.Balance, u.XP, u.Level, u.Rank, u.TotalTrades, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertQuestProgress(ctx context.Context, userID uuid.UUID, p models.QuestProgress) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO quest_progress (user_id, quest_id, progress, completed, claimed, completed_at, claimed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, quest_id) DO UPDATE SET
		   progress = EXCLUDED.progress,
		   completed = EXCLUDED.completed,
		   claimed = EXCLUDED.claimed,
		   completed_at = EXCLUDED.completed_at,
		   claimed_at = EXCLUDED.claimed_at`,
		userID, p.QuestID, p.Progress, p.Completed, p.Claimed, p.CompletedAt, p.ClaimedAt)
	if err != nil {
		return fmt.Errorf("upsert quest progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQuestProgress(ctx context.Context, userID uuid.UUID) ([]models.QuestProgress, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT quest_id, progress, completed, claimed, completed_at, claimed_at
		 FROM quest_progress WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list quest progress: %w", err)
	}
	defer rows.Close()

	var out []models.QuestProgress
	for rows.Next() {
		var p models.QuestProgress
		if err := rows.Scan(&p.QuestID, &p.Progress, &p.Completed, &p.Claimed, &p.CompletedAt, &p.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan quest progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) (*models.Holding, error) {
	var h models.Holding
	err := s.q.QueryRowContext(ctx,
		`SELECT symbol, amount, average_buy_price, total_invested
		 FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol).
		Scan(&h.Symbol, &h.Amount, &h.AverageBuyPrice, &h.TotalInvested)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get holding: %w", err)
	}
	return &h, nil
}

func (s *PostgresStore) UpsertHolding(ctx context.Context, userID uuid.UUID, h models.Holding) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO holdings (user_id, symbol, amount, average_buy_price, total_invested)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		   amount = EXCLUDED.amount,
		   average_buy_price = EXCLUDED.average_buy_price,
		   total_invested = EXCLUDED.total_invested`,
		userID, h.Symbol, h.Amount, h.AverageBuyPrice, h.TotalInvested)
	if err != nil {
		return fmt.Errorf("upsert holding: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol); err != nil {
		return fmt.Errorf("delete holding: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID uuid.UUID) ([]models.Holding, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT symbol, amount, average_buy_price, total_invested
		 FROM holdings WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var out []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.Symbol, &h.Amount, &h.AverageBuyPrice, &h.TotalInvested); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, type, symbol, amount, price, total, status, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.UserID, t.Type, t.Symbol, t.Amount, t.Price, t.Total, t.Status, t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID uuid.UUID, f TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, user_id, type, symbol, amount, price, total, status, timestamp
		FROM trades WHERE user_id = $1`
	args := []any{userID}
	if f.Symbol != nil {
		args = append(args, *f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Start != nil {
		args = append(args, *f.Start)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		query += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Symbol, &t.Amount, &t.Price, &t.Total, &t.Status, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTradeStats(ctx context.Context, userID uuid.UUID) (*models.TradeStats, error) {
	stats := &models.TradeStats{TotalVolume: decimal.Zero}
	var first, last sql.NullTime
	var volume sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE type = 'BUY'),
		        COUNT(*) FILTER (WHERE type = 'SELL'),
		        COALESCE(SUM(total), 0)::TEXT,
		        MIN(timestamp), MAX(timestamp)
		 FROM trades WHERE user_id = $1`, userID).
		Scan(&stats.TotalTrades, &stats.BuyCount, &stats.SellCount, &volume, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("trade stats: %w", err)
	}
	if volume.Valid {
		if stats.TotalVolume, err = decimal.NewFromString(volume.String); err != nil {
			return nil, fmt.Errorf("trade stats volume: %w", err)
		}
	}
	if first.Valid {
		stats.FirstTradeAt = &first.Time
	}
	if last.Valid {
		stats.LastTradeAt = &last.Time
	}

	var most sql.NullString
	err = s.q.QueryRowContext(ctx,
		`SELECT symbol FROM trades WHERE user_id = $1
		 GROUP BY symbol ORDER BY COUNT(*) DESC, symbol LIMIT 1`, userID).Scan(&most)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("most traded: %w", err)
	}
	if most.Valid {
		stats.MostTraded = models.CryptoSymbol(most.String)
	}
	return stats, nil
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots
		   (id, user_id, snapshot_day, date, total_value, total_invested, profit_loss, profit_loss_percent, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		snap.ID, snap.UserID, snap.Date.UTC().Format("2006-01-02"), snap.Date,
		snap.TotalValue, snap.TotalInvested, snap.ProfitLoss, snap.ProfitLossPercent, snap.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("snapshot for %s: %w", snap.Date.UTC().Format("2006-01-02"), ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.PortfolioSnapshot, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, date, total_value, total_invested, profit_loss, profit_loss_percent, created_at
		 FROM portfolio_snapshots
		 WHERE user_id = $1 AND date >= $2 ORDER BY date ASC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.PortfolioSnapshot
	for rows.Next() {
		var snap models.PortfolioSnapshot
		if err := rows.Scan(&snap.ID, &snap.UserID, &snap.Date, &snap.TotalValue,
			&snap.TotalInvested, &snap.ProfitLoss, &snap.ProfitLossPercent, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertQuestByTitle(ctx context.Context, q *models.Quest) error {
	// Seeding keys on title so catalog edits update in place; an
	// existing quest keeps its id and any progress rows pointing at it.
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO quests (id, title, description, requirement_type, requirement_value, reward_xp)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (title) DO UPDATE SET
		   description = EXCLUDED.description,
		   requirement_type = EXCLUDED.requirement_type,
		   requirement_value = EXCLUDED.requirement_value,
		   reward_xp = EXCLUDED.reward_xp
		 RETURNING id`,
		q.ID, q.Title, q.Description, q.Requirement.Type, q.Requirement.Value, q.Reward.XP).
		Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("upsert quest %q: %w", q.Title, err)
	}
	return nil
}

func (s *PostgresStore) ListQuests(ctx context.Context) ([]models.Quest, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, title, description, requirement_type, requirement_value, reward_xp
		 FROM quests ORDER BY reward_xp, title`)
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	defer rows.Close()

	var out []models.Quest
	for rows.Next() {
		var q models.Quest
		if err := rows.Scan(&q.ID, &q.Title, &q.Description,
			&q.Requirement.Type, &q.Requirement.Value, &q.Reward.XP); err != nil {
			return nil, fmt.Errorf("scan quest: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	var q models.Quest
	err := s.q.QueryRowContext(ctx,
		`SELECT id, title, description, requirement_type, requirement_value, reward_xp
		 FROM quests WHERE id = $1`, id).
		Scan(&q.ID, &q.Title, &q.Description, &q.Requirement.Type, &q.Requirement.Value, &q.Reward.XP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quest: %w", err)
	}
	return &q, nil
}

func (s *PostgresStore) GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.q.QueryRowContext(ctx,
		`SELECT key, user_id, request_hash, status_code, response_body, created_at
		 FROM idempotency_keys WHERE key = $1`, key).
		Scan(&rec.Key, &rec.UserID, &rec.RequestHash, &rec.StatusCode, &rec.ResponseBody, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) PutIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, user_id, request_hash, status_code, response_body, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (key) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   request_hash = EXCLUDED.request_hash,
		   status_code = EXCLUDED.status_code,
		   response_body = EXCLUDED.response_body,
		   created_at = EXCLUDED.created_at`,
		rec.Key, rec.UserID, rec.RequestHash, rec.StatusCode, rec.ResponseBody, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("put idempotency key: %w", err)
	}
	return nil
}
