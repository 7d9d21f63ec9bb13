package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GobsRuiz/GobsVault/internal/models"
)

type memoryData struct {
	users         map[uuid.UUID]models.User
	usersByEmail  map[string]uuid.UUID
	usersByName   map[string]uuid.UUID
	questProgress map[uuid.UUID]map[uuid.UUID]models.QuestProgress
	holdings      map[uuid.UUID]map[models.CryptoSymbol]models.Holding
	trades        []models.Trade
	snapshots     map[uuid.UUID]map[string]models.PortfolioSnapshot
	quests        map[uuid.UUID]models.Quest
	questByTitle  map[string]uuid.UUID
	idempotency   map[string]IdempotencyRecord
}

func newMemoryData() *memoryData {
	return &memoryData{
		users:         make(map[uuid.UUID]models.User),
		usersByEmail:  make(map[string]uuid.UUID),
		usersByName:   make(map[string]uuid.UUID),
		questProgress: make(map[uuid.UUID]map[uuid.UUID]models.QuestProgress),
		holdings:      make(map[uuid.UUID]map[models.CryptoSymbol]models.Holding),
		snapshots:     make(map[uuid.UUID]map[string]models.PortfolioSnapshot),
		quests:        make(map[uuid.UUID]models.Quest),
		questByTitle:  make(map[string]uuid.UUID),
		idempotency:   make(map[string]IdempotencyRecord),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.usersByEmail {
		c.usersByEmail[k] = v
	}
	for k, v := range d.usersByName {
		c.usersByName[k] = v
	}
	for uid, m := range d.questProgress {
		inner := make(map[uuid.UUID]models.QuestProgress, len(m))
		for k, v := range m {
			inner[k] = v
		}
		c.questProgress[uid] = inner
	}
	for uid, m := range d.holdings {
		inner := make(map[models.CryptoSymbol]models.Holding, len(m))
		for k, v := range m {
			inner[k] = v
		}
		c.holdings[uid] = inner
	}
	c.trades = append(c.trades, d.trades...)
	for uid, m := range d.snapshots {
		inner := make(map[string]models.PortfolioSnapshot, len(m))
		for k, v := range m {
			inner[k] = v
		}
		c.snapshots[uid] = inner
	}
	for k, v := range d.quests {
		c.quests[k] = v
	}
	for k, v := range d.questByTitle {
		c.questByTitle[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// MemoryStore is an in-process Store used by tests and local runs.
// InTx snapshots the whole dataset and swaps it back in on success, so
// a failed callback leaves no partial writes and concurrent InTx calls
// serialize like row-locked transactions.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
	inTx bool
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &MemoryStore{data: s.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	email := strings.ToLower(u.Email)
	if _, ok := s.data.usersByEmail[email]; ok {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	if _, ok := s.data.usersByName[u.Username]; ok {
		return fmt.Errorf("user %s: %w", u.Username, ErrDuplicate)
	}
	s.data.users[u.ID] = *u
	s.data.usersByEmail[email] = u.ID
	s.data.usersByName[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) getUser(id uuid.UUID) (*models.User, error) {
	u, ok := s.data.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	defer s.lock()()
	return s.getUser(id)
}

func (s *MemoryStore) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	// the whole store is locked inside InTx, which subsumes a row lock
	return s.GetUser(ctx, id)
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock()()
	id, ok := s.data.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getUser(id)
}

func (s *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	prev, ok := s.data.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Username != u.Username {
		if other, taken := s.data.usersByName[u.Username]; taken && other != u.ID {
			return fmt.Errorf("user %s: %w", u.Username, ErrDuplicate)
		}
		delete(s.data.usersByName, prev.Username)
		s.data.usersByName[u.Username] = u.ID
	}
	u.UpdatedAt = time.Now().UTC()
	s.data.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) UpsertQuestProgress(ctx context.Context, userID uuid.UUID, p models.QuestProgress) error {
	defer s.lock()()
	m, ok := s.data.questProgress[userID]
	if !ok {
		m = make(map[uuid.UUID]models.QuestProgress)
		s.data.questProgress[userID] = m
	}
	m[p.QuestID] = p
	return nil
}

func (s *MemoryStore) ListQuestProgress(ctx context.Context, userID uuid.UUID) ([]models.QuestProgress, error) {
	defer s.lock()()
	var out []models.QuestProgress
	for _, p := range s.data.questProgress[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestID.String() < out[j].QuestID.String()
	})
	return out, nil
}

func (s *MemoryStore) GetHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) (*models.Holding, error) {
	defer s.lock()()
	h, ok := s.data.holdings[userID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := h
	return &cp, nil
}

func (s *MemoryStore) UpsertHolding(ctx context.Context, userID uuid.UUID, h models.Holding) error {
	defer s.lock()()
	m, ok := s.data.holdings[userID]
	if !ok {
		m = make(map[models.CryptoSymbol]models.Holding)
		s.data.holdings[userID] = m
	}
	m[h.Symbol] = h
	return nil
}

func (s *MemoryStore) DeleteHolding(ctx context.Context, userID uuid.UUID, symbol models.CryptoSymbol) error {
	defer s.lock()()
	delete(s.data.holdings[userID], symbol)
	return nil
}

func (s *MemoryStore) ListHoldings(ctx context.Context, userID uuid.UUID) ([]models.Holding, error) {
	defer s.lock()()
	var out []models.Holding
	for _, h := range s.data.holdings[userID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) InsertTrade(ctx context.Context, t *models.Trade) error {
	defer s.lock()()
	s.data.trades = append(s.data.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, userID uuid.UUID, f TradeFilter) ([]models.Trade, error) {
	defer s.lock()()
	var matched []models.Trade
	for _, t := range s.data.trades {
		if t.UserID != userID {
			continue
		}
		if f.Symbol != nil && t.Symbol != *f.Symbol {
			continue
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.Start != nil && t.Timestamp.Before(*f.Start) {
			continue
		}
		if f.End != nil && !t.Timestamp.Before(*f.End) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) GetTradeStats(ctx context.Context, userID uuid.UUID) (*models.TradeStats, error) {
	defer s.lock()()
	stats := &models.TradeStats{TotalVolume: decimal.Zero}
	counts := make(map[models.CryptoSymbol]int)
	for _, t := range s.data.trades {
		if t.UserID != userID {
			continue
		}
		stats.TotalTrades++
		if t.Type == models.TradeTypeBuy {
			stats.BuyCount++
		} else {
			stats.SellCount++
		}
		stats.TotalVolume = stats.TotalVolume.Add(t.Total)
		counts[t.Symbol]++
		ts := t.Timestamp
		if stats.FirstTradeAt == nil || ts.Before(*stats.FirstTradeAt) {
			tsCopy := ts
			stats.FirstTradeAt = &tsCopy
		}
		if stats.LastTradeAt == nil || ts.After(*stats.LastTradeAt) {
			tsCopy := ts
			stats.LastTradeAt = &tsCopy
		}
	}
	best := 0
	for sym, n := range counts {
		if n > best || (n == best && (stats.MostTraded == "" || sym < stats.MostTraded)) {
			best = n
			stats.MostTraded = sym
		}
	}
	return stats, nil
}

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	defer s.lock()()
	day := snap.Date.UTC().Format("2006-01-02")
	m, ok := s.data.snapshots[snap.UserID]
	if !ok {
		m = make(map[string]models.PortfolioSnapshot)
		s.data.snapshots[snap.UserID] = m
	}
	if _, exists := m[day]; exists {
		return fmt.Errorf("snapshot for %s: %w", day, ErrDuplicate)
	}
	m[day] = *snap
	return nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.PortfolioSnapshot, error) {
	defer s.lock()()
	var out []models.PortfolioSnapshot
	for _, snap := range s.data.snapshots[userID] {
		if !snap.Date.Before(since) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) UpsertQuestByTitle(ctx context.Context, q *models.Quest) error {
	defer s.lock()()
	if existing, ok := s.data.questByTitle[q.Title]; ok {
		q.ID = existing
	}
	s.data.quests[q.ID] = *q
	s.data.questByTitle[q.Title] = q.ID
	return nil
}

func (s *MemoryStore) ListQuests(ctx context.Context) ([]models.Quest, error) {
	defer s.lock()()
	var out []models.Quest
	for _, q := range s.data.quests {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reward.XP != out[j].Reward.XP {
			return out[i].Reward.XP < out[j].Reward.XP
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *MemoryStore) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	defer s.lock()()
	q, ok := s.data.quests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := q
	return &cp, nil
}

func (s *MemoryStore) GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error) {
	defer s.lock()()
	rec, ok := s.data.idempotency[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (s *MemoryStore) PutIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	defer s.lock()()
	s.data.idempotency[rec.Key] = *rec
	return nil
}
