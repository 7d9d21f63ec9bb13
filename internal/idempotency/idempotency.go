// Package idempotency caches trade submission responses by the
// client-supplied Idempotency-Key header so network retries cannot
// double-execute an order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/database"
)

// Service runs an operation at most once per key
type Service struct {
	store database.Store
	ttl   time.Duration
}

func NewService(store database.Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Run executes fn unless a response for the key is already cached.
// Reusing a key with a different payload is rejected; only successful
// responses are cached, so a failed attempt may be retried with the
// same key. Returns (status, body, replayed).
func (s *Service) Run(ctx context.Context, key string, userID uuid.UUID, payload []byte, fn func() (int, []byte, error)) (int, []byte, bool, error) {
	if key == "" {
		status, body, err := fn()
		return status, body, false, err
	}

	requestHash := hashPayload(payload)
	cached, err := s.store.GetIdempotency(ctx, key)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if cached != nil {
		if cached.UserID != userID || cached.RequestHash != requestHash {
			return 0, nil, false, apperr.Conflict("idempotency key reused with a different request")
		}
		expired := s.ttl > 0 && time.Since(cached.CreatedAt) > s.ttl
		if !expired {
			return cached.StatusCode, cached.ResponseBody, true, nil
		}
		// expired; re-execute below, a success overwrites the record
	}

	status, body, err := fn()
	if err != nil {
		return status, body, false, err
	}
	if status >= 200 && status < 300 {
		record := &database.IdempotencyRecord{
			Key:          key,
			UserID:       userID,
			RequestHash:  requestHash,
			StatusCode:   status,
			ResponseBody: body,
			CreatedAt:    time.Now().UTC(),
		}
		if putErr := s.store.PutIdempotency(ctx, record); putErr != nil {
			return 0, nil, false, fmt.Errorf("idempotency store: %w", putErr)
		}
	}
	return status, body, false, nil
}
