package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GobsRuiz/GobsVault/internal/apperr"
	"github.com/GobsRuiz/GobsVault/internal/database"
	"github.com/GobsRuiz/GobsVault/internal/gamification"
	"github.com/GobsRuiz/GobsVault/internal/models"
)

// Service handles account registration and credential checks
type Service struct {
	store  database.Store
	logger *slog.Logger
}

func NewService(store database.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateRegistration(req models.RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 30 {
		return apperr.BadRequest("username must be between 3 and 30 characters")
	}
	if !usernamePattern.MatchString(username) {
		return apperr.BadRequest("username may only contain letters, digits and underscores")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return apperr.BadRequest("invalid email address")
	}
	if len(req.Password) < 8 {
		return apperr.BadRequest("password must be at least 8 characters")
	}
	return nil
}

// Register creates a new account with the starting balance, level 1
// and the entry rank.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Balance:      models.StartingBalance,
		XP:           0,
		Level:        1,
		Rank:         gamification.RankForLevel(1),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, apperr.Conflict("email or username already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies credentials and returns the account. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid credentials")
	}
	return user, nil
}
