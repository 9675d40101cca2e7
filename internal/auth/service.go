// Package auth はメールアドレス・パスワードによる認証とアクセストークン管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/docquery/internal/metrics"
	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/repository"
)

// Result はサインアップ・ログイン成功時に返すトークンとユーザー。
type Result struct {
	Token string
	User  *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users   repository.UserRepository
	tokens  *TokenManager
	hasher  *PasswordHasher
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	users repository.UserRepository,
	tokens *TokenManager,
	hasher *PasswordHasher,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		metrics: mc,
		logger:  logger,
		now:     time.Now,
	}
}

// Signup はユーザーを作成し、アクセストークンを発行する。
// 新規ユーザーはfreeプラン、利用回数0、リセット日時は現在時刻で作成する。
func (s *Service) Signup(ctx context.Context, email, password string) (*Result, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.RecordAuth("signup", "missing_fields")
		return nil, model.NewMissingFieldsError("Email and password are required")
	}

	hash, err := s.hasher.Hash(password)
	if errors.Is(err, ErrPasswordTooLong) {
		s.metrics.RecordAuth("signup", "password_too_long")
		return nil, model.NewPasswordTooLongError()
	}
	if err != nil {
		s.metrics.RecordAuth("signup", "error")
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:            uuid.New().String(),
		Email:         email,
		PasswordHash:  hash,
		DailyCount:    0,
		LastResetDate: now,
		Plan:          model.PlanFree,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.metrics.RecordAuth("signup", "email_exists")
			return nil, model.NewEmailExistsError()
		}
		s.metrics.RecordAuth("signup", "error")
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.metrics.RecordAuth("signup", "error")
		return nil, err
	}

	s.metrics.RecordAuth("signup", "success")
	s.logger.Info("user signed up", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// Login はメールアドレスとパスワードを照合し、アクセストークンを発行する。
// ユーザー不在とパスワード不一致は区別せずInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.RecordAuth("login", "missing_fields")
		return nil, model.NewMissingFieldsError("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !s.hasher.Compare(user.PasswordHash, password) {
		s.metrics.RecordAuth("login", "invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.metrics.RecordAuth("login", "error")
		return nil, err
	}

	s.metrics.RecordAuth("login", "success")
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// Authenticate はアクセストークンを検証し、現存するユーザーを返す。
// トークンが有効でもユーザーが削除されている場合はUserNotFoundを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewMissingTokenError()
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Debug("token verification failed", slog.String("error", err.Error()))
		return nil, model.NewInvalidTokenError()
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
