// Package authpw handles staff accounts: admin-created users, password
// sign-in, invites and password resets. There is no self sign-up.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"backoffice/api/internal/rbac"
	"backoffice/api/internal/store"
)

const (
	MinPasswordLength = 8
	InviteTTL         = 72 * time.Hour
	ResetTTL          = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingFields      = errors.New("email, display name and role are required")
	ErrUnknownRole        = errors.New("unknown role")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// dummyHash is compared against when the account does not exist so a miss
// costs about as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("backoffice-timing-guard"), bcrypt.DefaultCost)

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

type Service struct {
	store  UserStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(s UserStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger.Named("authpw"), now: time.Now}
}

type CreateUserRequest struct {
	Email       string
	DisplayName string
	Role        string
	// Password is optional. Without one the account gets an invite token
	// and cannot sign in until the invite is accepted.
	Password string
}

type CreateUserResponse struct {
	User        store.User
	InviteToken string
}

// CreateUser adds a staff account.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*CreateUserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || name == "" || req.Role == "" {
		return nil, ErrMissingFields
	}
	if !rbac.Valid(req.Role) {
		return nil, ErrUnknownRole
	}

	user := store.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: name,
		Role:        req.Role,
	}
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
		user.IsEmailVerified = true
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	resp := &CreateUserResponse{User: user}
	if req.Password == "" {
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(InviteTTL)); err != nil {
			return nil, fmt.Errorf("create invite: %w", err)
		}
		resp.InviteToken = token
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", user.Role), zap.Bool("invited", resp.InviteToken != ""))
	return resp, nil
}

// SignIn checks an email and password. Unknown, deactivated and not yet
// activated accounts all fail with ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return store.User{}, fmt.Errorf("lookup user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return store.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.DeactivatedAt != nil {
		s.logger.Info("sign-in by deactivated user", zap.String("user_id", user.ID))
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResetTicket is what the caller needs to email a reset link.
type ResetTicket struct {
	User  store.User
	Token string
}

// RequestPasswordReset issues a one hour reset token. It returns a nil
// ticket without error when the address is unknown or deactivated, so
// callers answer the same way either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*ResetTicket, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.DeactivatedAt != nil {
		return nil, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(ResetTTL)); err != nil {
		return nil, fmt.Errorf("create password reset: %w", err)
	}
	return &ResetTicket{User: user, Token: token}, nil
}

// ResetPassword sets a new password from a reset or invite token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (store.User, error) {
	if strings.TrimSpace(token) == "" {
		return store.User{}, ErrInvalidToken
	}
	if len(newPassword) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidToken
		}
		return store.User{}, fmt.Errorf("lookup reset: %w", err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return store.User{}, err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return store.User{}, fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, token); err != nil {
		s.logger.Warn("mark password reset used", zap.String("user_id", userID), zap.Error(err))
	}
	return s.store.GetUserByID(ctx, userID)
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(next) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
