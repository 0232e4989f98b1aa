package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/api/internal/auth"
	"backoffice/api/internal/authpw"
	"backoffice/api/internal/email"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/search"
	"backoffice/api/internal/store"
	"backoffice/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s *Service) Login(ctx context.Context, emailAddress, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, emailAddress, password)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user signed in", zap.String("user_id", user.ID), zap.String("role", user.Role))
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The user is reloaded so role changes and
// deactivation take effect on the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	owner, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, owner.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if saver, ok := s.sessions.(userSessionSaver); ok {
		err = saver.SaveUserSession(ctx, auth.HashToken(refresh), user, refreshExpires)
	} else {
		err = s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", zap.Error(err))
		}
	}
	return nil
}

// RequestPasswordReset emails a reset link. The returned token is only
// non-empty in development without SMTP, so the flow can be finished by hand.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (string, error) {
	ticket, err := s.auth.RequestPasswordReset(ctx, emailAddress)
	if err != nil || ticket == nil {
		return "", err
	}
	s.notify(ctx, email.Message{
		To:       []string{ticket.User.Email},
		Template: email.TemplatePasswordReset,
		Data: email.PasswordResetData{
			UserName: ticket.User.DisplayName,
			ResetURL: s.link("reset-password?token=" + ticket.Token),
		},
	})
	return s.devToken(ticket.Token), nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	user, err := s.auth.ResetPassword(ctx, token, password)
	if err != nil {
		return err
	}
	s.logger.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	return s.auth.ChangePassword(ctx, session.UserID, current, next)
}

type CreateUserInput struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Role        string `json:"role" validate:"required"`
	Password    string `json:"password"`
}

// CreateUser adds a staff account. Without a password an invite is emailed.
func (s *Service) CreateUser(ctx context.Context, session Session, input CreateUserInput) (map[string]any, error) {
	if err := s.require(session, rbac.ActionUsersManage); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	resp, err := s.auth.CreateUser(ctx, authpw.CreateUserRequest{
		Email:       input.Email,
		DisplayName: input.DisplayName,
		Role:        input.Role,
		Password:    input.Password,
	})
	if err != nil {
		return nil, err
	}

	s.indexUser(resp.User)
	payload := map[string]any{"user": userView(resp.User)}
	if resp.InviteToken != "" {
		s.notify(ctx, email.Message{
			To:       []string{resp.User.Email},
			Template: email.TemplateAccountInvite,
			Data: email.InviteData{
				UserName: resp.User.DisplayName,
				Role:     resp.User.Role,
				SetupURL: s.link("reset-password?token=" + resp.InviteToken),
			},
		})
		if token := s.devToken(resp.InviteToken); token != "" {
			payload["devInviteToken"] = token
		}
	}
	return payload, nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if err := s.require(session, rbac.ActionUsersManage); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userView(user))
	}
	return items, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	if err := s.require(session, rbac.ActionUsersManage); err != nil {
		return nil, err
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusConflict, "SELF_CHANGE", "You cannot change your own role", nil)
	}
	if !rbac.Valid(role) {
		return nil, authpw.ErrUnknownRole
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user role changed", zap.String("user_id", userID), zap.String("role", role), zap.String("by", session.UserID))
	s.indexUser(user)
	return userView(user), nil
}

func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) error {
	if err := s.require(session, rbac.ActionUsersManage); err != nil {
		return err
	}
	if userID == session.UserID {
		return domainError(http.StatusConflict, "SELF_CHANGE", "You cannot deactivate yourself", nil)
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deactivated", zap.String("user_id", userID), zap.String("by", session.UserID))
	if user, err := s.store.GetUserByID(ctx, userID); err == nil {
		s.indexUser(user)
	}
	return nil
}

func (s *Service) indexUser(user store.User) {
	s.search.IndexUser(search.UserRecord{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Status:      search.UserStatus(user.DeactivatedAt != nil),
	})
}

// devToken exposes a token in the response only when mail cannot deliver it.
func (s *Service) devToken(token string) string {
	if s.cfg.Env != "development" || (s.mail != nil && s.mail.IsConfigured()) {
		return ""
	}
	return token
}

func userView(user store.User) map[string]any {
	return map[string]any{
		"id":            user.ID,
		"email":         user.Email,
		"displayName":   user.DisplayName,
		"role":          user.Role,
		"emailVerified": user.IsEmailVerified,
		"active":        user.DeactivatedAt == nil,
		"deactivatedAt": user.DeactivatedAt,
		"createdAt":     user.CreatedAt,
	}
}
