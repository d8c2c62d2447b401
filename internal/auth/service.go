// Package auth は認証（パスワード照合、アクセストークン、セッション、呼び出し元の解決）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/contactbook/internal/model"
	"github.com/hitoshi/contactbook/internal/repository"
)

// 入力値の制約
const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 8
)

// Mailer はメール送信の外部連携インターフェース。
type Mailer interface {
	// SendVerificationCode は登録確認コードを送信する。
	SendVerificationCode(ctx context.Context, email, code string) error
	// SendPasswordReset はパスワード再設定の案内を送信する。
	SendPasswordReset(ctx context.Context, email string) error
}

// LogMailer は送信内容をログに記録するだけのMailer。
// 確認コード自体はログに出力しない。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendVerificationCode はMailerを実装する。
func (m *LogMailer) SendVerificationCode(_ context.Context, email, _ string) error {
	m.logger.Info("verification code issued", slog.String("email", email))
	return nil
}

// SendPasswordReset はMailerを実装する。
func (m *LogMailer) SendPasswordReset(_ context.Context, email string) error {
	m.logger.Info("password reset requested", slog.String("email", email))
	return nil
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge      int // セッション有効期間（秒）
	SuperadminUsername string
	SuperadminEmail    string
	SuperadminPassword string
}

// SignupInput はユーザー登録の入力。
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult はログイン成功時に発行されるセッションとトークン。
type LoginResult struct {
	Identity *model.Identity
	Session  *model.Session
	Token    string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	mailer      Mailer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	mailer Mailer,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		mailer:      mailer,
		config:      config,
		now:         time.Now,
	}
}

// Signup はユーザーを未確認状態で登録し、確認コードを送信する。
// 登録直後のロールは常にuser。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidInputError("email", "メールアドレスの形式が正しくありません")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, model.NewUsernameTakenError()
	}
	existing, err = s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	code, err := generateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	user := &model.User{
		Username:         username,
		Email:            email,
		HashedPassword:   hash,
		Role:             model.RoleUser,
		IsVerified:       false,
		VerificationCode: code,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if repository.IsDuplicateOn(err, "email") {
			return nil, model.NewEmailTakenError()
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, user.Email, code); err != nil {
		slog.Error("failed to send verification code",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("user signed up", slog.Int64("user_id", user.ID))
	return user, nil
}

// VerifyEmail は確認コードを照合し、ユーザーを確認済みにする。
// 確認済みユーザーに対しては何もしない。
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := s.userRepo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if user.IsVerified {
		return nil
	}

	code = strings.TrimSpace(code)
	if code == "" || user.VerificationCode == "" ||
		subtle.ConstantTimeCompare([]byte(code), []byte(user.VerificationCode)) != 1 {
		return model.NewInvalidVerificationCodeError()
	}

	if err := s.userRepo.MarkVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}

	slog.Info("user verified", slog.Int64("user_id", user.ID))
	return nil
}

// Login はユーザー名とパスワードを照合し、セッションとアクセストークンを発行する。
// セッションにはログイン時点のユーザー情報を保存する。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	identity := model.IdentityOf(user)

	session, err := s.createSession(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.tokens.Issue(NewClaims(identity))
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return &LoginResult{Identity: identity, Session: session, Token: token}, nil
}

// IssueToken はユーザー名とパスワードを照合し、アクセストークンのみを発行する。
func (s *Service) IssueToken(ctx context.Context, username, password string) (string, error) {
	user, err := s.authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}

	token, err := s.tokens.Issue(NewClaims(model.IdentityOf(user)))
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return token, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// EnsureSuperadmin は設定されたsuperadminユーザーを必ず存在させる。
// 未登録なら確認済みのsuperadminとして作成し、登録済みならロールを昇格する。
// 既存ユーザーのパスワードは変更しない。
func (s *Service) EnsureSuperadmin(ctx context.Context) (*model.User, error) {
	username := strings.TrimSpace(s.config.SuperadminUsername)
	if username == "" || s.config.SuperadminPassword == "" {
		return nil, fmt.Errorf("superadmin username and password are required")
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find superadmin: %w", err)
	}

	if user == nil {
		hash, err := HashPassword(s.config.SuperadminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash superadmin password: %w", err)
		}
		user = &model.User{
			Username:       username,
			Email:          s.config.SuperadminEmail,
			HashedPassword: hash,
			Role:           model.RoleSuperadmin,
			IsVerified:     true,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create superadmin: %w", err)
		}
		slog.Info("superadmin created", slog.Int64("user_id", user.ID))
		return user, nil
	}

	if user.Role != model.RoleSuperadmin {
		if err := s.userRepo.UpdateRole(ctx, user.ID, model.RoleSuperadmin); err != nil {
			return nil, fmt.Errorf("failed to promote superadmin: %w", err)
		}
		slog.Info("user promoted to superadmin",
			slog.Int64("user_id", user.ID),
			slog.String("previous_role", string(user.Role)),
		)
		user.Role = model.RoleSuperadmin
	}
	if !user.IsVerified {
		if err := s.userRepo.MarkVerified(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to verify superadmin: %w", err)
		}
		user.IsVerified = true
	}
	return user, nil
}

// authenticate はユーザー名とパスワードを照合する。
// ユーザーが存在しない場合とパスワード不一致は同じエラーを返す。
func (s *Service) authenticate(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !VerifyPassword(user.HashedPassword, password) {
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.IsVerified {
		return nil, model.NewForbiddenError("メールアドレスが未確認です")
	}
	return user, nil
}

// createSession はIdentityのスナップショットを持つセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    identity.ID,
		Username:  identity.Username,
		Email:     identity.Email,
		Role:      identity.Role,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return model.NewInvalidInputError("username",
			fmt.Sprintf("ユーザー名は%d〜%d文字で指定してください", minUsernameLength, maxUsernameLength))
	}
	return nil
}

// ValidateUsername はユーザー名の長さを検証する。
func ValidateUsername(username string) error {
	return validateUsername(strings.TrimSpace(username))
}

// ValidatePassword はパスワードの長さを検証する。
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewInvalidInputError("password",
			fmt.Sprintf("パスワードは%d文字以上で指定してください", minPasswordLength))
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateVerificationCode は6桁の数字の確認コードを生成する。
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
