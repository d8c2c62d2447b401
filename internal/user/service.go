// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/contactbook/internal/access"
	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/hitoshi/contactbook/internal/repository"
)

// RenewedTokenTTL はユーザー名変更時に再発行するトークンの有効期間。
const RenewedTokenTTL = 7 * 24 * time.Hour

// ロールごとの既定アバター
const (
	defaultSuperadminAvatar = "/static/menu/img/manager.png"
	defaultAdminAvatar      = "/static/menu/img/ska.png"
	defaultUserAvatar       = "/static/menu/img/avatar.png"
)

// TokenIssuer はユーザー名変更時のトークン再発行インターフェース。
type TokenIssuer interface {
	IssueWithTTL(claims auth.Claims, ttl time.Duration) (string, error)
}

// SessionRevoker はパスワードやロールの変更時に既存セッションを失効させる。
type SessionRevoker interface {
	DeleteByUserID(ctx context.Context, userID int64) error
}

// Profile は/users/meで返すユーザー情報。
type Profile struct {
	ID        int64
	Username  string
	Email     string
	Role      model.Role
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsernameChange はユーザー名変更の結果。
type UsernameChange struct {
	Username string
	Token    string
	TTL      time.Duration
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	avatarRepo repository.UserAvatarRepository
	sessions   SessionRevoker
	tokens     TokenIssuer
	mailer     auth.Mailer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	avatarRepo repository.UserAvatarRepository,
	sessions SessionRevoker,
	tokens TokenIssuer,
	mailer auth.Mailer,
) *Service {
	return &Service{
		userRepo:   userRepo,
		avatarRepo: avatarRepo,
		sessions:   sessions,
		tokens:     tokens,
		mailer:     mailer,
	}
}

// Me は呼び出し元のプロフィールを返す。
func (s *Service) Me(ctx context.Context, actor *model.Identity) (*Profile, error) {
	u, err := s.findUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	avatars, err := s.avatarRepo.ListByUserID(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("アバターの取得に失敗しました: %w", err)
	}

	return &Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		AvatarURL: SelectAvatar(u.Role, avatars),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}, nil
}

// SelectAvatar は承認済みのメインアバター、なければ最初の承認済みアバター、
// どちらもなければロールの既定画像のパスを返す。
func SelectAvatar(role model.Role, avatars []model.UserAvatar) string {
	var firstApproved string
	for _, a := range avatars {
		if !a.IsApproved {
			continue
		}
		if a.IsMain {
			return a.FilePath
		}
		if firstApproved == "" {
			firstApproved = a.FilePath
		}
	}
	if firstApproved != "" {
		return firstApproved
	}

	switch role {
	case model.RoleSuperadmin:
		return defaultSuperadminAvatar
	case model.RoleAdmin:
		return defaultAdminAvatar
	default:
		return defaultUserAvatar
	}
}

// UpdateUsername はユーザー名を変更し、新しいユーザー名を含むトークンを再発行する。
func (s *Service) UpdateUsername(ctx context.Context, actor *model.Identity, username string) (*UsernameChange, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.NewInvalidInputError("username", "ユーザー名は必須です")
	}
	if err := auth.ValidateUsername(username); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil && existing.ID != actor.ID {
		return nil, model.NewUsernameTakenError()
	}

	u, err := s.findUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateUsername(ctx, u.ID, username); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, fmt.Errorf("ユーザー名の更新に失敗しました: %w", err)
	}
	u.Username = username

	token, err := s.tokens.IssueWithTTL(auth.NewClaims(model.IdentityOf(u)), RenewedTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("username updated", slog.Int64("user_id", u.ID))
	return &UsernameChange{Username: username, Token: token, TTL: RenewedTokenTTL}, nil
}

// UpdatePassword は現在のパスワードを確認してからパスワードを変更する。
// 変更後は呼び出し元の全セッションを失効させる。
func (s *Service) UpdatePassword(ctx context.Context, actor *model.Identity, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return model.NewInvalidInputError("password", "現在のパスワードと新しいパスワードは必須です")
	}

	u, err := s.findUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !auth.VerifyPassword(u.HashedPassword, currentPassword) {
		return model.NewInvalidInputError("current_password", "現在のパスワードが正しくありません")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hashed, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, u.ID, hashed); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}
	if err := s.sessions.DeleteByUserID(ctx, u.ID); err != nil {
		return fmt.Errorf("セッションの失効に失敗しました: %w", err)
	}

	slog.Info("password updated", slog.Int64("user_id", u.ID))
	return nil
}

// RequestPasswordReset は登録メールアドレス宛にパスワード再設定の案内を送る。
func (s *Service) RequestPasswordReset(ctx context.Context, actor *model.Identity) error {
	u, err := s.findUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, u.Email); err != nil {
		return fmt.Errorf("パスワード再設定メールの送信に失敗しました: %w", err)
	}
	return nil
}

// ChangeRole は対象ユーザーのロールを変更する。
// admin未満の呼び出し元は対象の存在確認より前に拒否する。
// 変更後は対象ユーザーの全セッションを失効させ、旧ロールのスナップショットを残さない。
func (s *Service) ChangeRole(ctx context.Context, actor *model.Identity, targetID int64, newRole model.Role) (*model.User, error) {
	if !access.CanManageUsers(actor) {
		return nil, model.NewForbiddenError("ロールの変更にはadmin以上の権限が必要です")
	}

	target, err := s.findUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := access.CanChangeRole(actor, target, newRole); err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateRole(ctx, target.ID, newRole); err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}
	if err := s.sessions.DeleteByUserID(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("セッションの失効に失敗しました: %w", err)
	}

	slog.Info("role changed",
		slog.Int64("actor_id", actor.ID),
		slog.Int64("target_id", target.ID),
		slog.String("old_role", string(target.Role)),
		slog.String("new_role", string(newRole)),
	)
	target.Role = newRole
	return target, nil
}

// ListUsers は全ユーザーを返す。admin以上のみ実行できる。
func (s *Service) ListUsers(ctx context.Context, actor *model.Identity) ([]*model.User, error) {
	if !access.CanManageUsers(actor) {
		return nil, model.NewForbiddenError("ユーザー一覧の参照にはadmin以上の権限が必要です")
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

func (s *Service) findUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}
