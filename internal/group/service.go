// Package group は連絡先グループの管理を提供する。
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/contactbook/internal/access"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/hitoshi/contactbook/internal/repository"
	"github.com/hitoshi/contactbook/internal/security"
)

const maxNameLength = 50

// Service はグループ管理のサービス層。
type Service struct {
	groupRepo repository.GroupRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(groupRepo repository.GroupRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{groupRepo: groupRepo, sanitizer: sanitizer}
}

// List は全グループを名前順に返す。
func (s *Service) List(ctx context.Context) ([]model.Group, error) {
	groups, err := s.groupRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("グループ一覧の取得に失敗しました: %w", err)
	}
	return groups, nil
}

// Create はグループを作成する。名前が重複する場合はGROUP_NAME_TAKENを返す。
func (s *Service) Create(ctx context.Context, actor *model.Identity, name string) (*model.Group, error) {
	name = s.sanitizer.SanitizeText(name)
	if name == "" {
		return nil, model.NewInvalidInputError("name", "グループ名は必須です")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewInvalidInputError("name", fmt.Sprintf("%d文字以内で指定してください", maxNameLength))
	}

	g := &model.Group{Name: name}
	if err := s.groupRepo.Create(ctx, g); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewGroupNameTakenError()
		}
		return nil, fmt.Errorf("グループの作成に失敗しました: %w", err)
	}

	slog.Info("group created",
		slog.Int64("group_id", g.ID),
		slog.Int64("user_id", actor.ID),
	)
	return g, nil
}

// Delete はグループを削除する。admin以上のみ実行でき、所属していた連絡先は残る。
func (s *Service) Delete(ctx context.Context, actor *model.Identity, id int64) error {
	if !access.CanDeleteGroups(actor) {
		return model.NewForbiddenError("グループの削除にはadmin以上の権限が必要です")
	}

	g, err := s.groupRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("グループの取得に失敗しました: %w", err)
	}
	if g == nil {
		return model.NewGroupNotFoundError(id)
	}

	if err := s.groupRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("グループの削除に失敗しました: %w", err)
	}

	slog.Info("group deleted",
		slog.Int64("group_id", id),
		slog.Int64("user_id", actor.ID),
	)
	return nil
}
