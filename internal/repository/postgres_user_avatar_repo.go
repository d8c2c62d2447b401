package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/contactbook/internal/model"
)

// PostgresUserAvatarRepo はPostgreSQLを使用したユーザーアバターリポジトリ。
type PostgresUserAvatarRepo struct {
	db *sql.DB
}

// NewPostgresUserAvatarRepo はPostgresUserAvatarRepoを生成する。
func NewPostgresUserAvatarRepo(db *sql.DB) *PostgresUserAvatarRepo {
	return &PostgresUserAvatarRepo{db: db}
}

// ListByUserID はユーザーのアバターをID順に返す。
func (r *PostgresUserAvatarRepo) ListByUserID(ctx context.Context, userID int64) ([]model.UserAvatar, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, file_path, is_main, is_approved
		 FROM user_avatars
		 WHERE user_id = $1
		 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user avatars: %w", err)
	}
	defer rows.Close()

	var avatars []model.UserAvatar
	for rows.Next() {
		var a model.UserAvatar
		if err := rows.Scan(&a.ID, &a.UserID, &a.FilePath, &a.IsMain, &a.IsApproved); err != nil {
			return nil, fmt.Errorf("failed to scan user avatar: %w", err)
		}
		avatars = append(avatars, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user avatars: %w", err)
	}
	return avatars, nil
}

// compile-time interface check
var _ UserAvatarRepository = (*PostgresUserAvatarRepo)(nil)
