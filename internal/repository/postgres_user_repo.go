package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/contactbook/internal/model"
)

const userColumns = `id, username, email, hashed_password, role, is_verified,
	COALESCE(verification_code, ''), created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, by, query string, arg interface{}) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s: %w", by, err)
	}
	return user, nil
}

// List は全ユーザーをID順に返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, hashed_password, role, is_verified, verification_code)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		 RETURNING id, created_at, updated_at`,
		user.Username, user.Email, user.HashedPassword, string(user.Role), user.IsVerified, user.VerificationCode,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapWriteError("failed to create user", err)
	}
	return nil
}

// UpdateUsername はユーザー名を変更する。
func (r *PostgresUserRepo) UpdateUsername(ctx context.Context, id int64, username string) error {
	return r.update(ctx, "username",
		`UPDATE users SET username = $2, updated_at = now() WHERE id = $1`, id, username)
}

// UpdatePassword はパスワードハッシュを変更する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id int64, hashedPassword string) error {
	return r.update(ctx, "password",
		`UPDATE users SET hashed_password = $2, updated_at = now() WHERE id = $1`, id, hashedPassword)
}

// UpdateRole はロールを変更する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id int64, role model.Role) error {
	return r.update(ctx, "role",
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, string(role))
}

// MarkVerified はメールアドレス確認済みにし、確認コードを破棄する。
func (r *PostgresUserRepo) MarkVerified(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_verified = TRUE, verification_code = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	return requireAffected(result, "user", id)
}

func (r *PostgresUserRepo) update(ctx context.Context, field, query string, id int64, value interface{}) error {
	result, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return wrapWriteError("failed to update user "+field, err)
	}
	return requireAffected(result, "user", id)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	err := s.Scan(
		&user.ID, &user.Username, &user.Email, &user.HashedPassword, &role, &user.IsVerified,
		&user.VerificationCode, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

// requireAffected は更新対象が存在しなかった場合にエラーを返す。
func requireAffected(result sql.Result, entity string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
