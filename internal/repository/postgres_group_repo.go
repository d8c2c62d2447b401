package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/contactbook/internal/model"
	"github.com/lib/pq"
)

// PostgresGroupRepo はPostgreSQLを使用したグループリポジトリ。
type PostgresGroupRepo struct {
	db *sql.DB
}

// NewPostgresGroupRepo はPostgresGroupRepoを生成する。
func NewPostgresGroupRepo(db *sql.DB) *PostgresGroupRepo {
	return &PostgresGroupRepo{db: db}
}

// List は全グループを名前順に返す。
func (r *PostgresGroupRepo) List(ctx context.Context) ([]model.Group, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return collectGroups(rows)
}

// FindByID は指定IDのグループを取得する。見つからない場合はnilを返す。
func (r *PostgresGroupRepo) FindByID(ctx context.Context, id int64) (*model.Group, error) {
	g := &model.Group{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return g, nil
}

// FindByIDs は指定IDのうち存在するグループを返す。
func (r *PostgresGroupRepo) FindByIDs(ctx context.Context, ids []int64) ([]model.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM groups WHERE id = ANY($1) ORDER BY name`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find groups: %w", err)
	}
	return collectGroups(rows)
}

// Create はグループを作成し、採番されたIDをgroupに設定する。
func (r *PostgresGroupRepo) Create(ctx context.Context, group *model.Group) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO groups (name) VALUES ($1) RETURNING id`,
		group.Name,
	).Scan(&group.ID)
	if err != nil {
		return wrapWriteError("failed to create group", err)
	}
	return nil
}

// Delete はグループと連絡先との関連を同一トランザクションで削除する。
func (r *PostgresGroupRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_group WHERE group_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete group links: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if err := requireAffected(result, "group", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func collectGroups(rows *sql.Rows) ([]model.Group, error) {
	var groups []model.Group
	err := eachRow(rows, func(s rowScanner) error {
		var g model.Group
		if err := s.Scan(&g.ID, &g.Name); err != nil {
			return err
		}
		groups = append(groups, g)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan groups: %w", err)
	}
	return groups, nil
}

// compile-time interface check
var _ GroupRepository = (*PostgresGroupRepo)(nil)
