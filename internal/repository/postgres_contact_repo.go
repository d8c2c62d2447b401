package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/contactbook/internal/model"
	"github.com/lib/pq"
)

const contactColumns = `id, user_id, first_name, last_name, email, birthday, extra_info, created_at, updated_at`

// birthdayMD は誕生日をmonth*100+dayの整数に変換するSQL式。
const birthdayMD = `(EXTRACT(MONTH FROM birthday) * 100 + EXTRACT(DAY FROM birthday))::int`

// contactChildTables は連絡先削除時に先に削除する子テーブル（削除順）。
var contactChildTables = []string{"phone_numbers", "avatars", "photos", "contact_group"}

// PostgresContactRepo はPostgreSQLを使用した連絡先リポジトリ。
type PostgresContactRepo struct {
	db *sql.DB
}

// NewPostgresContactRepo はPostgresContactRepoを生成する。
func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

// FindByID は指定IDの連絡先を関連データ付きで取得する。見つからない場合はnilを返す。
func (r *PostgresContactRepo) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	contact, err := scanContact(r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}

	contacts := []model.Contact{*contact}
	if err := r.loadRelations(ctx, contacts); err != nil {
		return nil, err
	}
	return &contacts[0], nil
}

// List はスコープ内の連絡先を検索条件に従って返す。
// 検索語はfirst_name、last_name、emailに対する部分一致（大文字小文字を区別しない）。
func (r *PostgresContactRepo) List(ctx context.Context, scope model.ContactScope, query model.ContactQuery) ([]model.Contact, error) {
	direction := "ASC"
	if query.Sort == model.SortDesc {
		direction = "DESC"
	}

	sqlText := fmt.Sprintf(
		`SELECT %s
		 FROM contacts
		 WHERE ($1 OR user_id = $2)
		   AND ($3 = '' OR first_name ILIKE $3 OR last_name ILIKE $3 OR email ILIKE $3)
		 ORDER BY first_name %s, id %s
		 LIMIT NULLIF($4, 0) OFFSET $5`,
		contactColumns, direction, direction,
	)

	limit := query.Limit
	if limit < 0 {
		limit = 0
	}
	skip := query.Skip
	if skip < 0 {
		skip = 0
	}

	rows, err := r.db.QueryContext(ctx, sqlText,
		scope.All, scope.OwnerID, likePattern(query.Search), int64(limit), int64(skip),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return r.collect(ctx, rows)
}

// ListByBirthday はスコープ内で誕生日（月日）がfrom〜toの連絡先を返す。
func (r *PostgresContactRepo) ListByBirthday(ctx context.Context, scope model.ContactScope, from, to int) ([]model.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contactColumns+`
		 FROM contacts
		 WHERE ($1 OR user_id = $2)
		   AND CASE WHEN $3::int <= $4::int
		            THEN `+birthdayMD+` BETWEEN $3::int AND $4::int
		            ELSE `+birthdayMD+` >= $3::int OR `+birthdayMD+` <= $4::int
		       END
		 ORDER BY (`+birthdayMD+` - $3::int + 1300) % 1300, first_name, id`,
		scope.All, scope.OwnerID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts by birthday: %w", err)
	}
	return r.collect(ctx, rows)
}

// Create は連絡先を電話番号・グループ所属と同一トランザクションで作成する。
func (r *PostgresContactRepo) Create(ctx context.Context, contact *model.Contact, groupIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO contacts (user_id, first_name, last_name, email, birthday, extra_info)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		contact.UserID, contact.FirstName, contact.LastName, contact.Email, contact.Birthday, contact.ExtraInfo,
	).Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		return wrapWriteError("failed to insert contact", err)
	}

	if err := insertPhones(ctx, tx, contact); err != nil {
		return err
	}
	if err := linkGroups(ctx, tx, contact.ID, groupIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update は連絡先を更新する。optsの指定に応じて電話番号とグループ所属を置き換える。
func (r *PostgresContactRepo) Update(ctx context.Context, contact *model.Contact, opts ContactUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`UPDATE contacts
		 SET first_name = $2, last_name = $3, email = $4, birthday = $5, extra_info = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		contact.ID, contact.FirstName, contact.LastName, contact.Email, contact.Birthday, contact.ExtraInfo,
	).Scan(&contact.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("contact not found: %d", contact.ID)
	}
	if err != nil {
		return wrapWriteError("failed to update contact", err)
	}

	if opts.ReplacePhones {
		if _, err := tx.ExecContext(ctx, `DELETE FROM phone_numbers WHERE contact_id = $1`, contact.ID); err != nil {
			return fmt.Errorf("failed to delete phone numbers: %w", err)
		}
		if err := insertPhones(ctx, tx, contact); err != nil {
			return err
		}
	}
	if opts.ReplaceGroups {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_group WHERE contact_id = $1`, contact.ID); err != nil {
			return fmt.Errorf("failed to delete group links: %w", err)
		}
		if err := linkGroups(ctx, tx, contact.ID, opts.GroupIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete は連絡先と関連データを削除する。
// 電話番号、アバター、写真、グループ所属を削除してから連絡先本体を削除する。
func (r *PostgresContactRepo) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range contactChildTables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE contact_id = $1`, table), id,
		); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete contact: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByScope はスコープ内の全連絡先と関連データを削除し、削除件数を返す。
func (r *PostgresContactRepo) DeleteByScope(ctx context.Context, scope model.ContactScope) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range contactChildTables {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE contact_id IN (SELECT id FROM contacts WHERE ($1 OR user_id = $2))`, table),
			scope.All, scope.OwnerID,
		); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM contacts WHERE ($1 OR user_id = $2)`,
		scope.All, scope.OwnerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete contacts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, nil
}

// collect は連絡先の行を読み取り、関連データを読み込んで返す。
func (r *PostgresContactRepo) collect(ctx context.Context, rows *sql.Rows) ([]model.Contact, error) {
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	rows.Close()

	if err := r.loadRelations(ctx, contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// loadRelations は電話番号・グループ・アバター・写真をまとめて読み込み、contactsに設定する。
func (r *PostgresContactRepo) loadRelations(ctx context.Context, contacts []model.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	index := make(map[int64]int, len(contacts))
	ids := make([]int64, len(contacts))
	for i, c := range contacts {
		index[c.ID] = i
		ids[i] = c.ID
	}

	// 電話番号
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, contact_id, number, label FROM phone_numbers WHERE contact_id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load phone numbers: %w", err)
	}
	err = eachRow(rows, func(s rowScanner) error {
		var p model.PhoneNumber
		if err := s.Scan(&p.ID, &p.ContactID, &p.Number, &p.Label); err != nil {
			return err
		}
		c := &contacts[index[p.ContactID]]
		c.PhoneNumbers = append(c.PhoneNumbers, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan phone numbers: %w", err)
	}

	// グループ
	rows, err = r.db.QueryContext(ctx,
		`SELECT cg.contact_id, g.id, g.name
		 FROM contact_group cg
		 JOIN groups g ON g.id = cg.group_id
		 WHERE cg.contact_id = ANY($1)
		 ORDER BY g.name`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	err = eachRow(rows, func(s rowScanner) error {
		var contactID int64
		var g model.Group
		if err := s.Scan(&contactID, &g.ID, &g.Name); err != nil {
			return err
		}
		c := &contacts[index[contactID]]
		c.Groups = append(c.Groups, g)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan groups: %w", err)
	}

	// アバター
	rows, err = r.db.QueryContext(ctx,
		`SELECT id, contact_id, file_path, is_main, show FROM avatars WHERE contact_id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load avatars: %w", err)
	}
	err = eachRow(rows, func(s rowScanner) error {
		var a model.Avatar
		if err := s.Scan(&a.ID, &a.ContactID, &a.FilePath, &a.IsMain, &a.Show); err != nil {
			return err
		}
		c := &contacts[index[a.ContactID]]
		c.Avatars = append(c.Avatars, a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan avatars: %w", err)
	}

	// 写真
	rows, err = r.db.QueryContext(ctx,
		`SELECT id, contact_id, file_path, is_main, show FROM photos WHERE contact_id = ANY($1) ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load photos: %w", err)
	}
	err = eachRow(rows, func(s rowScanner) error {
		var p model.Photo
		if err := s.Scan(&p.ID, &p.ContactID, &p.FilePath, &p.IsMain, &p.Show); err != nil {
			return err
		}
		c := &contacts[index[p.ContactID]]
		c.Photos = append(c.Photos, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan photos: %w", err)
	}

	return nil
}

func insertPhones(ctx context.Context, tx *sql.Tx, contact *model.Contact) error {
	for i := range contact.PhoneNumbers {
		p := &contact.PhoneNumbers[i]
		p.ContactID = contact.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO phone_numbers (contact_id, number, label) VALUES ($1, $2, $3) RETURNING id`,
			contact.ID, p.Number, p.Label,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert phone number: %w", err)
		}
	}
	return nil
}

func linkGroups(ctx context.Context, tx *sql.Tx, contactID int64, groupIDs []int64) error {
	for _, groupID := range groupIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contact_group (contact_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			contactID, groupID,
		)
		if err != nil {
			return fmt.Errorf("failed to link group %d: %w", groupID, err)
		}
	}
	return nil
}

func eachRow(rows *sql.Rows, fn func(rowScanner) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanContact(s rowScanner) (*model.Contact, error) {
	c := &model.Contact{}
	err := s.Scan(
		&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Birthday, &c.ExtraInfo,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// likePattern は検索語をILIKE用の部分一致パターンに変換する。空の場合は空文字を返す。
func likePattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + escaped + "%"
}

// compile-time interface check
var _ ContactRepository = (*PostgresContactRepo)(nil)
