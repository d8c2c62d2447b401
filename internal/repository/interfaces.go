// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/contactbook/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key value")

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーは物理削除しない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// List は全ユーザーをID順に返す。
	List(ctx context.Context) ([]*model.User, error)
	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	// username/emailの重複時はErrDuplicateをラップしたエラーを返す。
	Create(ctx context.Context, user *model.User) error
	// UpdateUsername はユーザー名を変更する。
	UpdateUsername(ctx context.Context, id int64, username string) error
	// UpdatePassword はパスワードハッシュを変更する。
	UpdatePassword(ctx context.Context, id int64, hashedPassword string) error
	// UpdateRole はロールを変更する。
	UpdateRole(ctx context.Context, id int64, role model.Role) error
	// MarkVerified はメールアドレス確認済みにし、確認コードを破棄する。
	MarkVerified(ctx context.Context, id int64) error
}

// UserAvatarRepository はユーザーアバターの参照インターフェース。
type UserAvatarRepository interface {
	// ListByUserID はユーザーのアバターをID順に返す。
	ListByUserID(ctx context.Context, userID int64) ([]model.UserAvatar, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
}

// ContactUpdate は連絡先更新時に関連データを置き換えるかを指定する。
// ReplacePhonesがtrueの場合はcontact.PhoneNumbersで電話番号を置き換える。
// ReplaceGroupsがtrueの場合はGroupIDsでグループ所属を置き換える。
type ContactUpdate struct {
	ReplacePhones bool
	ReplaceGroups bool
	GroupIDs      []int64
}

// ContactRepository は連絡先データの永続化インターフェース。
// 取得系は電話番号・グループ・アバター・写真を含めて返す。
type ContactRepository interface {
	// FindByID は指定IDの連絡先を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Contact, error)
	// List はスコープ内の連絡先を検索条件に従って返す。
	// Limitが0以下の場合は件数を制限しない。
	List(ctx context.Context, scope model.ContactScope, query model.ContactQuery) ([]model.Contact, error)
	// ListByBirthday はスコープ内で誕生日（月日）がfrom〜toの連絡先を返す。
	// 月日はmonth*100+dayで表し、from > toの場合は年末をまたぐ範囲として扱う。
	// 結果はfromから数えた月日順に並ぶ。
	ListByBirthday(ctx context.Context, scope model.ContactScope, from, to int) ([]model.Contact, error)
	// Create は連絡先を電話番号・グループ所属と同一トランザクションで作成する。
	// emailの重複時はErrDuplicateをラップしたエラーを返す。
	Create(ctx context.Context, contact *model.Contact, groupIDs []int64) error
	// Update は連絡先を更新する。
	Update(ctx context.Context, contact *model.Contact, opts ContactUpdate) error
	// Delete は連絡先と関連データを削除する。対象がなければfalseを返す。
	Delete(ctx context.Context, id int64) (bool, error)
	// DeleteByScope はスコープ内の全連絡先と関連データを削除し、削除件数を返す。
	DeleteByScope(ctx context.Context, scope model.ContactScope) (int64, error)
}

// GroupRepository はグループデータの永続化インターフェース。
type GroupRepository interface {
	// List は全グループを名前順に返す。
	List(ctx context.Context) ([]model.Group, error)
	// FindByID は指定IDのグループを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Group, error)
	// FindByIDs は指定IDのうち存在するグループを返す。
	FindByIDs(ctx context.Context, ids []int64) ([]model.Group, error)
	// Create はグループを作成する。名前の重複時はErrDuplicateをラップしたエラーを返す。
	Create(ctx context.Context, group *model.Group) error
	// Delete はグループと連絡先との関連を削除する。
	Delete(ctx context.Context, id int64) error
}
