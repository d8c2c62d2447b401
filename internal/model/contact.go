package model

import "time"

// Contact はアドレス帳のエントリを表す。必ず1人の所有ユーザーを持つ。
type Contact struct {
	ID           int64
	UserID       int64
	FirstName    string
	LastName     string
	Email        string
	Birthday     time.Time
	ExtraInfo    string
	PhoneNumbers []PhoneNumber
	Avatars      []Avatar
	Photos       []Photo
	Groups       []Group
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PhoneNumber は連絡先の電話番号を表す。
type PhoneNumber struct {
	ID        int64
	ContactID int64
	Number    string
	Label     string
}

// Group は連絡先のグループを表す。
type Group struct {
	ID   int64
	Name string
}

// Avatar は連絡先のアバター画像を表す。
type Avatar struct {
	ID        int64
	ContactID int64
	FilePath  string
	IsMain    bool
	Show      bool
}

// Photo は連絡先の写真を表す。
type Photo struct {
	ID        int64
	ContactID int64
	FilePath  string
	IsMain    bool
	Show      bool
}

// SortOrder は連絡先一覧の並び順を表す。
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ContactQuery は連絡先一覧取得の検索条件を表す。
type ContactQuery struct {
	Search string
	Sort   SortOrder
	Skip   int
	Limit  int
}

// OwnerContacts は所有ユーザーごとにまとめた連絡先一覧を表す。
type OwnerContacts struct {
	OwnerID  int64
	Username string
	Contacts []Contact
}

// ContactScope は連絡先クエリの可視範囲を表す。
// Allがtrueの場合は全ユーザーの連絡先、falseの場合はOwnerIDの連絡先のみを対象とする。
type ContactScope struct {
	All     bool
	OwnerID int64
}

// AllContacts は全所有者を対象とするスコープを返す。
func AllContacts() ContactScope {
	return ContactScope{All: true}
}

// OwnedBy は指定ユーザーの連絡先のみを対象とするスコープを返す。
func OwnedBy(ownerID int64) ContactScope {
	return ContactScope{OwnerID: ownerID}
}

// Includes は指定ユーザーの連絡先がスコープに含まれるかを判定する。
func (s ContactScope) Includes(ownerID int64) bool {
	return s.All || s.OwnerID == ownerID
}
