// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role はユーザーの権限階層を表す。user < admin < superadmin の全順序を持つ。
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// ParseRole は文字列をRoleに変換する。未知の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Rank は権限階層上の順位を返す。未知のロールは0。
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperadmin:
		return 3
	default:
		return 0
	}
}

// AtLeast はrがotherと同等以上の権限を持つかを判定する。
func (r Role) AtLeast(other Role) bool {
	return r.Rank() > 0 && r.Rank() >= other.Rank()
}

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID               int64
	Username         string
	Email            string
	HashedPassword   string
	Role             Role
	IsVerified       bool
	VerificationCode string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Identity は認証済みの呼び出し元を表す。
// セッションとトークンのどちらから解決されても同じ形になる。
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// IdentityOf はユーザーレコードからIdentityを生成する。
func IdentityOf(u *User) *Identity {
	return &Identity{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// Session はユーザーのログインセッションを表す。
// ログイン時点のユーザー情報のスナップショットを保持する。
type Session struct {
	ID        string
	UserID    int64
	Username  string
	Email     string
	Role      Role
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Identity はセッションのスナップショットからIdentityを返す。
func (s *Session) Identity() *Identity {
	return &Identity{
		ID:       s.UserID,
		Username: s.Username,
		Email:    s.Email,
		Role:     s.Role,
	}
}

// UserAvatar はユーザーのアバター画像を表す。
// 画像そのものは外部の画像ホスティングに置かれ、ここではパスのみ保持する。
type UserAvatar struct {
	ID         int64
	UserID     int64
	FilePath   string
	IsMain     bool
	IsApproved bool
}
