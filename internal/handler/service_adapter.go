package handler

import (
	"context"

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/contact"
	"github.com/hitoshi/contactbook/internal/group"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/hitoshi/contactbook/internal/user"
)

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Me は呼び出し元のプロフィールをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) Me(ctx context.Context, actor *model.Identity) (*userProfileResponse, error) {
	p, err := a.svc.Me(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &userProfileResponse{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		Role:      string(p.Role),
		AvatarURL: p.AvatarURL,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

// UpdateUsername はユーザー名を変更する。
func (a *UserServiceAdapter) UpdateUsername(ctx context.Context, actor *model.Identity, username string) (*usernameChangeResult, error) {
	change, err := a.svc.UpdateUsername(ctx, actor, username)
	if err != nil {
		return nil, err
	}
	return &usernameChangeResult{
		Username: change.Username,
		Token:    change.Token,
		TTL:      change.TTL,
	}, nil
}

// UpdatePassword はパスワードを変更する。
func (a *UserServiceAdapter) UpdatePassword(ctx context.Context, actor *model.Identity, currentPassword, newPassword string) error {
	return a.svc.UpdatePassword(ctx, actor, currentPassword, newPassword)
}

// RequestPasswordReset はパスワード再設定の案内を送る。
func (a *UserServiceAdapter) RequestPasswordReset(ctx context.Context, actor *model.Identity) error {
	return a.svc.RequestPasswordReset(ctx, actor)
}

// ChangeRole はロールを変更し、更新後のユーザーをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) ChangeRole(ctx context.Context, actor *model.Identity, targetID int64, role model.Role) (*userResponse, error) {
	u, err := a.svc.ChangeRole(ctx, actor, targetID, role)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

// ListUsers はユーザー一覧をhandlerレスポンス型で返す。
func (a *UserServiceAdapter) ListUsers(ctx context.Context, actor *model.Identity) ([]userResponse, error) {
	users, err := a.svc.ListUsers(ctx, actor)
	if err != nil {
		return nil, err
	}
	results := make([]userResponse, len(users))
	for i, u := range users {
		results[i] = toUserResponse(u)
	}
	return results, nil
}

// toUserResponse はドメインのUserをhandlerのレスポンス型に変換する。
// パスワードハッシュと確認コードは含めない。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       string(u.Role),
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

// ContactServiceAdapter は contact.Service を ContactServiceInterface に適合させるアダプタ。
type ContactServiceAdapter struct {
	svc *contact.Service
}

// NewContactServiceAdapter はContactServiceAdapterを生成する。
func NewContactServiceAdapter(svc *contact.Service) *ContactServiceAdapter {
	return &ContactServiceAdapter{svc: svc}
}

// Create は連絡先を作成する。
func (a *ContactServiceAdapter) Create(ctx context.Context, actor *model.Identity, in contact.Input) (*contactResponse, error) {
	return single(a.svc.Create(ctx, actor, in))
}

// List は連絡先一覧を返す。
func (a *ContactServiceAdapter) List(ctx context.Context, actor *model.Identity, opts contact.ListOptions) ([]contactResponse, error) {
	return many(a.svc.List(ctx, actor, opts))
}

// Search は連絡先を検索する。
func (a *ContactServiceAdapter) Search(ctx context.Context, actor *model.Identity, query string) ([]contactResponse, error) {
	return many(a.svc.Search(ctx, actor, query))
}

// Get は連絡先を取得する。
func (a *ContactServiceAdapter) Get(ctx context.Context, actor *model.Identity, id int64) (*contactResponse, error) {
	return single(a.svc.Get(ctx, actor, id))
}

// Update は連絡先を更新する。
func (a *ContactServiceAdapter) Update(ctx context.Context, actor *model.Identity, id int64, in contact.UpdateInput) (*contactResponse, error) {
	return single(a.svc.Update(ctx, actor, id, in))
}

// Delete は連絡先を削除する。
func (a *ContactServiceAdapter) Delete(ctx context.Context, actor *model.Identity, id int64) (*contactResponse, error) {
	return single(a.svc.Delete(ctx, actor, id))
}

// DeleteAll は連絡先を一括削除する。
func (a *ContactServiceAdapter) DeleteAll(ctx context.Context, actor *model.Identity) (int64, error) {
	return a.svc.DeleteAll(ctx, actor)
}

// ListGroupedByOwner は所有者ごとの連絡先一覧を返す。
func (a *ContactServiceAdapter) ListGroupedByOwner(ctx context.Context, actor *model.Identity) ([]ownerContactsResponse, error) {
	groups, err := a.svc.ListGroupedByOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	results := make([]ownerContactsResponse, len(groups))
	for i, g := range groups {
		contacts := make([]contactResponse, len(g.Contacts))
		for j := range g.Contacts {
			contacts[j] = toContactResponse(&g.Contacts[j])
		}
		results[i] = ownerContactsResponse{
			OwnerID:  g.OwnerID,
			Username: g.Username,
			Contacts: contacts,
		}
	}
	return results, nil
}

// BirthdaysNext7Days は7日以内に誕生日を迎える連絡先を返す。
func (a *ContactServiceAdapter) BirthdaysNext7Days(ctx context.Context, actor *model.Identity) ([]contactResponse, error) {
	return many(a.svc.BirthdaysNext7Days(ctx, actor))
}

// BirthdaysNext12Months は年末までに誕生日を迎える連絡先を返す。
func (a *ContactServiceAdapter) BirthdaysNext12Months(ctx context.Context, actor *model.Identity) ([]contactResponse, error) {
	return many(a.svc.BirthdaysNext12Months(ctx, actor))
}

func single(c *model.Contact, err error) (*contactResponse, error) {
	if err != nil {
		return nil, err
	}
	resp := toContactResponse(c)
	return &resp, nil
}

func many(contacts []model.Contact, err error) ([]contactResponse, error) {
	if err != nil {
		return nil, err
	}
	results := make([]contactResponse, len(contacts))
	for i := range contacts {
		results[i] = toContactResponse(&contacts[i])
	}
	return results, nil
}

// toContactResponse はドメインのContactをhandlerのレスポンス型に変換する。
func toContactResponse(c *model.Contact) contactResponse {
	resp := contactResponse{
		ID:           c.ID,
		UserID:       c.UserID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Email,
		ExtraInfo:    c.ExtraInfo,
		PhoneNumbers: make([]phoneNumberResponse, len(c.PhoneNumbers)),
		Groups:       make([]groupResponse, len(c.Groups)),
		Avatars:      make([]imageResponse, 0, len(c.Avatars)),
		Photos:       make([]imageResponse, 0, len(c.Photos)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if !c.Birthday.IsZero() {
		resp.Birthday = c.Birthday.Format(birthdayLayout)
	}
	for i, p := range c.PhoneNumbers {
		resp.PhoneNumbers[i] = phoneNumberResponse{ID: p.ID, Number: p.Number, Label: p.Label}
	}
	for i, g := range c.Groups {
		resp.Groups[i] = groupResponse{ID: g.ID, Name: g.Name}
	}
	for _, a := range c.Avatars {
		resp.Avatars = append(resp.Avatars, imageResponse{ID: a.ID, FilePath: a.FilePath, IsMain: a.IsMain, Show: a.Show})
	}
	for _, p := range c.Photos {
		resp.Photos = append(resp.Photos, imageResponse{ID: p.ID, FilePath: p.FilePath, IsMain: p.IsMain, Show: p.Show})
	}
	return resp
}

// GroupServiceAdapter は group.Service を GroupServiceInterface に適合させるアダプタ。
type GroupServiceAdapter struct {
	svc *group.Service
}

// NewGroupServiceAdapter はGroupServiceAdapterを生成する。
func NewGroupServiceAdapter(svc *group.Service) *GroupServiceAdapter {
	return &GroupServiceAdapter{svc: svc}
}

// List はグループ一覧を返す。
func (a *GroupServiceAdapter) List(ctx context.Context) ([]groupResponse, error) {
	groups, err := a.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]groupResponse, len(groups))
	for i, g := range groups {
		results[i] = groupResponse{ID: g.ID, Name: g.Name}
	}
	return results, nil
}

// Create はグループを作成する。
func (a *GroupServiceAdapter) Create(ctx context.Context, actor *model.Identity, name string) (*groupResponse, error) {
	g, err := a.svc.Create(ctx, actor, name)
	if err != nil {
		return nil, err
	}
	return &groupResponse{ID: g.ID, Name: g.Name}, nil
}

// Delete はグループを削除する。
func (a *GroupServiceAdapter) Delete(ctx context.Context, actor *model.Identity, id int64) error {
	return a.svc.Delete(ctx, actor, id)
}

var (
	_ AuthServiceInterface    = (*auth.Service)(nil)
	_ UserServiceInterface    = (*UserServiceAdapter)(nil)
	_ ContactServiceInterface = (*ContactServiceAdapter)(nil)
	_ GroupServiceInterface   = (*GroupServiceAdapter)(nil)
)
