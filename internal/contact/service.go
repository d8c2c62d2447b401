// Package contact は連絡先管理のドメインロジックを提供する。
// 一覧・検索・誕生日系の取得は全て呼び出し元の可視範囲（access.ListScope）で絞り込む。
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/contactbook/internal/access"
	"github.com/hitoshi/contactbook/internal/model"
	"github.com/hitoshi/contactbook/internal/repository"
	"github.com/hitoshi/contactbook/internal/security"
)

// 一覧取得の件数制限
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// 入力値の制約
const (
	maxNameLength     = 100
	maxLabelLength    = 50
	minPhoneLength    = 2
	maxPhoneLength    = 32
	birthdayWindow    = 7 // 日
	lastDayOfYearCode = 1231
)

var phonePattern = regexp.MustCompile(`^[0-9\-+() ]+$`)

// OwnerLister は所有者別一覧のためにユーザー一覧を取得する。
type OwnerLister interface {
	List(ctx context.Context) ([]*model.User, error)
}

// PhoneInput は電話番号の入力。
type PhoneInput struct {
	Number string
	Label  string
}

// Input は連絡先の作成・更新の入力。
type Input struct {
	FirstName    string
	LastName     string
	Email        string
	Birthday     time.Time
	ExtraInfo    string
	PhoneNumbers []PhoneInput
	GroupIDs     []int64
}

// UpdateInput は連絡先更新の入力。
// ReplacePhones/ReplaceGroupsがfalseの場合、既存の電話番号・グループ所属を維持する。
type UpdateInput struct {
	Input
	ReplacePhones bool
	ReplaceGroups bool
}

// ListOptions は連絡先一覧の取得条件。
// OwnerIDはsuperadminの場合のみ有効で、それ以外では無視される。
type ListOptions struct {
	Search  string
	Sort    model.SortOrder
	Skip    int
	Limit   int
	OwnerID *int64
}

// Service は連絡先管理のサービス層。
type Service struct {
	contactRepo repository.ContactRepository
	groupRepo   repository.GroupRepository
	owners      OwnerLister
	sanitizer   security.TextSanitizer
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	contactRepo repository.ContactRepository,
	groupRepo repository.GroupRepository,
	owners OwnerLister,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		contactRepo: contactRepo,
		groupRepo:   groupRepo,
		owners:      owners,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// Create は呼び出し元を所有者として連絡先を作成する。
func (s *Service) Create(ctx context.Context, actor *model.Identity, in Input) (*model.Contact, error) {
	c, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	c.UserID = actor.ID

	groupIDs := uniqueIDs(in.GroupIDs)
	groups, err := s.resolveGroups(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	if err := s.contactRepo.Create(ctx, c, groupIDs); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewContactEmailTakenError()
		}
		return nil, fmt.Errorf("連絡先の作成に失敗しました: %w", err)
	}
	c.Groups = groups

	slog.Info("contact created",
		slog.Int64("contact_id", c.ID),
		slog.Int64("user_id", actor.ID),
	)
	return c, nil
}

// List は呼び出し元の可視範囲で連絡先一覧を返す。
func (s *Service) List(ctx context.Context, actor *model.Identity, opts ListOptions) ([]model.Contact, error) {
	sortOrder := model.SortAsc
	if opts.Sort == model.SortDesc {
		sortOrder = model.SortDesc
	}

	contacts, err := s.contactRepo.List(ctx, access.ListScope(actor, opts.OwnerID), model.ContactQuery{
		Search: opts.Search,
		Sort:   sortOrder,
		Skip:   max(opts.Skip, 0),
		Limit:  clampLimit(opts.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("連絡先一覧の取得に失敗しました: %w", err)
	}
	return contacts, nil
}

// Search は氏名・メールアドレスの部分一致で連絡先を検索する。
func (s *Service) Search(ctx context.Context, actor *model.Identity, query string) ([]model.Contact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewInvalidInputError("query", "検索語を指定してください")
	}
	return s.List(ctx, actor, ListOptions{Search: query})
}

// Get は連絡先を取得する。存在しなければNotFound、参照権限がなければForbiddenを返す。
func (s *Service) Get(ctx context.Context, actor *model.Identity, id int64) (*model.Contact, error) {
	c, err := s.contactRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("連絡先の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewContactNotFoundError(id)
	}
	if !access.CanAccessContact(actor, c.UserID) {
		return nil, model.NewForbiddenError("この連絡先へのアクセス権がありません")
	}
	return c, nil
}

// Update は連絡先を更新する。所有者は変更しない。
func (s *Service) Update(ctx context.Context, actor *model.Identity, id int64, in UpdateInput) (*model.Contact, error) {
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	c, err := s.normalize(in.Input)
	if err != nil {
		return nil, err
	}
	c.ID = current.ID
	c.UserID = current.UserID

	opts := repository.ContactUpdate{
		ReplacePhones: in.ReplacePhones,
		ReplaceGroups: in.ReplaceGroups,
	}
	if in.ReplaceGroups {
		opts.GroupIDs = uniqueIDs(in.GroupIDs)
		if _, err := s.resolveGroups(ctx, opts.GroupIDs); err != nil {
			return nil, err
		}
	}

	if err := s.contactRepo.Update(ctx, c, opts); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewContactEmailTakenError()
		}
		return nil, fmt.Errorf("連絡先の更新に失敗しました: %w", err)
	}

	updated, err := s.contactRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("連絡先の再取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewContactNotFoundError(id)
	}
	return updated, nil
}

// Delete は連絡先と関連データを削除し、削除した連絡先を返す。
func (s *Service) Delete(ctx context.Context, actor *model.Identity, id int64) (*model.Contact, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	deleted, err := s.contactRepo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("連絡先の削除に失敗しました: %w", err)
	}
	if !deleted {
		return nil, model.NewContactNotFoundError(id)
	}

	slog.Info("contact deleted",
		slog.Int64("contact_id", id),
		slog.Int64("user_id", actor.ID),
	)
	return c, nil
}

// DeleteAll は呼び出し元の一括削除範囲（access.BulkDeleteScope）の連絡先を全て削除する。
func (s *Service) DeleteAll(ctx context.Context, actor *model.Identity) (int64, error) {
	scope := access.BulkDeleteScope(actor)
	deleted, err := s.contactRepo.DeleteByScope(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("連絡先の一括削除に失敗しました: %w", err)
	}

	slog.Info("contacts bulk deleted",
		slog.Int64("user_id", actor.ID),
		slog.Bool("all_owners", scope.All),
		slog.Int64("deleted_count", deleted),
	)
	return deleted, nil
}

// ListGroupedByOwner は所有者ごとにまとめた連絡先一覧を返す。
// admin以上は連絡先を持たないユーザーも含め全ユーザー分、userは自分の分のみ。
func (s *Service) ListGroupedByOwner(ctx context.Context, actor *model.Identity) ([]model.OwnerContacts, error) {
	scope := access.GroupedScope(actor)
	query := model.ContactQuery{Sort: model.SortAsc}

	if !scope.All {
		contacts, err := s.contactRepo.List(ctx, scope, query)
		if err != nil {
			return nil, fmt.Errorf("連絡先一覧の取得に失敗しました: %w", err)
		}
		return []model.OwnerContacts{{
			OwnerID:  actor.ID,
			Username: actor.Username,
			Contacts: contacts,
		}}, nil
	}

	users, err := s.owners.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	contacts, err := s.contactRepo.List(ctx, scope, query)
	if err != nil {
		return nil, fmt.Errorf("連絡先一覧の取得に失敗しました: %w", err)
	}

	byOwner := make(map[int64][]model.Contact, len(users))
	for _, c := range contacts {
		byOwner[c.UserID] = append(byOwner[c.UserID], c)
	}

	groups := make([]model.OwnerContacts, 0, len(users))
	for _, u := range users {
		groups = append(groups, model.OwnerContacts{
			OwnerID:  u.ID,
			Username: u.Username,
			Contacts: byOwner[u.ID],
		})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].OwnerID < groups[j].OwnerID })
	return groups, nil
}

// BirthdaysNext7Days は今日から7日後までに誕生日を迎える連絡先を返す。年末をまたぐ範囲にも対応する。
func (s *Service) BirthdaysNext7Days(ctx context.Context, actor *model.Identity) ([]model.Contact, error) {
	today := s.now()
	from := monthDay(today)
	to := monthDay(today.AddDate(0, 0, birthdayWindow))

	contacts, err := s.contactRepo.ListByBirthday(ctx, access.ListScope(actor, nil), from, to)
	if err != nil {
		return nil, fmt.Errorf("誕生日一覧の取得に失敗しました: %w", err)
	}
	return contacts, nil
}

// BirthdaysNext12Months は今日から年末までに誕生日を迎える連絡先を月日順に返す。
func (s *Service) BirthdaysNext12Months(ctx context.Context, actor *model.Identity) ([]model.Contact, error) {
	contacts, err := s.contactRepo.ListByBirthday(ctx, access.ListScope(actor, nil), monthDay(s.now()), lastDayOfYearCode)
	if err != nil {
		return nil, fmt.Errorf("誕生日一覧の取得に失敗しました: %w", err)
	}
	return contacts, nil
}

// normalize は入力を検証・サニタイズして連絡先モデルに変換する。
func (s *Service) normalize(in Input) (*model.Contact, error) {
	firstName := s.sanitizer.SanitizeText(in.FirstName)
	if firstName == "" {
		return nil, model.NewInvalidInputError("first_name", "名は必須です")
	}
	if utf8.RuneCountInString(firstName) > maxNameLength {
		return nil, model.NewInvalidInputError("first_name", fmt.Sprintf("%d文字以内で指定してください", maxNameLength))
	}
	lastName := s.sanitizer.SanitizeText(in.LastName)
	if utf8.RuneCountInString(lastName) > maxNameLength {
		return nil, model.NewInvalidInputError("last_name", fmt.Sprintf("%d文字以内で指定してください", maxNameLength))
	}

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewInvalidInputError("email", "メールアドレスの形式が正しくありません")
	}
	if in.Birthday.IsZero() {
		return nil, model.NewInvalidInputError("birthday", "誕生日は必須です")
	}

	phones := make([]model.PhoneNumber, 0, len(in.PhoneNumbers))
	for _, p := range in.PhoneNumbers {
		number, err := NormalizePhoneNumber(p.Number)
		if err != nil {
			return nil, err
		}
		label := s.sanitizer.SanitizeText(p.Label)
		if utf8.RuneCountInString(label) > maxLabelLength {
			return nil, model.NewInvalidInputError("label", fmt.Sprintf("%d文字以内で指定してください", maxLabelLength))
		}
		phones = append(phones, model.PhoneNumber{Number: number, Label: label})
	}

	return &model.Contact{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		Birthday:     time.Date(in.Birthday.Year(), in.Birthday.Month(), in.Birthday.Day(), 0, 0, 0, 0, time.UTC),
		ExtraInfo:    s.sanitizer.SanitizeText(in.ExtraInfo),
		PhoneNumbers: phones,
	}, nil
}

// resolveGroups は指定IDのグループが全て存在することを確認する。
func (s *Service) resolveGroups(ctx context.Context, ids []int64) ([]model.Group, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	groups, err := s.groupRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("グループの取得に失敗しました: %w", err)
	}
	found := make(map[int64]bool, len(groups))
	for _, g := range groups {
		found[g.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, model.NewGroupNotFoundError(id)
		}
	}
	return groups, nil
}

// NormalizePhoneNumber は電話番号の前後の空白を除去し、形式を検証する。
// 2〜32文字で、数字・空白・+ - ( ) のみを許可する。
func NormalizePhoneNumber(raw string) (string, error) {
	number := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(number)
	if n < minPhoneLength || n > maxPhoneLength {
		return "", model.NewInvalidInputError("phone_numbers",
			fmt.Sprintf("電話番号は%d〜%d文字で指定してください", minPhoneLength, maxPhoneLength))
	}
	if !phonePattern.MatchString(number) {
		return "", model.NewInvalidInputError("phone_numbers", "電話番号に使用できるのは数字、空白、+ - ( ) のみです")
	}
	return number, nil
}

// monthDay は日付をmonth*100+dayの整数に変換する。
func monthDay(t time.Time) int {
	return int(t.Month())*100 + t.Day()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
