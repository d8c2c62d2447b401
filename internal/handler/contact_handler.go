package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/contactbook/internal/contact"
	"github.com/hitoshi/contactbook/internal/model"
)

const birthdayLayout = "2006-01-02"

// ContactServiceInterface は連絡先ハンドラーが必要とするサービスインターフェース。
type ContactServiceInterface interface {
	Create(ctx context.Context, actor *model.Identity, in contact.Input) (*contactResponse, error)
	List(ctx context.Context, actor *model.Identity, opts contact.ListOptions) ([]contactResponse, error)
	Search(ctx context.Context, actor *model.Identity, query string) ([]contactResponse, error)
	Get(ctx context.Context, actor *model.Identity, id int64) (*contactResponse, error)
	Update(ctx context.Context, actor *model.Identity, id int64, in contact.UpdateInput) (*contactResponse, error)
	Delete(ctx context.Context, actor *model.Identity, id int64) (*contactResponse, error)
	DeleteAll(ctx context.Context, actor *model.Identity) (int64, error)
	ListGroupedByOwner(ctx context.Context, actor *model.Identity) ([]ownerContactsResponse, error)
	BirthdaysNext7Days(ctx context.Context, actor *model.Identity) ([]contactResponse, error)
	BirthdaysNext12Months(ctx context.Context, actor *model.Identity) ([]contactResponse, error)
}

// ContactHandler は連絡先管理のHTTPハンドラー。
type ContactHandler struct {
	service ContactServiceInterface
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(service ContactServiceInterface) *ContactHandler {
	return &ContactHandler{service: service}
}

// contactRequest は連絡先の作成・更新リクエストのボディ。
// 更新時、phone_numbers/group_idsを省略すると既存の値を維持する。
type contactRequest struct {
	FirstName    string               `json:"first_name"`
	LastName     string               `json:"last_name"`
	Email        string               `json:"email"`
	Birthday     string               `json:"birthday"`
	ExtraInfo    string               `json:"extra_info"`
	PhoneNumbers []phoneNumberRequest `json:"phone_numbers"`
	GroupIDs     []int64              `json:"group_ids"`
}

type phoneNumberRequest struct {
	Number string `json:"number"`
	Label  string `json:"label"`
}

// contactResponse は連絡先情報のAPIレスポンス。
type contactResponse struct {
	ID           int64                 `json:"id"`
	UserID       int64                 `json:"user_id"`
	FirstName    string                `json:"first_name"`
	LastName     string                `json:"last_name"`
	Email        string                `json:"email"`
	Birthday     string                `json:"birthday"`
	ExtraInfo    string                `json:"extra_info"`
	PhoneNumbers []phoneNumberResponse `json:"phone_numbers"`
	Groups       []groupResponse       `json:"groups"`
	Avatars      []imageResponse       `json:"avatars"`
	Photos       []imageResponse       `json:"photos"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type phoneNumberResponse struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Label  string `json:"label"`
}

type imageResponse struct {
	ID       int64  `json:"id"`
	FilePath string `json:"file_path"`
	IsMain   bool   `json:"is_main"`
	Show     bool   `json:"show"`
}

// ownerContactsResponse は所有者ごとの連絡先一覧のAPIレスポンス。
type ownerContactsResponse struct {
	OwnerID  int64             `json:"owner_id"`
	Username string            `json:"username"`
	Contacts []contactResponse `json:"contacts"`
}

// Create は連絡先を作成する。
// POST /contacts
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	in, ok := decodeContactInput(w, r)
	if !ok {
		return
	}

	created, err := h.service.Create(r.Context(), actor, in.Input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// List は連絡先一覧を返す。
// GET /contacts?skip=0&limit=100&search=&sort=asc&owner_id=
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := contact.ListOptions{
		Search: strings.TrimSpace(q.Get("search")),
		Sort:   model.SortOrder(q.Get("sort")),
	}

	var err error
	if opts.Skip, err = queryInt(q.Get("skip"), 0); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("skip", "整数を指定してください"))
		return
	}
	if opts.Limit, err = queryInt(q.Get("limit"), contact.DefaultLimit); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("limit", "整数を指定してください"))
		return
	}
	if raw := q.Get("owner_id"); raw != "" {
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("owner_id", "整数を指定してください"))
			return
		}
		opts.OwnerID = &ownerID
	}

	contacts, err := h.service.List(r.Context(), actor, opts)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// Search は氏名・メールアドレスで連絡先を検索する。
// GET /contacts/search?query=
func (h *ContactHandler) Search(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	contacts, err := h.service.Search(r.Context(), actor, r.URL.Query().Get("query"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// Get は連絡先の詳細を返す。
// GET /contacts/{id}
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Update は連絡先を更新する。
// PUT /contacts/{id}
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := decodeContactInput(w, r)
	if !ok {
		return
	}

	updated, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete は連絡先を削除し、削除した連絡先を返す。
// DELETE /contacts/{id}
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.Delete(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleted)
}

// DeleteAll は呼び出し元の権限で削除可能な連絡先を一括削除する。
// DELETE /contacts
func (h *ContactHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteAll(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// Grouped は所有者ごとにまとめた連絡先一覧を返す。
// GET /contacts/grouped
func (h *ContactHandler) Grouped(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	groups, err := h.service.ListGroupedByOwner(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

// BirthdaysNext7Days は7日以内に誕生日を迎える連絡先を返す。
// GET /contacts/birthdays/next7days
func (h *ContactHandler) BirthdaysNext7Days(w http.ResponseWriter, r *http.Request) {
	h.birthdays(w, r, h.service.BirthdaysNext7Days)
}

// BirthdaysNext12Months は年末までに誕生日を迎える連絡先を返す。
// GET /contacts/birthdays/next12months
func (h *ContactHandler) BirthdaysNext12Months(w http.ResponseWriter, r *http.Request) {
	h.birthdays(w, r, h.service.BirthdaysNext12Months)
}

func (h *ContactHandler) birthdays(
	w http.ResponseWriter,
	r *http.Request,
	list func(context.Context, *model.Identity) ([]contactResponse, error),
) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	contacts, err := list(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// decodeContactInput はリクエストボディを連絡先の入力に変換する。
func decodeContactInput(w http.ResponseWriter, r *http.Request) (contact.UpdateInput, bool) {
	var req contactRequest
	if !decodeJSONBody(w, r, &req) {
		return contact.UpdateInput{}, false
	}

	var birthday time.Time
	if req.Birthday != "" {
		var err error
		birthday, err = time.Parse(birthdayLayout, req.Birthday)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidInputError("birthday", "YYYY-MM-DD形式で指定してください"))
			return contact.UpdateInput{}, false
		}
	}

	phones := make([]contact.PhoneInput, 0, len(req.PhoneNumbers))
	for _, p := range req.PhoneNumbers {
		phones = append(phones, contact.PhoneInput{Number: p.Number, Label: p.Label})
	}

	return contact.UpdateInput{
		Input: contact.Input{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Email:        req.Email,
			Birthday:     birthday,
			ExtraInfo:    req.ExtraInfo,
			PhoneNumbers: phones,
			GroupIDs:     req.GroupIDs,
		},
		ReplacePhones: req.PhoneNumbers != nil,
		ReplaceGroups: req.GroupIDs != nil,
	}, true
}

// queryInt はクエリパラメータを整数に変換する。空の場合はdefを返す。
func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
