package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/contactbook/internal/model"
)

// GroupServiceInterface はグループハンドラーが必要とするサービスインターフェース。
type GroupServiceInterface interface {
	List(ctx context.Context) ([]groupResponse, error)
	Create(ctx context.Context, actor *model.Identity, name string) (*groupResponse, error)
	Delete(ctx context.Context, actor *model.Identity, id int64) error
}

// GroupHandler はグループ管理のHTTPハンドラー。
type GroupHandler struct {
	service GroupServiceInterface
}

// NewGroupHandler はGroupHandlerを生成する。
func NewGroupHandler(service GroupServiceInterface) *GroupHandler {
	return &GroupHandler{service: service}
}

// groupResponse はグループ情報のAPIレスポンス。
type groupResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// List はグループ一覧を返す。
// GET /groups
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

// Create はグループを作成する。
// POST /groups
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	g, err := h.service.Create(r.Context(), actor, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

// Delete はグループを削除する。
// DELETE /groups/{id}
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
