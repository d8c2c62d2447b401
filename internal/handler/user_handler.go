package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Me は呼び出し元のプロフィールを返す。
	Me(ctx context.Context, actor *model.Identity) (*userProfileResponse, error)
	// UpdateUsername はユーザー名を変更し、再発行したトークンを返す。
	UpdateUsername(ctx context.Context, actor *model.Identity, username string) (*usernameChangeResult, error)
	// UpdatePassword は現在のパスワードを確認してからパスワードを変更する。
	UpdatePassword(ctx context.Context, actor *model.Identity, currentPassword, newPassword string) error
	// RequestPasswordReset はパスワード再設定の案内を送る。
	RequestPasswordReset(ctx context.Context, actor *model.Identity) error
	// ChangeRole は対象ユーザーのロールを変更する。
	ChangeRole(ctx context.Context, actor *model.Identity, targetID int64, role model.Role) (*userResponse, error)
	// ListUsers は全ユーザーを返す。
	ListUsers(ctx context.Context, actor *model.Identity) ([]userResponse, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service      UserServiceInterface
	cookieConfig AuthHandlerConfig
	collector    metrics.MetricsCollector
}

// NewUserHandler はUserHandlerを生成する。
// cookieConfigはユーザー名変更時のaccess_token Cookie設定に使う。
func NewUserHandler(service UserServiceInterface, cookieConfig AuthHandlerConfig, collector metrics.MetricsCollector) *UserHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &UserHandler{
		service:      service,
		cookieConfig: cookieConfig,
		collector:    collector,
	}
}

// userProfileResponse は/users/meのレスポンス。
type userProfileResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// userResponse はユーザー一覧・ロール変更のレスポンス。
type userResponse struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// usernameChangeResult はユーザー名変更の結果。
type usernameChangeResult struct {
	Username string
	Token    string
	TTL      time.Duration
}

type updateUsernameRequest struct {
	Username string `json:"username"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// Me は呼び出し元のプロフィールを返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Me(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// UpdateUsername はユーザー名を変更し、新しいアクセストークンをCookieとボディで返す。
// PATCH /users/update/username
func (h *UserHandler) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateUsernameRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.UpdateUsername(r.Context(), actor, req.Username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    "Bearer " + result.Token,
		Path:     "/",
		Domain:   h.cookieConfig.CookieDomain,
		MaxAge:   int(result.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieConfig.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"username":     result.Username,
		"access_token": result.Token,
		"token_type":   "bearer",
	})
}

// UpdatePassword はパスワードを変更する。
// PATCH /users/update/password
func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updatePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.service.UpdatePassword(r.Context(), actor, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset はパスワード再設定の案内を要求する。
// POST /users/password/reset
func (h *UserHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), actor); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "パスワード再設定の案内を送信しました。",
	})
}

// ListUsers は全ユーザーの一覧を返す。
// GET /users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	users, err := h.service.ListUsers(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// ChangeRole は対象ユーザーのロールを変更する。
// POST /users/{id}/change-role
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req changeRoleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidInputError("role", "user または admin を指定してください"))
		return
	}

	updated, err := h.service.ChangeRole(r.Context(), actor, targetID, role)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	h.collector.RecordRoleChange(string(role))

	writeJSON(w, http.StatusOK, updated)
}
