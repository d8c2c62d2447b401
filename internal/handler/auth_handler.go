// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/model"
)

// ログイン方式のメトリクスラベル
const (
	loginMethodSession = "session"
	loginMethodToken   = "token"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, error)
	VerifyEmail(ctx context.Context, email, code string) error
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	IssueToken(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain   string
	CookieSecure   bool
	SessionMaxAge  int           // セッションCookieの有効期間（秒）
	AccessTokenTTL time.Duration // access_token Cookieの有効期間
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	config    AuthHandlerConfig
	collector metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		service:   service,
		config:    config,
		collector: collector,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// accountResponse は登録直後のアカウント情報。
type accountResponse struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsVerified bool   `json:"is_verified"`
}

// tokenResponse はアクセストークン発行のレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	tokenResponse
	User *model.Identity `json:"user"`
}

// Signup はユーザー登録を処理する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.service.Signup(r.Context(), auth.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       string(u.Role),
		IsVerified: u.IsVerified,
	})
}

// Verify はメールアドレスの確認コードを検証する。
// POST /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// Login はユーザー名とパスワードで認証し、セッションとアクセストークンのCookieを設定する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.recordLoginFailure(loginMethodSession, err)
		handleServiceError(w, r, err)
		return
	}
	h.collector.RecordLogin(loginMethodSession, metrics.LoginSuccess)

	http.SetCookie(w, h.cookie(auth.SessionCookie, result.Session.ID, h.config.SessionMaxAge))
	http.SetCookie(w, h.cookie(auth.AccessTokenCookie, "Bearer "+result.Token, h.accessTokenMaxAge()))

	slog.Info("user logged in",
		slog.Int64("user_id", result.Identity.ID),
		slog.String("role", string(result.Identity.Role)),
	)

	writeJSON(w, http.StatusOK, loginResponse{
		tokenResponse: tokenResponse{AccessToken: result.Token, TokenType: "bearer"},
		User:          result.Identity,
	})
}

// Token はアクセストークンを発行する。JSONとフォーム形式のどちらのボディも受け付ける。
// POST /token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	req, ok := parseCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.service.IssueToken(r.Context(), req.Username, req.Password)
	if err != nil {
		h.recordLoginFailure(loginMethodToken, err)
		handleServiceError(w, r, err)
		return
	}
	h.collector.RecordLogin(loginMethodToken, metrics.LoginSuccess)

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Logout はセッションを破棄し、認証Cookieをクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, h.cookie(auth.SessionCookie, "", -1))
	http.SetCookie(w, h.cookie(auth.AccessTokenCookie, "", -1))

	w.WriteHeader(http.StatusNoContent)
}

// SessionMe はセッションに保存されたIdentityを返す。
// GET /session/me
func (h *AuthHandler) SessionMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// recordLoginFailure はログイン失敗の種類をメトリクスに記録する。
func (h *AuthHandler) recordLoginFailure(method string, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return
	}
	switch apiErr.Code {
	case model.ErrCodeInvalidCredentials:
		h.collector.RecordLogin(method, metrics.LoginInvalidCredentials)
	case model.ErrCodeForbidden:
		h.collector.RecordLogin(method, metrics.LoginUnverified)
	}
}

func (h *AuthHandler) accessTokenMaxAge() int {
	if h.config.AccessTokenTTL <= 0 {
		return int(auth.DefaultAccessTokenTTL.Seconds())
	}
	return int(h.config.AccessTokenTTL.Seconds())
}

// cookie は認証用のHttpOnly Cookieを生成する。maxAgeが負の場合は削除用。
func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// parseCredentials はJSONまたはフォーム形式のボディからユーザー名とパスワードを取り出す。
func parseCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		ok := decodeJSONBody(w, r, &req)
		return req, ok
	}

	if err := r.ParseForm(); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return req, false
	}
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	return req, true
}
