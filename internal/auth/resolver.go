package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/contactbook/internal/model"
)

// Cookie名
const (
	AccessTokenCookie = "access_token"
	SessionCookie     = "session_id"
)

const bearerPrefix = "Bearer "

// ErrUnauthenticated は呼び出し元を特定できなかったことを表す。
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenFromRequest はリクエストからアクセストークンを取り出す。
// 以下の順に探索し、最初に見つかったものを返す。見つからない場合は空文字を返す。
//  1. Authorization: Bearer <token> ヘッダー（スキームは大文字小文字を区別しない）
//  2. "Bearer " で始まる access_token Cookie
//  3. "Bearer " で始まる Authorization ヘッダー値（複数値を含む）
func TokenFromRequest(r *http.Request) string {
	if scheme, param, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok {
		if strings.EqualFold(scheme, "bearer") {
			if token := strings.TrimSpace(param); token != "" {
				return token
			}
		}
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		if token, ok := strings.CutPrefix(cookie.Value, bearerPrefix); ok {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	for _, v := range r.Header.Values("Authorization") {
		if token, ok := strings.CutPrefix(v, bearerPrefix); ok {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	return ""
}

// IdentityProvider はリクエストから呼び出し元のIdentityを解決する。
// 呼び出し元を特定できない場合はErrUnauthenticatedをラップしたエラーを返す。
type IdentityProvider interface {
	Resolve(ctx context.Context, r *http.Request) (*model.Identity, error)
}

// TokenVerifier はアクセストークンを検証する。
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// UserFinder はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// SessionFinder は有効なセッションを検索する。期限切れ・未登録の場合はnilを返す。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// TokenProvider はBearerトークンから呼び出し元を解決する。
// トークンのsubでユーザーを引き直し、現在のユーザーレコードからIdentityを作る。
type TokenProvider struct {
	verifier TokenVerifier
	users    UserFinder
}

// NewTokenProvider はTokenProviderを生成する。
func NewTokenProvider(verifier TokenVerifier, users UserFinder) *TokenProvider {
	return &TokenProvider{verifier: verifier, users: users}
}

// Resolve はIdentityProviderを実装する。
func (p *TokenProvider) Resolve(ctx context.Context, r *http.Request) (*model.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims, err := p.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}

	user, err := p.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find token subject: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown subject", ErrUnauthenticated)
	}

	return model.IdentityOf(user), nil
}

// SessionProvider はsession_id Cookieから呼び出し元を解決する。
// セッションに保存されたログイン時点のスナップショットをそのまま返す。
type SessionProvider struct {
	sessions SessionFinder
}

// NewSessionProvider はSessionProviderを生成する。
func NewSessionProvider(sessions SessionFinder) *SessionProvider {
	return &SessionProvider{sessions: sessions}
}

// Resolve はIdentityProviderを実装する。
func (p *SessionProvider) Resolve(ctx context.Context, r *http.Request) (*model.Identity, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: missing session cookie", ErrUnauthenticated)
	}

	session, err := p.sessions.FindByID(ctx, cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session not found or expired", ErrUnauthenticated)
	}

	return session.Identity(), nil
}

// Resolver は複数のIdentityProviderを順に試し、最初に成功した結果を返す。
type Resolver struct {
	providers []IdentityProvider
}

// NewResolver はResolverを生成する。providersは試行順に指定する。
func NewResolver(providers ...IdentityProvider) *Resolver {
	return &Resolver{providers: providers}
}

// ResolveIdentity はリクエストの呼び出し元を解決する。
// ErrUnauthenticated以外のエラー（ストア障害等）は即座に返す。
func (r *Resolver) ResolveIdentity(ctx context.Context, req *http.Request) (*model.Identity, error) {
	var lastErr error = ErrUnauthenticated
	for _, p := range r.providers {
		identity, err := p.Resolve(ctx, req)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// compile-time interface checks
var (
	_ IdentityProvider = (*TokenProvider)(nil)
	_ IdentityProvider = (*SessionProvider)(nil)
	_ TokenVerifier    = (*TokenIssuer)(nil)
)
