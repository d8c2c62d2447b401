// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/metrics"
	"github.com/hitoshi/contactbook/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに認証済みIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// errNoIdentity はコンテキストにIdentityがない場合のエラー。
var errNoIdentity = errors.New("identity not found in context")

// IdentityResolver はリクエストから認証済みIdentityを解決するインターフェース。
// auth.Resolverが実装する。
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, r *http.Request) (*model.Identity, error)
}

// NewAuthMiddleware はresolverでIdentityを解決し、リクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 UNAUTHENTICATEDとWWW-Authenticate: Bearerを返す。
// providerはメトリクスのラベル（sessionまたはtoken）。
func NewAuthMiddleware(resolver IdentityResolver, provider string, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.ResolveIdentity(r.Context(), r)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					slog.Error("failed to resolve identity",
						slog.String("provider", provider),
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				collector.RecordAuthRejected(provider)
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			SetLogUserID(r.Context(), identity.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, errNoIdentity
	}
	return identity, nil
}

// ContextWithIdentity はコンテキストにIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
