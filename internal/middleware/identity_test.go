package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/contactbook/internal/auth"
	"github.com/hitoshi/contactbook/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	resolveFn func(ctx context.Context, r *http.Request) (*model.Identity, error)
}

func (m *mockResolver) ResolveIdentity(ctx context.Context, r *http.Request) (*model.Identity, error) {
	return m.resolveFn(ctx, r)
}

func resolverReturning(identity *model.Identity, err error) *mockResolver {
	return &mockResolver{
		resolveFn: func(context.Context, *http.Request) (*model.Identity, error) {
			return identity, err
		},
	}
}

// --- テスト ---

func TestAuthMiddleware_InjectsIdentity(t *testing.T) {
	want := &model.Identity{ID: 7, Username: "alice", Email: "alice@example.com", Role: model.RoleAdmin}
	collector := &recordingCollector{}

	var got *model.Identity
	handler := NewAuthMiddleware(resolverReturning(want, nil), "token", collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := IdentityFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		got = identity
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
	if len(collector.rejected) != 0 {
		t.Errorf("rejected = %v, want none", collector.rejected)
	}
}

func TestAuthMiddleware_Unauthenticated_Returns401(t *testing.T) {
	collector := &recordingCollector{}
	handler := NewAuthMiddleware(resolverReturning(nil, auth.ErrUnauthenticated), "session", collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/session/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeUnauthenticated {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
	}
	if len(collector.rejected) != 1 || collector.rejected[0] != "session" {
		t.Errorf("rejected = %v, want [session]", collector.rejected)
	}
}

func TestAuthMiddleware_StoreError_Returns500(t *testing.T) {
	collector := &recordingCollector{}
	handler := NewAuthMiddleware(resolverReturning(nil, errors.New("db down")), "token", collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contacts", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if len(collector.rejected) != 0 {
		t.Errorf("ストア障害は認証拒否として記録しない: %v", collector.rejected)
	}
}

func TestIdentityFromContext_Missing(t *testing.T) {
	if _, err := IdentityFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
}

// TestAuthMiddleware_WithRealResolver は期限切れトークンではAPIが401になる一方、
// セッションCookieではセッションルートが引き続き利用できることを検証する。
func TestAuthMiddleware_WithRealResolver(t *testing.T) {
	user := &model.User{ID: 5, Username: "alice", Email: "alice@example.com", Role: model.RoleUser}
	identity := model.IdentityOf(user)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte("test-secret")})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	expired, err := issuer.IssueWithTTL(auth.NewClaims(identity), -time.Minute)
	if err != nil {
		t.Fatalf("IssueWithTTL: %v", err)
	}

	users := userFinderFunc(func(_ context.Context, username string) (*model.User, error) {
		if username == user.Username {
			return user, nil
		}
		return nil, nil
	})
	sessions := sessionFinderFunc(func(_ context.Context, id string) (*model.Session, error) {
		if id == "sess-1" {
			return &model.Session{ID: id, UserID: user.ID, Username: user.Username, Email: user.Email, Role: user.Role}, nil
		}
		return nil, nil
	})

	tokenMW := NewAuthMiddleware(auth.NewResolver(auth.NewTokenProvider(issuer, users)), "token", &recordingCollector{})
	sessionMW := NewAuthMiddleware(auth.NewResolver(auth.NewSessionProvider(sessions)), "session", &recordingCollector{})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("期限切れトークンのAPIは401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/contacts", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "sess-1"})
		w := httptest.NewRecorder()
		tokenMW(ok).ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("セッションCookieでセッションルートは200", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/session/me", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: "sess-1"})
		w := httptest.NewRecorder()
		sessionMW(ok).ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

type userFinderFunc func(ctx context.Context, username string) (*model.User, error)

func (f userFinderFunc) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return f(ctx, username)
}

type sessionFinderFunc func(ctx context.Context, id string) (*model.Session, error)

func (f sessionFinderFunc) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return f(ctx, id)
}
