package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/contactbook/internal/model"
)

// DefaultAccessTokenTTL はアクセストークンのデフォルト有効期間。
const DefaultAccessTokenTTL = 30 * time.Minute

// ErrInvalidToken は署名不一致・形式不正・期限切れのトークンを表す。
// 呼び出し側は未認証として扱う。
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンに埋め込むクレーム。
// sub（ユーザー名）とexpはRegisteredClaimsに格納される。
type Claims struct {
	UserID int64      `json:"id"`
	Role   model.Role `json:"role"`
	Email  string     `json:"email"`
	jwt.RegisteredClaims
}

// NewClaims はIdentityからトークン用のクレームを生成する。
func NewClaims(identity *model.Identity) Claims {
	return Claims{
		UserID: identity.ID,
		Role:   identity.Role,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: identity.Username,
		},
	}
}

// TokenConfig はトークン発行・検証の設定。
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration    // 0以下の場合はDefaultAccessTokenTTL
	Now    func() time.Time // nilの場合はtime.Now
}

// TokenIssuer はHS256署名のアクセストークンを発行・検証する。
// 検証はストアを参照しない純粋な計算のため、発行後のロール変更等は
// トークンの有効期限まで反映されない。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: cfg.Secret, ttl: ttl, now: now}, nil
}

// TTL は既定の有効期間を返す。
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue は既定の有効期間でトークンを発行する。
func (i *TokenIssuer) Issue(claims Claims) (string, error) {
	return i.IssueWithTTL(claims, i.ttl)
}

// IssueWithTTL は指定した有効期間でトークンを発行する。
// expには発行時刻+ttlの絶対時刻を埋め込む。
func (i *TokenIssuer) IssueWithTTL(claims Claims, ttl time.Duration) (string, error) {
	claims.ExpiresAt = jwt.NewNumericDate(i.now().Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 失敗時はErrInvalidTokenをラップしたエラーを返す。
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
