// token реализует кодек подписанных токенов (HS256 JWT) для access- и
// refresh-токенов.
//
// Формат: base64url(header) "." base64url(claims) "." base64url(HMAC-SHA256)
// без паддинга. Подпись сравнивается за постоянное время (hmac.Equal внутри
// golang-jwt). Пакет не выполняет I/O; часы подменяются через WithClock.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Назначение токена (claim token_use).
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

var (
	// ErrInvalid — токен повреждён, подписан не тем ключом/алгоритмом,
	// просрочен или предназначен для другого использования.
	ErrInvalid = errors.New("invalid token")

	// ErrExpired — частный случай ErrInvalid: срок действия истёк.
	ErrExpired = fmt.Errorf("%w: expired", ErrInvalid)

	// ErrEmptySecret — кодек нельзя создать без секрета.
	ErrEmptySecret = errors.New("token secret is empty")
)

// Claims — полезная нагрузка токена.
// Subject дублирует UserID.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Use    string `json:"token_use"`
	jwt.RegisteredClaims
}

// Codec выпускает и проверяет токены. Безопасен для конкурентного использования.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIssuer задаёт claim iss, который выставляется и проверяется.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// New создаёт кодек с секретом из конфигурации.
func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Issue подписывает токен с указанными UserID, Role и Use.
// iat, exp и свежий jti выставляются кодеком; возвращается момент истечения.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	const op = "token.Issue"

	if claims.UserID == "" || ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%s: user id and positive ttl required", op)
	}

	now := c.now().UTC()
	exp := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims.ExpiresAt.Time, nil
}

// Verify проверяет формат, алгоритм, подпись и срок действия.
// Любая ошибка проверки возвращается как ErrInvalid (или ErrExpired).
func (c *Codec) Verify(raw string) (*Claims, error) {
	const op = "token.Verify"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims Claims
	tok, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalid)
	}

	if !tok.Valid || claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalid)
	}

	return &claims, nil
}

// VerifyUse — Verify с проверкой назначения токена.
func (c *Codec) VerifyUse(raw, use string) (*Claims, error) {
	const op = "token.VerifyUse"

	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}

	if claims.Use != use {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalid)
	}

	return claims, nil
}
