package models

import "time"

// TokenPair — токены, выдаваемые при входе, регистрации и обновлении.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — долгоживущий JWT для выпуска новых access-токенов;
//     на сервере хранится только его хэш. При обновлении без ротации пуст;
//   - *ExpiresAt — моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session — результат успешной аутентификации.
type Session struct {
	User   PublicUser
	Tokens TokenPair
}
