// Package redact маскирует чувствительные значения перед записью в лог.
package redact

import (
	"net/url"
	"strings"
)

const mask = "***"

// Email оставляет первые две руны локальной части и домен.
// Некорректный адрес целиком заменяется маской.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return mask
	}

	if r := []rune(local); len(r) > 2 {
		return string(r[:2]) + mask + "@" + domain
	}

	return mask + "@" + domain
}

// URL убирает пароль из строки подключения (postgres://, redis://)
// и отбрасывает query, где драйверы держат ключи и сертификаты.
// Неразбираемая строка заменяется маской.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return mask
	}

	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxx")
		}
	}
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}
