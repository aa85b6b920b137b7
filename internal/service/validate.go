package service

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pribylovaa/volunteer-hub/internal/models"
)

const (
	maxEmailLen    = 100
	minPasswordLen = 8
	maxPasswordLen = 128
	minNameLen     = 2
	maxNameLen     = 50
)

var phonePattern = regexp.MustCompile(`^[\d\s\-\+\(\)]{10,15}$`)

// normalizeEmail обрезает пробелы и приводит email к нижнему регистру.
func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validateEmail проверяет формат: адрес целиком, без отображаемого имени.
func validateEmail(email string) error {
	switch {
	case email == "":
		return invalid("email", "Email is required")
	case len(email) > maxEmailLen:
		return invalid("email", "Email is too long")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "Invalid email format")
	}

	return nil
}

// validatePassword: 8..128 символов, строчная, заглавная и цифра.
func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)

	switch {
	case n == 0:
		return invalid("password", "Password is required")
	case n < minPasswordLen:
		return invalid("password", "Password must be at least 8 characters long")
	case n > maxPasswordLen:
		return invalid("password", "Password is too long")
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !(hasLower && hasUpper && hasDigit) {
		return invalid("password", "Password must contain uppercase, lowercase and a digit")
	}

	return nil
}

// validateName: 2..50 символов, только буквы и пробелы.
func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		return invalid("name", "Name must be between 2 and 50 characters")
	}

	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' {
			return invalid("name", "Name may contain only letters and spaces")
		}
	}

	return nil
}

// validatePhone: необязательный, 10..15 символов из цифр, пробелов и +-().
func validatePhone(phone string) error {
	if phone == "" {
		return nil
	}

	if !phonePattern.MatchString(phone) {
		return invalid("phone", "Invalid phone number")
	}

	return nil
}

func validateRole(role string) error {
	if !models.Role(role).Valid() {
		return invalid("role", "Role must be volunteer or organizer")
	}

	return nil
}

// providerName приводит имя от провайдера к допустимой длине.
func providerName(name string) string {
	name = strings.TrimSpace(name)

	if utf8.RuneCountInString(name) > maxNameLen {
		name = strings.TrimSpace(string([]rune(name)[:maxNameLen]))
	}

	return name
}
