package models

import (
	"time"

	"github.com/google/uuid"
)

// Role — роль пользователя в системе. Множество значений закрыто.
type Role string

const (
	RoleVolunteer Role = "volunteer"
	RoleOrganizer Role = "organizer"
)

// Valid сообщает, входит ли роль в допустимое множество.
func (r Role) Valid() bool {
	return r == RoleVolunteer || r == RoleOrganizer
}

// ProviderGoogle — идентификатор внешнего провайдера Google.
const ProviderGoogle = "google"

// User — модель пользователя в системе.
//
// Provider/ProviderSubject заполнены только у пользователей, созданных через
// внешний провайдер; у таких пользователей PasswordHash содержит хэш
// случайного секрета, который никому не выдаётся.
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    string
	Role            Role
	Name            string
	Phone           string
	Provider        string
	ProviderSubject string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PublicUser — санитизированная проекция пользователя для ответа клиенту.
type PublicUser struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// Public возвращает проекцию без секретов.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}
