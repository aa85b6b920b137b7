package models

import (
	"time"

	"github.com/google/uuid"
)

// CSRFToken — одноразовый CSRF-токен.
// OwnerID == nil означает анонимный токен без привязки к пользователю.
type CSRFToken struct {
	TokenHash string
	OwnerID   *uuid.UUID
	ExpiresAt time.Time
}
