package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись о выданном refresh-токене.
// Сам токен на сервере не хранится, только его sha256.
type RefreshToken struct {
	TokenHash string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}
