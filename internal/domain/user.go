package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity surface this layer consumes: id plus display name.
// Account management lives elsewhere.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
