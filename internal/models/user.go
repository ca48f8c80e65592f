package models

import "time"

// User holds identity display metadata. Ledger and request rows carry only
// the user ID; names are joined from here at read time.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
