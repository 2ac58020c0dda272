package model

import "time"

// User is the owner of jobs and backups. TokenHash is the bcrypt hash of the
// secret half of the user's API token; the token itself is never stored.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription is one browser push endpoint registered by a user.
type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"-"`
	Auth      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
