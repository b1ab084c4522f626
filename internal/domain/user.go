package domain

import "time"

// Credential is the directory record backing a login session.
type Credential struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile holds the role of a user, keyed by user id.
type Profile struct {
	UserID    string
	Role      Role
	UpdatedAt time.Time
}
