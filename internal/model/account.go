package model

import "time"

// Account is a user record in the host account directory.
type Account struct {
	// UserID is the fully qualified id, "@localpart:server_name".
	UserID string `db:"user_id" json:"user_id"`

	// Localpart is the portion of UserID between "@" and ":".
	Localpart string `db:"localpart" json:"localpart"`

	// Emails are the third-party email addresses bound to the account.
	Emails []string `db:"-" json:"emails"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
