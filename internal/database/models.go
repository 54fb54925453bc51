package database

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the bun model backing the users table.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Name         string    `bun:"name,notnull"`
	Surname      string    `bun:"surname,notnull"`
	Birthdate    time.Time `bun:"birthdate,notnull"`
	Username     string    `bun:"username,notnull,unique"`
	Email        string    `bun:"email,notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Confirmed    bool      `bun:"confirmed,notnull,default:false"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
