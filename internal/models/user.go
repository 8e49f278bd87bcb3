package models

import (
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex"`
	Username  string `gorm:"uniqueIndex"`
	FullName  string
	Password  string // bcrypt hash
	Role      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
