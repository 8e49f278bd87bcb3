package models

import "time"

// IssuedToken records every registration token the broker hands out, so a
// token can be revoked before its expiry.
type IssuedToken struct {
	ID        uint   `gorm:"primaryKey"`
	TokenID   string `gorm:"uniqueIndex"` // jti
	Domain    string `gorm:"index"`
	TokenHash string `gorm:"index"` // sha256 of the signed token
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Revoked reports whether the record has been revoked.
func (t *IssuedToken) Revoked() bool { return t.RevokedAt != nil }
