package users

import (
	"strings"
	"time"
)

// User is an account that can sign in; Role is the only authorization axis.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null" json:"_id"`
	Name         string    `gorm:"column:name;size:190;not null" json:"name"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;not null" json:"-"`
	Role         string    `gorm:"column:role;size:16;not null;index" json:"role"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Summary is the creator projection embedded into content reads.
type Summary struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SignupInput carries the self-service registration form.
type SignupInput struct {
	Name     string `json:"name" validate:"required,max=190"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
