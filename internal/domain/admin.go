package domain

import "time"

// AdminUser is a back-office operator. Permissions are derived from Role and never stored
// independently of it.
type AdminUser struct {
	UID         string
	Email       string
	Role        string
	Permissions []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
