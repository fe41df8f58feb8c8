package domain

import "time"

// Session is one logical login. A row is created at login, its JTI moves
// forward on every refresh, and logout flips IsLoggedOut exactly once.
// Rows are never deleted; they are retained for audit.
type Session struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	SessionID   string     `gorm:"size:64;uniqueIndex;not null" json:"session_id"`
	JTI         string     `gorm:"size:64;index;not null" json:"-"`
	IsLoggedOut bool       `gorm:"index;not null;default:false" json:"is_logged_out"`
	LoggedOutAt *time.Time `json:"logged_out_at,omitempty"`
	IPAddress   string     `gorm:"size:64" json:"ip_address"`
	Location    string     `gorm:"size:128" json:"location"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
