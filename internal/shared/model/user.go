package model

import "time"

// UserRole 用户角色
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// UserStatus 用户状态
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User 用户（即租户：预算计费与项目归属的主体）
type User struct {
	ID                 string     `json:"id" db:"id"`
	Email              string     `json:"email" db:"email"`
	Username           string     `json:"username" db:"username"`
	PasswordHash       string     `json:"-" db:"password_hash"` // never expose in JSON
	Role               UserRole   `json:"role" db:"role"`
	Status             UserStatus `json:"status" db:"status"`
	MonthlyTokenLimit  int64      `json:"monthly_token_limit" db:"monthly_token_limit"` // 月度 Token 上限（0 = 禁止生成）
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
