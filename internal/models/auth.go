package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserType distinguishes the two principal roles.
type UserType string

const (
	UserTypeStudent UserType = "student"
	UserTypeTeacher UserType = "teacher"
)

// Valid returns true when the user type is supported.
func (t UserType) Valid() bool {
	return t == UserTypeStudent || t == UserTypeTeacher
}

// Principal carries explicit authorization context into operations that
// need it; nothing reads the current user from ambient state.
type Principal struct {
	UserID   string   `json:"user_id"`
	UserType UserType `json:"user_type"`
}

// LoginRequest holds credentials for authenticating a teacher.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and teacher info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Teacher     Teacher   `json:"teacher"`
	IssuedAt    time.Time `json:"issued_at"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	UserType UserType `json:"user_type"`
	Name     string   `json:"name"`
	jwt.RegisteredClaims
}

// Principal converts claims into an explicit authorization context.
func (c *JWTClaims) Principal() Principal {
	return Principal{UserID: c.UserID, UserType: c.UserType}
}
