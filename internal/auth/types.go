package auth

import "time"

// Roles a user may register with.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a portal account. PasswordHash never leaves the process.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	Profile      Profile    `json:"profile"`
}

// Profile holds the identity details collected after registration.
type Profile struct {
	Country              string     `json:"country,omitempty"`
	DeveloperName        string     `json:"developerName,omitempty"`
	DeveloperTitle       string     `json:"developerTitle,omitempty"`
	DeveloperPhone       string     `json:"developerPhone,omitempty"`
	OrganizationName     string     `json:"organizationName,omitempty"`
	OrganizationAddress  string     `json:"organizationAddress,omitempty"`
	OrganizationIndustry string     `json:"organizationIndustry,omitempty"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

// ProfileUpdate lists the profile fields a user may change. Nil fields are left as is.
type ProfileUpdate struct {
	Country              *string `json:"country"`
	DeveloperName        *string `json:"developerName"`
	DeveloperTitle       *string `json:"developerTitle"`
	DeveloperPhone       *string `json:"developerPhone"`
	OrganizationName     *string `json:"organizationName"`
	OrganizationAddress  *string `json:"organizationAddress"`
	OrganizationIndustry *string `json:"organizationIndustry"`
}

// PasswordResetToken is a single-use secret mailed to the account owner.
type PasswordResetToken struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken records an issued refresh token by its jti so it can be revoked.
type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// Principal is the authenticated caller resolved from an access token.
type Principal struct {
	UserID string
	Role   string
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// Session is returned by Register and Login.
type Session struct {
	TokenPair
	User *User `json:"user"`
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}
