package types

import "time"

// Role gates access to manager-only operations.
type Role string

const (
	RoleManager     Role = "manager"
	RoleDefaultUser Role = "default_user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleManager || r == RoleDefaultUser
}

// Label returns the human readable role name.
func (r Role) Label() string {
	switch r {
	case RoleManager:
		return "Manager"
	case RoleDefaultUser:
		return "Default User"
	default:
		return string(r)
	}
}

// User represents an account in the system.
// It contains identity and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address.
	Email string `json:"email" db:"email"`

	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Profile holds the per-user role and auxiliary contact fields.
// Every User owns exactly one Profile.
type Profile struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Bio       string    `json:"bio" db:"bio"`
	Mobile    string    `json:"mobile" db:"mobile"`
	Role      Role      `json:"role" db:"role"`
	AvatarKey string    `json:"-" db:"avatar_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsManager reports whether the profile carries the manager role.
func (p Profile) IsManager() bool {
	return p.Role == RoleManager
}

const (
	MaxUsernameLength = 150
	MaxEmailLength    = 254
	MaxNameLength     = 150
	MaxBioLength      = 500
	MaxMobileLength   = 20
)

// Account is a User joined with its Profile.
type Account struct {
	User    User
	Profile Profile
}

// View flattens the account into its public representation.
func (a Account) View() ProfileView {
	return ProfileView{
		ID:        a.User.ID,
		Username:  a.User.Username,
		Email:     a.User.Email,
		FirstName: a.User.FirstName,
		LastName:  a.User.LastName,
		Bio:       a.Profile.Bio,
		Mobile:    a.Profile.Mobile,
		Role:      a.Profile.Role,
	}
}

// ProfileView is the merged user and profile shape returned by the API.
type ProfileView struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bio       string `json:"bio"`
	Mobile    string `json:"mobile"`
	Role      Role   `json:"role"`
}

// ProfileUpdate carries the optional fields of a profile update.
// Nil or blank values leave the stored field untouched.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Mobile    *string `json:"mobile,omitempty"`
	Role      *string `json:"role,omitempty"`
}

const TokenTypeBearer = "bearer"

// TokenPair is the access and refresh token issued on login, registration
// and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
