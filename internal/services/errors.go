package services

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrDuplicateUsername   = errors.New("username already exists")
	ErrDuplicateEmail      = errors.New("email already exists")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidRole         = errors.New("invalid role")
	ErrAvatarsDisabled     = errors.New("avatar storage is not configured")
	ErrAvatarNotFound      = errors.New("avatar not found")
	ErrUnsupportedAvatar   = errors.New("unsupported avatar type")
)
