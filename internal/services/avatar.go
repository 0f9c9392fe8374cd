package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/storage"
	"github.com/accountkit/authserver/types"
	"github.com/google/uuid"
)

// MaxAvatarSize caps uploaded avatars at 2 MiB.
const MaxAvatarSize = 2 << 20

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AvatarsEnabled reports whether an avatar storage backend is configured.
func (s *AccountService) AvatarsEnabled() bool {
	return s.avatars != nil
}

// SetAvatar stores a new avatar for the account and replaces the previous
// one. The previous object is removed best effort.
func (s *AccountService) SetAvatar(ctx context.Context, account types.Account, r io.Reader, size int64, contentType string) (types.ProfileView, error) {
	if s.avatars == nil {
		return types.ProfileView{}, ErrAvatarsDisabled
	}
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return types.ProfileView{}, fmt.Errorf("%w: %s", ErrUnsupportedAvatar, contentType)
	}
	if size <= 0 || size > MaxAvatarSize {
		return types.ProfileView{}, fmt.Errorf("%w: avatar must be between 1 byte and %d bytes", ErrInvalidInput, MaxAvatarSize)
	}

	current, err := s.repo.GetByID(ctx, account.User.ID)
	if err != nil {
		return types.ProfileView{}, translateStoreError(err, "load profile")
	}

	key := path.Join("avatars", strconv.FormatInt(current.User.ID, 10), uuid.NewString()+ext)
	if err := s.avatars.Put(ctx, key, r, size, contentType); err != nil {
		return types.ProfileView{}, fmt.Errorf("store avatar: %w", err)
	}

	previousKey := current.Profile.AvatarKey
	current.Profile.AvatarKey = key
	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		_ = s.avatars.Delete(ctx, key)
		return types.ProfileView{}, translateStoreError(err, "update profile")
	}
	if previousKey != "" {
		_ = s.avatars.Delete(ctx, previousKey)
	}

	s.events.Publish(ctx, events.New(events.AvatarUpdated, updated.User.ID, updated.User.Username, map[string]string{
		"key": key,
	}))
	return updated.View(), nil
}

// OpenAvatar returns the stored avatar and its content type. Callers close
// the reader.
func (s *AccountService) OpenAvatar(ctx context.Context, account types.Account) (io.ReadCloser, string, error) {
	if s.avatars == nil {
		return nil, "", ErrAvatarsDisabled
	}
	current, err := s.repo.GetByID(ctx, account.User.ID)
	if err != nil {
		return nil, "", translateStoreError(err, "load profile")
	}
	if current.Profile.AvatarKey == "" {
		return nil, "", ErrAvatarNotFound
	}

	rc, err := s.avatars.Get(ctx, current.Profile.AvatarKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrAvatarNotFound
		}
		return nil, "", fmt.Errorf("open avatar: %w", err)
	}
	return rc, contentTypeFor(current.Profile.AvatarKey), nil
}

func contentTypeFor(key string) string {
	ext := path.Ext(key)
	for contentType, candidate := range avatarExtensions {
		if candidate == ext {
			return contentType
		}
	}
	return "application/octet-stream"
}
