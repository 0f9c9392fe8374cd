package handlers

import (
	"bufio"
	"io"
	"net/http"

	"github.com/accountkit/authserver/internal/services"
	"github.com/accountkit/authserver/internal/storage"
	"github.com/accountkit/authserver/types"
	"go.uber.org/zap"
)

const (
	avatarFormField = "avatar"
	sniffLen        = 512
)

// GetProfile returns the caller's merged user and profile fields.
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	view, err := h.accounts.GetProfile(r.Context(), account)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateProfile applies the non-empty fields of the request body.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req types.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	view, err := h.accounts.UpdateProfile(r.Context(), account, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, h.accounts.CurrentUser(account))
}

// ListUsers returns every account. Mounted behind the manager gate.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// UploadAvatar stores the multipart "avatar" file as the caller's avatar.
// The content type is sniffed from the file, not taken from the client.
func (h *AuthHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarSize+maxJSONBody)
	if err := r.ParseMultipartForm(services.MaxAvatarSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(avatarFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, sniffLen)
	head, err := reader.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	contentType := http.DetectContentType(head)

	view, err := h.accounts.SetAvatar(r.Context(), account, reader, header.Size, contentType)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DownloadAvatar streams the caller's avatar.
func (h *AuthHandler) DownloadAvatar(w http.ResponseWriter, r *http.Request) {
	account, err := accountFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rc, contentType, err := h.accounts.OpenAvatar(r.Context(), account)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", storage.CacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream avatar", zap.Int64("user_id", account.User.ID), zap.Error(err))
	}
}
