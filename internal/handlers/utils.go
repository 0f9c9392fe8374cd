package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/accountkit/authserver/types"
)

type contextKey string

const contextAccountKey contextKey = "account"

// maxJSONBody bounds request bodies decoded as JSON.
const maxJSONBody = 1 << 20

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse carries a confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

func withAccount(ctx context.Context, account types.Account) context.Context {
	return context.WithValue(ctx, contextAccountKey, account)
}

func accountFromContext(ctx context.Context) (types.Account, error) {
	account, ok := ctx.Value(contextAccountKey).(types.Account)
	if !ok || account.User.ID < 1 {
		return types.Account{}, errors.New("missing account")
	}
	return account, nil
}

// decodeJSON reads a single JSON value from the request body. An empty body
// decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
