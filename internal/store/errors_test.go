package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapConstraintError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "username",
			err:  &pq.Error{Code: uniqueViolation, Constraint: usernameConstraint},
			want: ErrDuplicateUsername,
		},
		{
			name: "wrapped email",
			err:  fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation, Constraint: emailConstraint}),
			want: ErrDuplicateEmail,
		},
		{
			name: "other constraint",
			err:  &pq.Error{Code: uniqueViolation, Constraint: "profiles_pkey"},
		},
		{
			name: "not a pq error",
			err:  other,
			want: other,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapConstraintError(tt.err)
			if tt.want == nil {
				assert.Same(t, tt.err, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
