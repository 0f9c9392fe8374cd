package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/accountkit/authserver/types"
)

// UserRepository handles persistence for users and their profiles.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectAccount = `
	SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.password_hash,
		u.created_at, u.updated_at,
		p.user_id, p.bio, p.mobile, p.role, p.avatar_key, p.created_at, p.updated_at
	FROM users u
	LEFT JOIN profiles p ON p.user_id = u.id`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount reads one selectAccount row. hasProfile is false when the
// LEFT JOIN found no profile row.
func scanAccount(row rowScanner) (account types.Account, hasProfile bool, err error) {
	var (
		profileUserID    sql.NullInt64
		bio, mobile      sql.NullString
		role, avatarKey  sql.NullString
		profileCreatedAt sql.NullTime
		profileUpdatedAt sql.NullTime
	)
	err = row.Scan(
		&account.User.ID,
		&account.User.Username,
		&account.User.Email,
		&account.User.FirstName,
		&account.User.LastName,
		&account.User.PasswordHash,
		&account.User.CreatedAt,
		&account.User.UpdatedAt,
		&profileUserID,
		&bio,
		&mobile,
		&role,
		&avatarKey,
		&profileCreatedAt,
		&profileUpdatedAt,
	)
	if err != nil {
		return types.Account{}, false, err
	}
	if !profileUserID.Valid {
		account.Profile = types.Profile{UserID: account.User.ID, Role: types.RoleDefaultUser}
		return account, false, nil
	}
	account.Profile = types.Profile{
		UserID:    profileUserID.Int64,
		Bio:       bio.String,
		Mobile:    mobile.String,
		Role:      types.Role(role.String),
		AvatarKey: avatarKey.String,
		CreatedAt: profileCreatedAt.Time,
		UpdatedAt: profileUpdatedAt.Time,
	}
	return account, true, nil
}

// GetByID loads the account and creates its profile if it is missing.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.Account, error) {
	return r.getAccount(ctx, selectAccount+` WHERE u.id = $1`, id)
}

// GetByUsername loads the account and creates its profile if it is missing.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	return r.getAccount(ctx, selectAccount+` WHERE u.username = $1`, username)
}

func (r *UserRepository) getAccount(ctx context.Context, query string, arg any) (types.Account, error) {
	account, hasProfile, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	if hasProfile {
		return account, nil
	}

	profile, err := ensureProfile(ctx, r.db, account.User.ID)
	if err != nil {
		return types.Account{}, fmt.Errorf("ensure profile: %w", err)
	}
	account.Profile = profile
	return account, nil
}

// ensureProfile inserts a default profile for userID unless one exists and
// returns the stored row.
func ensureProfile(ctx context.Context, q queryer, userID int64) (types.Profile, error) {
	now := time.Now().UTC()
	const insert = `
		INSERT INTO profiles (user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := q.ExecContext(ctx, insert, userID, types.RoleDefaultUser, now); err != nil {
		return types.Profile{}, err
	}

	const query = `
		SELECT user_id, bio, mobile, role, avatar_key, created_at, updated_at
		FROM profiles
		WHERE user_id = $1`
	var profile types.Profile
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Bio,
		&profile.Mobile,
		&profile.Role,
		&profile.AvatarKey,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Profile{}, ErrNotFound
		}
		return types.Profile{}, err
	}
	return profile, nil
}

func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// EmailExists reports whether a user other than excludeID holds email.
// Pass 0 to check against every user.
func (r *UserRepository) EmailExists(ctx context.Context, email string, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email, excludeID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts the user and its profile in a single transaction.
func (r *UserRepository) Create(ctx context.Context, user types.User, role types.Role) (types.Account, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	profile := types.Profile{
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const insertUser = `
			INSERT INTO users (username, email, password_hash, first_name, last_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`
		if err := tx.QueryRowContext(
			ctx,
			insertUser,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.FirstName,
			user.LastName,
			user.CreatedAt,
			user.UpdatedAt,
		).Scan(&user.ID); err != nil {
			return mapConstraintError(err)
		}

		profile.UserID = user.ID
		const insertProfile = `
			INSERT INTO profiles (user_id, bio, mobile, role, avatar_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err := tx.ExecContext(
			ctx,
			insertProfile,
			profile.UserID,
			profile.Bio,
			profile.Mobile,
			profile.Role,
			profile.AvatarKey,
			profile.CreatedAt,
			profile.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return types.Account{}, err
	}
	return types.Account{User: user, Profile: profile}, nil
}

// Update writes every mutable user and profile column in a single transaction.
func (r *UserRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.User.UpdatedAt = now
	account.Profile.UpdatedAt = now
	account.Profile.UserID = account.User.ID

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const updateUser = `
			UPDATE users
			SET email = $1,
				first_name = $2,
				last_name = $3,
				password_hash = $4,
				updated_at = $5
			WHERE id = $6`
		result, err := tx.ExecContext(
			ctx,
			updateUser,
			account.User.Email,
			account.User.FirstName,
			account.User.LastName,
			account.User.PasswordHash,
			account.User.UpdatedAt,
			account.User.ID,
		)
		if err != nil {
			return mapConstraintError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}

		const upsertProfile = `
			INSERT INTO profiles (user_id, bio, mobile, role, avatar_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (user_id) DO UPDATE
			SET bio = EXCLUDED.bio,
				mobile = EXCLUDED.mobile,
				role = EXCLUDED.role,
				avatar_key = EXCLUDED.avatar_key,
				updated_at = EXCLUDED.updated_at
			RETURNING created_at`
		return tx.QueryRowContext(
			ctx,
			upsertProfile,
			account.Profile.UserID,
			account.Profile.Bio,
			account.Profile.Mobile,
			account.Profile.Role,
			account.Profile.AvatarKey,
			account.Profile.UpdatedAt,
		).Scan(&account.Profile.CreatedAt)
	})
	if err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// List returns every account, newest profile first.
func (r *UserRepository) List(ctx context.Context) ([]types.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccount+` ORDER BY p.created_at DESC NULLS LAST, u.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []types.Account{}
	for rows.Next() {
		account, _, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Delete removes the user. The profile goes with it via ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
