// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partmove/partmove/internal/vault"
	"github.com/partmove/partmove/pkg/model"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ProfileRepository persists ConnectionProfiles, sealing passwords through
// a Vault before they ever reach disk.
type ProfileRepository struct {
	db *sql.DB
}

// Create inserts a new profile, sealing both endpoint passwords with v.
func (r *ProfileRepository) Create(ctx context.Context, v *vault.Vault, p model.ConnectionProfile) (model.ConnectionProfile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	sourcePW, err := v.SealString(p.Source.Password)
	if err != nil {
		return model.ConnectionProfile{}, fmt.Errorf("sealing source password: %w", err)
	}
	targetPW, err := v.SealString(p.Target.Password)
	if err != nil {
		return model.ConnectionProfile{}, fmt.Errorf("sealing target password: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO profiles (
			id, name, description,
			source_host, source_port, source_dbname, source_user, source_password, source_sslmode,
			target_host, target_port, target_dbname, target_user, target_password, target_sslmode,
			compat_mode, created_at, updated_at
		) VALUES (?,?,?, ?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?)`,
		p.ID, p.Name, p.Description,
		p.Source.Host, p.Source.Port, p.Source.DBName, p.Source.User, sourcePW, string(p.Source.SSLMode),
		p.Target.Host, p.Target.Port, p.Target.DBName, p.Target.User, targetPW, string(p.Target.SSLMode),
		string(p.Compat), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.ConnectionProfile{}, fmt.Errorf("inserting profile: %w", err)
	}

	return p, nil
}

// Get returns a profile by id, with passwords still sealed: callers open
// them with the vault only when a run actually needs to connect.
func (r *ProfileRepository) Get(ctx context.Context, id string) (model.ConnectionProfile, []byte, []byte, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description,
			source_host, source_port, source_dbname, source_user, source_password, source_sslmode,
			target_host, target_port, target_dbname, target_user, target_password, target_sslmode,
			compat_mode, created_at, updated_at
		FROM profiles WHERE id = ?`, id)

	var (
		p                  model.ConnectionProfile
		sourcePW, targetPW []byte
		sourceSSL, targetSSL, compat string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description,
		&p.Source.Host, &p.Source.Port, &p.Source.DBName, &p.Source.User, &sourcePW, &sourceSSL,
		&p.Target.Host, &p.Target.Port, &p.Target.DBName, &p.Target.User, &targetPW, &targetSSL,
		&compat, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConnectionProfile{}, nil, nil, ErrNotFound
	}
	if err != nil {
		return model.ConnectionProfile{}, nil, nil, fmt.Errorf("loading profile %s: %w", id, err)
	}

	p.Source.SSLMode = model.SSLMode(sourceSSL)
	p.Target.SSLMode = model.SSLMode(targetSSL)
	p.Compat = model.CompatibilityMode(compat)

	return p, sourcePW, targetPW, nil
}

// List returns every stored profile, sorted by name.
func (r *ProfileRepository) List(ctx context.Context) ([]model.ConnectionProfile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, compat_mode, created_at, updated_at FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var out []model.ConnectionProfile
	for rows.Next() {
		var p model.ConnectionProfile
		var compat string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &compat, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		p.Compat = model.CompatibilityMode(compat)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Remove deletes a profile by id.
func (r *ProfileRepository) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing profile %s: %w", id, err)
	}
	return nil
}
