package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile represents a configuration profile.
type Profile struct {
	ID        int64
	Name      string
	Board     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileStore provides profile operations.
type ProfileStore interface {
	Get(ctx context.Context, id int64) (*Profile, error)
	GetByName(ctx context.Context, name string) (*Profile, error)
	GetActive(ctx context.Context) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Create(ctx context.Context, p *Profile) error
	SetActive(ctx context.Context, id int64) error
}

// Profiles returns a ProfileStore for this database.
func (db *DB) Profiles() ProfileStore {
	return &profileStore{db: db}
}

type profileStore struct {
	db *DB
}

const profileColumns = `id, name, board, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Board, &p.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	p.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return p, nil
}

func (s *profileStore) Get(ctx context.Context, id int64) (*Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
}

func (s *profileStore) GetByName(ctx context.Context, name string) (*Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name))
}

func (s *profileStore) GetActive(ctx context.Context) (*Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE is_active = 1 LIMIT 1`))
}

func (s *profileStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Create inserts the profile together with its default listener, serial
// settings and ESP32 flash layout.
func (s *profileStore) Create(ctx context.Context, p *Profile) error {
	if p.Board == "" {
		p.Board = "esp32"
	}
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (name, board, is_active)
			VALUES (?, ?, ?)
		`, p.Name, p.Board, p.IsActive)
		if err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		if err := seedProfile(ctx, tx, id); err != nil {
			return err
		}
		p.ID = id
		return nil
	})
}

func (s *profileStore) SetActive(ctx context.Context, id int64) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET is_active = 0`); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `UPDATE profiles SET is_active = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrProfileNotFound
		}
		return nil
	})
}

// UseProfile activates the named profile, creating it with defaults first if
// it does not exist.
func (db *DB) UseProfile(ctx context.Context, name string) (*Profile, error) {
	profiles := db.Profiles()

	p, err := profiles.GetByName(ctx, name)
	if errors.Is(err, ErrProfileNotFound) {
		p = &Profile{Name: name}
		if err := profiles.Create(ctx, p); err != nil {
			return nil, err
		}
		log.Info().Str("profile", name).Msg("Created profile")
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up profile %q: %w", name, err)
	}

	if !p.IsActive {
		if err := profiles.SetActive(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return profiles.Get(ctx, p.ID)
}
