package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urmzd/ninho/pkg/esp"
)

var ErrSerialSettingsNotFound = errors.New("serial settings not found")

// SerialSettings holds the per-profile serial and flasher configuration.
// Durations are stored in milliseconds.
type SerialSettings struct {
	ProfileID       int64
	PortPath        string
	BaudRate        int
	FlashBaudRate   int
	CommandTimeout  time.Duration
	IdentityTimeout time.Duration
	SettleDelay     time.Duration
	FlashSize       uint32
	StubPath        string
	Verify          bool
	// FirmwareVersion is the version the lesson firmware is expected to report.
	FirmwareVersion string
	UpdatedAt       time.Time
}

// Apply overlays the stored settings on cfg. Zero values keep cfg's.
func (s *SerialSettings) Apply(cfg esp.Config) esp.Config {
	if s == nil {
		return cfg
	}
	if s.PortPath != "" {
		cfg.Port = s.PortPath
	}
	if s.BaudRate > 0 {
		cfg.BaudRate = s.BaudRate
	}
	if s.FlashBaudRate > 0 {
		cfg.FlashBaudRate = s.FlashBaudRate
	}
	if s.CommandTimeout > 0 {
		cfg.CommandTimeout = s.CommandTimeout
	}
	if s.IdentityTimeout > 0 {
		cfg.IdentityTimeout = s.IdentityTimeout
	}
	cfg.SettleDelay = s.SettleDelay
	if s.FlashSize > 0 {
		cfg.FlashSize = s.FlashSize
	}
	if s.StubPath != "" {
		cfg.StubPath = s.StubPath
	}
	cfg.Verify = s.Verify
	return cfg
}

// SerialSettingsStore reads and writes serial settings.
type SerialSettingsStore interface {
	Get(ctx context.Context, profileID int64) (*SerialSettings, error)
	Save(ctx context.Context, s *SerialSettings) error
}

// SerialSettings returns a SerialSettingsStore for this database.
func (db *DB) SerialSettings() SerialSettingsStore {
	return &serialSettingsStore{db: db}
}

type serialSettingsStore struct {
	db *DB
}

func (st *serialSettingsStore) Get(ctx context.Context, profileID int64) (*SerialSettings, error) {
	s := &SerialSettings{ProfileID: profileID}
	var cmdMS, idMS, settleMS int64
	var updatedAt string
	err := st.db.QueryRowContext(ctx, `
		SELECT port_path, baud_rate, flash_baud_rate, command_timeout_ms, identity_timeout_ms,
		       settle_ms, flash_size, stub_path, verify, firmware_version, updated_at
		FROM serial_settings WHERE profile_id = ?
	`, profileID).Scan(&s.PortPath, &s.BaudRate, &s.FlashBaudRate, &cmdMS, &idMS,
		&settleMS, &s.FlashSize, &s.StubPath, &s.Verify, &s.FirmwareVersion, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSerialSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	s.CommandTimeout = time.Duration(cmdMS) * time.Millisecond
	s.IdentityTimeout = time.Duration(idMS) * time.Millisecond
	s.SettleDelay = time.Duration(settleMS) * time.Millisecond
	s.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return s, nil
}

// Save inserts or replaces the settings row for s.ProfileID.
func (st *serialSettingsStore) Save(ctx context.Context, s *SerialSettings) error {
	_, err := st.db.ExecContext(ctx, `
		INSERT INTO serial_settings (profile_id, port_path, baud_rate, flash_baud_rate,
		    command_timeout_ms, identity_timeout_ms, settle_ms, flash_size, stub_path, verify, firmware_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET
		    port_path = excluded.port_path,
		    baud_rate = excluded.baud_rate,
		    flash_baud_rate = excluded.flash_baud_rate,
		    command_timeout_ms = excluded.command_timeout_ms,
		    identity_timeout_ms = excluded.identity_timeout_ms,
		    settle_ms = excluded.settle_ms,
		    flash_size = excluded.flash_size,
		    stub_path = excluded.stub_path,
		    verify = excluded.verify,
		    firmware_version = excluded.firmware_version,
		    updated_at = datetime('now')
	`, s.ProfileID, s.PortPath, s.BaudRate, s.FlashBaudRate,
		s.CommandTimeout.Milliseconds(), s.IdentityTimeout.Milliseconds(), s.SettleDelay.Milliseconds(),
		s.FlashSize, s.StubPath, s.Verify, s.FirmwareVersion)
	if err != nil {
		return fmt.Errorf("failed to save serial settings: %w", err)
	}
	return nil
}
