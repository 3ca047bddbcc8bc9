package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/esp"
	"github.com/urmzd/ninho/pkg/firmware"
)

// Bootstrap initializes the database with default data if it's empty.
// This is called after migrations and handles first-run setup.
func (db *DB) Bootstrap(ctx context.Context) error {
	needed, err := db.NeedsBootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to check profiles: %w", err)
	}
	if !needed {
		return nil
	}

	p := &Profile{Name: "default", Board: "esp32", IsActive: true}
	if err := db.Profiles().Create(ctx, p); err != nil {
		return fmt.Errorf("failed to create default profile: %w", err)
	}

	log.Info().Int64("profile", p.ID).Msg("Created default profile")
	return nil
}

// seedProfile writes the default listener, serial settings and flash layout
// for a freshly inserted profile.
func seedProfile(ctx context.Context, tx *sql.Tx, profileID int64) error {
	defaults := esp.DefaultConfig()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_servers (profile_id, host, port)
		VALUES (?, '0.0.0.0', 8080)
	`, profileID); err != nil {
		return fmt.Errorf("failed to create default API server: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO serial_settings (profile_id, baud_rate, command_timeout_ms,
		    identity_timeout_ms, settle_ms, flash_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, profileID, defaults.BaudRate, defaults.CommandTimeout.Milliseconds(),
		defaults.IdentityTimeout.Milliseconds(), defaults.SettleDelay.Milliseconds(), defaults.FlashSize); err != nil {
		return fmt.Errorf("failed to create default serial settings: %w", err)
	}

	var layout FirmwareLayout
	for _, s := range firmware.DefaultLayout() {
		layout = append(layout, FirmwareSegment{Name: s.Name, Role: s.Role, Offset: s.Offset})
	}
	if err := replaceLayout(ctx, tx, profileID, layout); err != nil {
		return fmt.Errorf("failed to create default firmware layout: %w", err)
	}
	return nil
}

// NeedsBootstrap returns true if the database needs initial setup.
func (db *DB) NeedsBootstrap(ctx context.Context) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
