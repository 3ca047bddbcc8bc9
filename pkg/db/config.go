package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/urmzd/ninho/pkg/esp"
	"github.com/urmzd/ninho/pkg/firmware"
)

var ErrNoActiveProfile = errors.New("no active profile found")

// Config represents the complete runtime configuration loaded from the database.
type Config struct {
	Profile   *Profile
	APIServer *APIServer
	Serial    *SerialSettings
	Layout    FirmwareLayout
}

// Overrides are command-line values layered over the stored profile.
type Overrides struct {
	Port     string
	BaudRate int
	StubPath string
	Address  string
	Manifest *firmware.Manifest
}

// Override applies o to c in memory. A manifest replaces the flash layout
// and, when it names one, the expected firmware version.
func (c *Config) Override(o Overrides) error {
	if c.Serial == nil {
		d := esp.DefaultConfig()
		c.Serial = &SerialSettings{
			ProfileID:       c.Profile.ID,
			BaudRate:        d.BaudRate,
			CommandTimeout:  d.CommandTimeout,
			IdentityTimeout: d.IdentityTimeout,
			SettleDelay:     d.SettleDelay,
			FlashSize:       d.FlashSize,
		}
	}
	if o.Port != "" {
		c.Serial.PortPath = o.Port
	}
	if o.BaudRate > 0 {
		c.Serial.BaudRate = o.BaudRate
	}
	if o.StubPath != "" {
		c.Serial.StubPath = o.StubPath
	}

	if o.Address != "" {
		host, port, err := splitAddress(o.Address)
		if err != nil {
			return err
		}
		c.APIServer = &APIServer{ProfileID: c.Profile.ID, Host: host, Port: port}
	}

	if m := o.Manifest; m != nil {
		names := m.Layout()
		layout := make(FirmwareLayout, 0, len(names))
		for i, seg := range names {
			layout = append(layout, FirmwareSegment{
				Position: i,
				Name:     seg.Name,
				Role:     seg.Role,
				Offset:   seg.Offset,
				Path:     m.Resolve(m.Segments[i].Path),
			})
		}
		c.Layout = layout
		if m.Version != "" {
			c.Serial.FirmwareVersion = m.Version
		}
		if m.FlashSize > 0 {
			c.Serial.FlashSize = uint32(m.FlashSize)
		}
	}
	return nil
}

// SaveConfig writes the listener, serial settings and layout of c back to
// its profile in one go.
func (db *DB) SaveConfig(ctx context.Context, c *Config) error {
	id := c.Profile.ID
	if c.APIServer != nil {
		if err := db.APIServers().SetAddress(ctx, id, c.APIServer.Address()); err != nil {
			return err
		}
	}
	if c.Serial != nil {
		c.Serial.ProfileID = id
		if err := db.SerialSettings().Save(ctx, c.Serial); err != nil {
			return err
		}
	}
	if len(c.Layout) > 0 {
		if err := db.FirmwareLayouts().Replace(ctx, id, c.Layout); err != nil {
			return fmt.Errorf("failed to save firmware layout: %w", err)
		}
	}
	return nil
}

// APIAddress returns the API server listen address.
func (c *Config) APIAddress() string {
	if c.APIServer == nil {
		return "0.0.0.0:8080"
	}
	return c.APIServer.Address()
}

// ESP returns the connection manager config for this profile.
func (c *Config) ESP() esp.Config {
	return c.Serial.Apply(esp.DefaultConfig())
}

// ExpectedFirmware returns the firmware version the profile expects, or "".
func (c *Config) ExpectedFirmware() string {
	if c.Serial == nil {
		return ""
	}
	return c.Serial.FirmwareVersion
}

// ActiveConfig loads the complete configuration for the active profile.
func (db *DB) ActiveConfig(ctx context.Context) (*Config, error) {
	profile, err := db.Profiles().GetActive(ctx)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrNoActiveProfile
		}
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	config := &Config{
		Profile: profile,
	}

	apiServer, err := db.APIServers().Get(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrAPIServerNotFound) {
		return nil, fmt.Errorf("failed to get API server config: %w", err)
	}
	config.APIServer = apiServer

	serial, err := db.SerialSettings().Get(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrSerialSettingsNotFound) {
		return nil, fmt.Errorf("failed to get serial settings: %w", err)
	}
	config.Serial = serial

	layout, err := db.FirmwareLayouts().Get(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get firmware layout: %w", err)
	}
	config.Layout = layout

	return config, nil
}
