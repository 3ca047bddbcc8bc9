package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/urmzd/ninho/pkg/device"
)

// FirmwareSegment is one row of a profile's flash layout. Path is optional;
// uploads are matched to segments by name.
type FirmwareSegment struct {
	Position int
	Name     string
	Role     device.SegmentRole
	Offset   uint32
	Path     string
}

// FirmwareLayout is the ordered flash layout of a profile.
type FirmwareLayout []FirmwareSegment

// Find returns the segment with the given name.
func (l FirmwareLayout) Find(name string) (FirmwareSegment, bool) {
	for _, s := range l {
		if s.Name == name {
			return s, true
		}
	}
	return FirmwareSegment{}, false
}

// Segments converts the layout to image segments without data.
func (l FirmwareLayout) Segments() []device.Segment {
	out := make([]device.Segment, 0, len(l))
	for _, s := range l {
		out = append(out, device.Segment{Name: s.Name, Role: s.Role, Offset: s.Offset})
	}
	return out
}

// FirmwareLayoutStore reads and replaces flash layouts.
type FirmwareLayoutStore interface {
	Get(ctx context.Context, profileID int64) (FirmwareLayout, error)
	Replace(ctx context.Context, profileID int64, layout FirmwareLayout) error
}

// FirmwareLayouts returns a FirmwareLayoutStore for this database.
func (db *DB) FirmwareLayouts() FirmwareLayoutStore {
	return &firmwareLayoutStore{db: db}
}

type firmwareLayoutStore struct {
	db *DB
}

func (s *firmwareLayoutStore) Get(ctx context.Context, profileID int64) (FirmwareLayout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, name, role, flash_offset, path
		FROM firmware_segments WHERE profile_id = ? ORDER BY position
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var layout FirmwareLayout
	for rows.Next() {
		var seg FirmwareSegment
		var role string
		if err := rows.Scan(&seg.Position, &seg.Name, &role, &seg.Offset, &seg.Path); err != nil {
			return nil, err
		}
		seg.Role = device.SegmentRole(role)
		layout = append(layout, seg)
	}
	return layout, rows.Err()
}

// Replace swaps the whole layout in one transaction. Positions are
// renumbered from the slice order.
func (s *firmwareLayoutStore) Replace(ctx context.Context, profileID int64, layout FirmwareLayout) error {
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		return replaceLayout(ctx, tx, profileID, layout)
	})
}

func replaceLayout(ctx context.Context, tx *sql.Tx, profileID int64, layout FirmwareLayout) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM firmware_segments WHERE profile_id = ?`, profileID); err != nil {
		return err
	}
	for i, seg := range layout {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO firmware_segments (profile_id, position, name, role, flash_offset, path)
			VALUES (?, ?, ?, ?, ?, ?)
		`, profileID, i, seg.Name, string(seg.Role), seg.Offset, seg.Path); err != nil {
			return fmt.Errorf("failed to store segment %s: %w", seg.Name, err)
		}
	}
	return nil
}
