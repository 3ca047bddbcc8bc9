package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var ErrAPIServerNotFound = errors.New("api server config not found")

// APIServer represents API server configuration.
type APIServer struct {
	ID        int64
	ProfileID int64
	Host      string
	Port      int
	CreatedAt time.Time
}

// Address returns the API server listen address (host:port).
func (a *APIServer) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// APIServerStore reads and writes the listen address of a profile.
type APIServerStore interface {
	Get(ctx context.Context, profileID int64) (*APIServer, error)
	SetAddress(ctx context.Context, profileID int64, addr string) error
}

// APIServers returns an APIServerStore for this database.
func (db *DB) APIServers() APIServerStore {
	return &apiServerStore{db: db}
}

type apiServerStore struct {
	db *DB
}

func (s *apiServerStore) Get(ctx context.Context, profileID int64) (*APIServer, error) {
	a := &APIServer{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, host, port, created_at
		FROM api_servers WHERE profile_id = ?
	`, profileID).Scan(&a.ID, &a.ProfileID, &a.Host, &a.Port, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIServerNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	return a, nil
}

// SetAddress stores a host:port listen address, creating the row if needed.
func (s *apiServerStore) SetAddress(ctx context.Context, profileID int64, addr string) error {
	host, port, err := splitAddress(addr)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_servers (profile_id, host, port) VALUES (?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET host = excluded.host, port = excluded.port
	`, profileID, host, port)
	return err
}

// splitAddress parses host:port; an empty host listens on all interfaces.
func splitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
