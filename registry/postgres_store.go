// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore connects to PostgreSQL and initializes the schema.
// The connection is retried with a linear backoff to absorb container
// DNS startup delays.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[ServerStore] Database connection failed (attempt %d/%d): %v, retrying in %v", attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	store := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[ServerStore] ", log.LstdFlags),
	}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.logger.Println("PostgreSQL server store initialized")
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, primarily for tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[ServerStore] ", log.LstdFlags),
	}
}

func (s *PostgresStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS mcp_servers (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		url TEXT NOT NULL,
		transport VARCHAR(16) NOT NULL DEFAULT 'http',
		description TEXT NOT NULL DEFAULT '',
		capabilities JSONB NOT NULL DEFAULT '[]'::jsonb,
		keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
		tools JSONB NOT NULL DEFAULT '[]'::jsonb,
		auth JSONB NOT NULL DEFAULT '{}'::jsonb,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_mcp_servers_enabled ON mcp_servers(enabled);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Println("Server schema initialized")
	return nil
}

func marshalDescriptorJSON(d *ServerDescriptor) (capabilities, keywords, tools, auth []byte, err error) {
	if capabilities, err = json.Marshal(emptyIfNil(d.Capabilities)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	if keywords, err = json.Marshal(emptyIfNil(d.Keywords)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal keywords: %w", err)
	}
	if tools, err = json.Marshal(emptyIfNil(d.Tools)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal tools: %w", err)
	}
	authMap := d.Auth
	if authMap == nil {
		authMap = map[string]string{}
	}
	if auth, err = json.Marshal(authMap); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal auth: %w", err)
	}
	return capabilities, keywords, tools, auth, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Save persists a new descriptor.
func (s *PostgresStore) Save(ctx context.Context, d *ServerDescriptor) error {
	capabilities, keywords, tools, auth, err := marshalDescriptorJSON(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO mcp_servers (id, name, url, transport, description, capabilities, keywords, tools, auth, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.Name, d.URL, string(d.Transport), d.Description,
		capabilities, keywords, tools, auth, d.Enabled, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		// A concurrent replica may have inserted the same name first.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		return fmt.Errorf("failed to save server: %w", err)
	}

	s.logger.Printf("Saved server %q (%s)", d.Name, d.ID)
	return nil
}

// Update overwrites an existing descriptor. The name and creation time
// never change after Save.
func (s *PostgresStore) Update(ctx context.Context, d *ServerDescriptor) error {
	capabilities, keywords, tools, auth, err := marshalDescriptorJSON(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE mcp_servers
		SET url = $2, transport = $3, description = $4, capabilities = $5,
			keywords = $6, tools = $7, auth = $8, enabled = $9, updated_at = $10
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		d.ID, d.URL, string(d.Transport), d.Description,
		capabilities, keywords, tools, auth, d.Enabled, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, d.ID)
	}

	return nil
}

// Delete removes a descriptor, returning ErrNotFound if the ID is absent.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.logger.Printf("Deleted server %s", id)
	return nil
}

const selectColumns = `id, name, url, transport, description, capabilities, keywords, tools, auth, enabled, created_at, updated_at`

func scanDescriptor(scan func(dest ...interface{}) error) (*ServerDescriptor, error) {
	var d ServerDescriptor
	var transport string
	var capabilities, keywords, tools, auth []byte

	if err := scan(&d.ID, &d.Name, &d.URL, &transport, &d.Description,
		&capabilities, &keywords, &tools, &auth, &d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	d.Transport = Transport(transport)
	if err := json.Unmarshal(capabilities, &d.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal(keywords, &d.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(tools, &d.Tools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(auth, &d.Auth); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth: %w", err)
	}

	return &d, nil
}

// List returns all descriptors ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]*ServerDescriptor, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_servers ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ServerDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

// GetByName returns the descriptor with that name, or (nil, nil) when absent.
func (s *PostgresStore) GetByName(ctx context.Context, name string) (*ServerDescriptor, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_servers WHERE name = $1`

	row := s.db.QueryRowContext(ctx, query, name)
	d, err := scanDescriptor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server by name: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
