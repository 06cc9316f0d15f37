// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() *ServerDescriptor {
	now := time.Date(2025, 6, 24, 3, 56, 0, 0, time.UTC)
	return &ServerDescriptor{
		ID:           "srv-1",
		Name:         "apollo",
		URL:          "http://localhost:5001/mcp",
		Transport:    TransportHTTP,
		Description:  "space mission data",
		Capabilities: []string{"space_data"},
		Keywords:     []string{"space", "astronaut"},
		Tools:        []string{"get_astronaut_details"},
		Auth:         map[string]string{"token": "t"},
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)
	d := testDescriptor()

	mock.ExpectExec("INSERT INTO mcp_servers").
		WithArgs(d.ID, d.Name, d.URL, "http", d.Description,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			d.Enabled, d.CreatedAt, d.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Save(context.Background(), d)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDuplicateName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)
	d := testDescriptor()

	// Another replica won the insert race on the unique name column.
	mock.ExpectExec("INSERT INTO mcp_servers").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "mcp_servers_name_key"})

	err = store.Save(context.Background(), d)
	assert.True(t, errors.Is(err, ErrDuplicateName), "expected ErrDuplicateName, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)
	d := testDescriptor()

	mock.ExpectExec("UPDATE mcp_servers").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Update(context.Background(), d)
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)

	mock.ExpectExec("DELETE FROM mcp_servers").
		WithArgs("srv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.Delete(context.Background(), "srv-1"))

	mock.ExpectExec("DELETE FROM mcp_servers").
		WithArgs("srv-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Delete(context.Background(), "srv-2")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func descriptorRows(d *ServerDescriptor) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "url", "transport", "description",
		"capabilities", "keywords", "tools", "auth",
		"enabled", "created_at", "updated_at",
	}).AddRow(
		d.ID, d.Name, d.URL, string(d.Transport), d.Description,
		[]byte(`["space_data"]`), []byte(`["space","astronaut"]`),
		[]byte(`["get_astronaut_details"]`), []byte(`{"token":"t"}`),
		d.Enabled, d.CreatedAt, d.UpdatedAt,
	)
}

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)
	d := testDescriptor()

	mock.ExpectQuery("SELECT (.+) FROM mcp_servers ORDER BY created_at").
		WillReturnRows(descriptorRows(d))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d.ID, list[0].ID)
	assert.Equal(t, []string{"space", "astronaut"}, list[0].Keywords)
	assert.Equal(t, map[string]string{"token": "t"}, list[0].Auth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStoreWithDB(db)
	d := testDescriptor()

	mock.ExpectQuery("SELECT (.+) FROM mcp_servers WHERE name").
		WithArgs("apollo").
		WillReturnRows(descriptorRows(d))

	got, err := store.GetByName(context.Background(), "apollo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "apollo", got.Name)

	// Absence is (nil, nil), not an error.
	mock.ExpectQuery("SELECT (.+) FROM mcp_servers WHERE name").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "url", "transport", "description",
			"capabilities", "keywords", "tools", "auth",
			"enabled", "created_at", "updated_at",
		}))

	got, err = store.GetByName(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
