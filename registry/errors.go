// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import "errors"

var (
	// ErrValidation is returned when a server config fails validation
	ErrValidation = errors.New("invalid server config")

	// ErrDuplicateName is returned when a server name is already registered
	ErrDuplicateName = errors.New("server name already registered")

	// ErrNotFound is returned when a server ID does not exist
	ErrNotFound = errors.New("server not found")

	// ErrStorageUnavailable is returned when the persistent store cannot be reached
	ErrStorageUnavailable = errors.New("registry storage unavailable")
)
