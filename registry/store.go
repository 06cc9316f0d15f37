// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package registry

import "context"

// Store is the persistence boundary for server descriptors. A confirmed
// write must survive a restart. GetByName returns (nil, nil) when no
// descriptor has that name; absence is not an error.
type Store interface {
	Save(ctx context.Context, d *ServerDescriptor) error
	Update(ctx context.Context, d *ServerDescriptor) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*ServerDescriptor, error)
	GetByName(ctx context.Context, name string) (*ServerDescriptor, error)
	Close() error
}
