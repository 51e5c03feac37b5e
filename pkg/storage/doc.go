// Package storage provides utilities shared across storage adapter
// implementations, including sentinel errors and tenant context helpers.
//
// Storage adapters (file, postgres) implement the principal.Store
// interface defined in pkg/storage/principal. This package contains
// only shared types and helpers, not the interface itself.
package storage
