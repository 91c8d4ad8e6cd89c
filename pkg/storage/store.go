// Package storage persists the function registry across controller
// restarts. The original controller-agent kept this purely in memory;
// spec.md §4.2 adds durability so a restarted controller rediscovers the
// functions it manages instead of orphaning their replicas.
package storage

import (
	"github.com/containerless/platform/pkg/types"
)

// Store is the function registry's persistence interface.
type Store interface {
	CreateFunction(fn *types.Function) error
	GetFunction(name string) (*types.Function, error)
	ListFunctions() ([]*types.Function, error)
	UpdateFunction(fn *types.Function) error
	DeleteFunction(name string) error
	Close() error
}
