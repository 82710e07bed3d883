package datasource

import (
	"context"
	"sort"
	"sync"
)

// AdapterInfo describes a registered source type.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql", "csv"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
}

// Opener connects to a source described by d. Pooled adapters share
// connections through pools under poolKey; file adapters ignore both.
type Opener func(ctx context.Context, d Descriptor, pools *ConnectionManager, poolKey string) (SourceReader, error)

// AdapterRegistration ties a source type to its opener.
type AdapterRegistration struct {
	Info AdapterInfo
	Open Opener
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetOpener returns the opener for a source type, or nil if it is not registered.
func GetOpener(sourceType string) Opener {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[sourceType]; ok {
		return reg.Open
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(sourceType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[sourceType]
	return ok
}
