// Package common provides shared types and interfaces for database engine providers
package common

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
)

// Provider represents a database engine: how to pre-check a connection and
// which native commands dump and restore it
type Provider interface {
	// Name returns the provider name (e.g., "mysql", "postgresql")
	Name() string

	// Connect opens a client handle against ep and pings it
	Connect(ctx context.Context, ep *connection.Endpoint) (*sql.DB, error)

	// ServerVersion runs the engine's version query on an open handle
	ServerVersion(ctx context.Context, db *sql.DB) (string, error)

	// DumpCommand builds the native dump invocation writing to target.
	// An empty database means every database on the server.
	DumpCommand(ep *connection.Endpoint, database, target string) Command

	// RestoreCommand builds the native restore invocation reading artifact
	RestoreCommand(ep *connection.Endpoint, database, artifact string) Command

	// RestoreTool names the client binary RestoreCommand needs
	RestoreTool() string
}

// ProviderFactory creates a database provider from configuration
type ProviderFactory interface {
	Create(tools config.ToolsConfig) (Provider, error)
}

// providerFactories stores the registered provider factories
var providerFactories = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory with the given name
func RegisterProvider(name string, factory ProviderFactory) {
	providerFactories[name] = factory
}

// GetProvider returns a provider factory for the given name
func GetProvider(name string) (ProviderFactory, bool) {
	factory, exists := providerFactories[name]
	return factory, exists
}

// CreateAll builds every registered provider
func CreateAll(tools config.ToolsConfig) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(providerFactories))
	for name, factory := range providerFactories {
		p, err := factory.Create(tools)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		providers[name] = p
	}
	return providers, nil
}

// Registered lists registered provider names
func Registered() []string {
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
