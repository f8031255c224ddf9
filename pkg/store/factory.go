package store

import "fmt"

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverNeo4j  = "neo4j"
)

// Options configure the store factory.
type Options struct {
	Driver   string
	URI      string
	Username string
	Password string
	Database string
}

// Open creates a GraphStore for the configured driver.
func Open(opts Options) (GraphStore, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverNeo4j:
		return NewNeo4jStore(opts.URI, opts.Username, opts.Password, opts.Database)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}
