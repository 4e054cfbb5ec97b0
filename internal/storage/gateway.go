package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"autoprice/internal/dataset"
	"autoprice/internal/staging"
)

// Config is the minimal configuration needed to open a Gateway.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - The sqlite backend resolves <BaseDir>/<Database>.db when DSN is empty;
//     BaseDir defaults to the working directory.
//   - Every other backend uses DSN verbatim; validation is backend-specific.
type Config struct {
	Kind     string
	BaseDir  string
	Database string
	DSN      string
}

// Gateway is the backend-agnostic handle the pipeline stages data through.
//
// Each call acquires its own connection and releases it before returning;
// no connection or transaction outlives a call.
type Gateway interface {
	// Dialect reports the SQL flavour statements for this backend must use.
	Dialect() staging.Dialect

	// Execute runs statements in order inside one transaction. The first
	// failure rolls the whole batch back and is returned as *ExecError.
	Execute(ctx context.Context, stmts []staging.Statement) (Result, error)

	// Query runs a read and materializes the full result set.
	Query(ctx context.Context, query string, args ...any) (*dataset.Table, error)

	// Close releases the pool. Call once at shutdown.
	Close() error
}

// Result summarizes a committed Execute call.
type Result struct {
	Statements   int
	RowsAffected int64
}

// ExecError reports the statement that aborted an Execute batch. The batch
// was rolled back.
type ExecError struct {
	Index     int
	Statement staging.Statement
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("storage: statement %d failed (%s): %v", e.Index, e.Statement, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ErrUnknownKind is returned by Open for a kind nobody registered.
var ErrUnknownKind = errors.New("storage: unsupported kind")

// Factory builds a Gateway for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Gateway, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
// Call it from an init() function in the backend package.
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Gateway using the factory registered for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
