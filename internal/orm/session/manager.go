// Package session implements a unit-of-work entity manager over database/sql.
//
// A Session tracks the entities it has loaded or persisted in an identity map,
// loads relations lazily on demand and writes pending changes on flush. Sessions
// are bound to a transaction and to the context passed to Manager.Transactional.
package session

import (
	"context"
	"database/sql"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// DefaultIsolation uses the database default
	DefaultIsolation IsolationLevel = iota
	// ReadCommitted prevents dirty reads
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case ReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// ParseIsolation converts a configuration name such as "read_committed" to an
// IsolationLevel. The empty string and "default" mean DefaultIsolation.
func ParseIsolation(name string) (IsolationLevel, error) {
	switch strings.ToLower(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(name))) {
	case "", "default":
		return DefaultIsolation, nil
	case "read_committed":
		return ReadCommitted, nil
	case "repeatable_read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return DefaultIsolation, errors.Newf("unknown isolation level %q", name)
	}
}

// Manager opens sessions and runs work inside transactions
type Manager struct {
	db        *sql.DB
	dialect   query.Dialect
	registry  *schema.Registry
	logger    *zap.SugaredLogger
	isolation IsolationLevel
}

// NewManager creates a new session manager. The registry must be validated.
func NewManager(db *sql.DB, dialect query.Dialect, registry *schema.Registry, logger *zap.SugaredLogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if dialect == nil {
		return nil, errors.New("dialect is required")
	}
	if registry == nil {
		return nil, errors.New("schema registry is required")
	}
	if !registry.Sealed() {
		return nil, errors.New("schema registry must be validated")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{db: db, dialect: dialect, registry: registry, logger: logger}, nil
}

// WithIsolation returns a copy of the manager that begins transactions at the given level
func (m *Manager) WithIsolation(level IsolationLevel) *Manager {
	clone := *m
	clone.isolation = level
	return &clone
}

// Isolation returns the level transactions begin at
func (m *Manager) Isolation() IsolationLevel {
	return m.isolation
}

// Registry returns the schema registry
func (m *Manager) Registry() *schema.Registry {
	return m.registry
}

// Dialect returns the SQL dialect
func (m *Manager) Dialect() query.Dialect {
	return m.dialect
}

// Transactional runs fn inside a transaction with a session bound to the
// context it receives. Pending changes are flushed before commit. The
// transaction rolls back when fn returns an error or panics. When ctx already
// carries a session of this manager, fn joins it.
func (m *Manager) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	if s, ok := FromContext(ctx); ok && s.manager == m {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, m.isolation.ToSQLOptions())
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	s := newSession(m, tx)
	txCtx := WithContext(ctx, s)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(txCtx); err != nil {
		return rollback(tx, err)
	}
	if err := s.Flush(txCtx); err != nil {
		return rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(ConvertDBError(err), "failed to commit transaction")
	}
	return nil
}

func rollback(tx *sql.Tx, cause error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.WithSecondaryError(cause, errors.Wrap(rbErr, "rollback failed"))
	}
	return cause
}

func (m *Manager) session(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok || s.manager != m {
		return nil, ErrNoSession
	}
	return s, nil
}

// Find loads an entity by identifier from the session bound to ctx
func (m *Manager) Find(ctx context.Context, entityType reflect.Type, id any) (any, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, entityType, id)
}

// Persist inserts a new entity through the session bound to ctx
func (m *Manager) Persist(ctx context.Context, entity any) error {
	s, err := m.session(ctx)
	if err != nil {
		return err
	}
	return s.Persist(ctx, entity)
}

// Remove deletes a managed entity through the session bound to ctx
func (m *Manager) Remove(ctx context.Context, entity any) error {
	s, err := m.session(ctx)
	if err != nil {
		return err
	}
	return s.Remove(ctx, entity)
}

// Merge copies the state of entity onto its managed instance in the session bound to ctx
func (m *Manager) Merge(ctx context.Context, entity any) (any, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.Merge(ctx, entity)
}

// Initialize loads a relation of a managed entity in the session bound to ctx
func (m *Manager) Initialize(ctx context.Context, entity any, field string) error {
	s, err := m.session(ctx)
	if err != nil {
		return err
	}
	return s.Initialize(ctx, entity, field)
}

// IsLoaded reports whether the entity, or one of its relations when field is
// not empty, has been loaded. Entities outside a session are always loaded.
func (m *Manager) IsLoaded(ctx context.Context, entity any, field string) bool {
	s, err := m.session(ctx)
	if err != nil {
		return true
	}
	return s.IsLoaded(entity, field)
}

// ResultList executes a criteria in the session bound to ctx
func (m *Manager) ResultList(ctx context.Context, c *query.Criteria) ([]any, error) {
	s, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.ResultList(ctx, c)
}

// Count counts the entities selected by a criteria in the session bound to ctx
func (m *Manager) Count(ctx context.Context, c *query.Criteria) (int64, error) {
	s, err := m.session(ctx)
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, c)
}

// Instantiate returns a new, unmanaged entity of the given type
func (m *Manager) Instantiate(entityType reflect.Type) (any, error) {
	mapping, ok := m.registry.ForType(entityType)
	if !ok {
		return nil, errors.Newf("no mapping registered for %v", entityType)
	}
	return mapping.New(), nil
}

// IdentifierOf returns the identifier of an entity
func (m *Manager) IdentifierOf(entity any) (any, error) {
	mapping, err := m.registry.ForEntity(entity)
	if err != nil {
		return nil, err
	}
	return mapping.IdentifierOf(entity)
}
