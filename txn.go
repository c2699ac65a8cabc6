// ABOUTME: Txn: user-facing transaction handle wrapping internal/txn.Txn
// ABOUTME: scopes Insert/Update/Delete/FindByID and savepoints to one engine

package tdb

import (
	"context"

	internaltxn "github.com/nainya/tdb/internal/txn"
	"github.com/nainya/tdb/internal/value"
)

// Txn is an active transaction against an Engine. Not safe for concurrent
// use by multiple goroutines.
type Txn struct {
	engine *Engine
	inner  *internaltxn.Txn
}

// ID returns the transaction's engine-assigned identifier.
func (t *Txn) ID() uint64 { return t.inner.ID() }

// Insert buffers an insert, assigning _id from the collection's declared
// policy if doc doesn't already carry one.
func (t *Txn) Insert(collection string, doc *value.Document) (value.Value, error) {
	return t.inner.Insert(collection, doc)
}

// Update buffers an update against the document currently visible at id.
func (t *Txn) Update(collection string, id value.Value, newDoc *value.Document) error {
	return t.inner.Update(collection, id, newDoc)
}

// Delete buffers a delete of the document currently visible at id.
func (t *Txn) Delete(collection string, id value.Value) error {
	return t.inner.Delete(collection, id)
}

// FindByID reads the merge of committed state and this transaction's own
// buffered writes.
func (t *Txn) FindByID(collection string, id value.Value) (*value.Document, bool, error) {
	return t.inner.FindByID(collection, id)
}

// Savepoint is a named point within a transaction that RollbackTo or
// Release can later reference.
type Savepoint int

// CreateSavepoint marks the transaction's current position.
func (t *Txn) CreateSavepoint(name string) Savepoint {
	return Savepoint(t.inner.CreateSavepoint(name))
}

// RollbackTo discards every op buffered after sp, keeping sp itself valid
// for a further rollback.
func (t *Txn) RollbackTo(sp Savepoint) error {
	return t.inner.RollbackTo(int(sp))
}

// ReleaseSavepoint discards sp and any savepoint nested inside it, without
// undoing buffered operations.
func (t *Txn) ReleaseSavepoint(sp Savepoint) error {
	return t.inner.ReleaseSavepoint(int(sp))
}

// Commit acquires commit-time locks, applies every buffered op to physical
// storage, validates foreign keys, and durably commits per the engine's
// write concern. On any failure the transaction is rolled back and the
// error is returned.
func (t *Txn) Commit(ctx context.Context) error {
	return t.inner.Commit(ctx)
}

// Rollback discards every buffered operation.
func (t *Txn) Rollback() error {
	return t.inner.Rollback()
}
