// ABOUTME: _id generation policies: objectid (default), int64-identity, guid

package storage

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nainya/tdb/internal/value"
)

// IDPolicy names a collection's declared _id generation strategy.
type IDPolicy string

const (
	IDPolicyObjectID IDPolicy = "objectid"
	IDPolicyInt64    IDPolicy = "int64-identity"
	IDPolicyGUID     IDPolicy = "guid"
)

// IDGenerator produces fresh _id values for a collection according to its
// declared policy. Int64 generators carry their own persisted counter
// (saved in the catalog record alongside the collection's metadata).
type IDGenerator struct {
	policy  IDPolicy
	counter uint64
}

// NewIDGenerator constructs a generator for policy, restoring an
// int64-identity counter previously persisted in the catalog.
func NewIDGenerator(policy IDPolicy, startCounter uint64) *IDGenerator {
	return &IDGenerator{policy: policy, counter: startCounter}
}

// Next produces the next _id value. For int64-identity it also returns the
// updated counter so the caller can persist it in the catalog record.
func (g *IDGenerator) Next() (value.Value, uint64) {
	switch g.policy {
	case IDPolicyInt64:
		n := atomic.AddUint64(&g.counter, 1)
		return value.Int64(int64(n)), n
	case IDPolicyGUID:
		id := uuid.New()
		return value.Bin(4, id[:]), g.counter
	default:
		return value.Oid(value.NewObjectID()), g.counter
	}
}

// Counter returns the generator's current int64-identity counter value,
// for persisting alongside the catalog record.
func (g *IDGenerator) Counter() uint64 { return atomic.LoadUint64(&g.counter) }
