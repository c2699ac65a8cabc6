// ABOUTME: The narrow page-manager interface the B+tree mutates pages through
// ABOUTME: all mutation is in place; the caller's pager owns caching, dirty tracking, and WAL

package btree

import "github.com/nainya/tdb/internal/page"

// Pager is implemented by internal/storage's page manager. The tree never
// touches a file descriptor directly: every page it reads or writes passes
// through here, so the pager can serve it from cache, mark it dirty, and
// log a before/after image to the WAL.
type Pager interface {
	Alloc(typ page.Type) (*page.Page, error)
	Get(id uint32) (*page.Page, error)
	MarkDirty(id uint32) error
	Free(id uint32) error
	PageSize() int
}
