// ABOUTME: Crash recovery: redo committed page images, undo uncommitted ones

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PageWriter is the narrow interface recovery needs from the page manager:
// writing a raw page image back to the main data file by page id.
type PageWriter interface {
	WritePage(id uint32, data []byte) error
}

// ListSegments returns the paths of a database's WAL segments, in order.
func ListSegments(dir, baseName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type indexed struct {
		idx  int
		path string
	}
	var found []indexed
	prefix := baseName + ".wal."
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(name[len(prefix):], "%06d", &idx); err == nil {
			found = append(found, indexed{idx, filepath.Join(dir, name)})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].idx < found[j].idx })
	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

// Result summarizes what recovery did.
type Result struct {
	RedoneImages  int
	UndoneImages  int
	CommittedTxns int
	AbortedTxns   int
}

// Recover replays every segment in dir: committed transactions' after-images
// are reapplied (redo, idempotent), and transactions with no commit or abort
// marker have their before-images reapplied in reverse order (undo), per the
// write-ahead rule that a dirty page may reach disk before its transaction
// commits.
func Recover(dir, baseName string, pw PageWriter) (Result, error) {
	segments, err := ListSegments(dir, baseName)
	if err != nil {
		return Result{}, err
	}

	var all []Record
	for _, seg := range segments {
		recs, err := ReadSegment(seg)
		if err != nil {
			return Result{}, err
		}
		all = append(all, recs...)
	}

	committed := map[uint64]bool{}
	aborted := map[uint64]bool{}
	for _, r := range all {
		switch r.Kind {
		case KindCommit:
			committed[r.TxnID] = true
		case KindAbort:
			aborted[r.TxnID] = true
		}
	}

	var res Result
	res.CommittedTxns = len(committed)
	res.AbortedTxns = len(aborted)

	// Redo: committed transactions' after-images, forward LSN order.
	for _, r := range all {
		if r.Kind != KindPageImage || !committed[r.TxnID] {
			continue
		}
		if err := pw.WritePage(r.PageID, r.After); err != nil {
			return res, fmt.Errorf("wal: redo page %d: %w", r.PageID, err)
		}
		res.RedoneImages++
	}

	// Undo: transactions with neither commit nor abort, reverse LSN order.
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if r.Kind != KindPageImage || committed[r.TxnID] || aborted[r.TxnID] {
			continue
		}
		if r.Before == nil {
			continue // page was never written before this transaction touched it
		}
		if err := pw.WritePage(r.PageID, r.Before); err != nil {
			return res, fmt.Errorf("wal: undo page %d: %w", r.PageID, err)
		}
		res.UndoneImages++
	}

	return res, nil
}
