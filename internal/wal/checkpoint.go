// ABOUTME: Background checkpointing: flush dirty pages, mark the WAL, archive old segments

package wal

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCheckpointInterval matches the engine's default background_flush_interval.
const DefaultCheckpointInterval = 30 * time.Second

// Checkpointer periodically flushes dirty pages and archives WAL segments
// that are no longer needed for recovery.
type Checkpointer struct {
	wal      *WAL
	interval time.Duration
	flushFn  func() error // flush every dirty page to the main file

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCheckpointer creates a checkpointer that calls flushFn on each tick.
func NewCheckpointer(w *WAL, interval time.Duration, flushFn func() error) *Checkpointer {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Checkpointer{wal: w, interval: interval, flushFn: flushFn}
}

// Start begins the background checkpoint loop.
func (c *Checkpointer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(c.stopCh, c.doneCh)
}

// Stop halts the background loop and waits for it to exit.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.stopCh = nil
	c.doneCh = nil
	c.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (c *Checkpointer) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.wal.log.LogOperation("checkpoint", 0, 0, c.Checkpoint())
		case <-stopCh:
			return
		}
	}
}

// Checkpoint flushes dirty pages, appends a checkpoint marker, fsyncs, and
// archives every segment preceding the checkpoint.
func (c *Checkpointer) Checkpoint() error {
	if err := c.flushFn(); err != nil {
		return fmt.Errorf("wal: checkpoint flush: %w", err)
	}

	lsn := c.wal.NextLSN()
	if err := c.wal.Append(Record{Kind: KindCheckpoint, LSN: lsn, CheckpointLSN: lsn}); err != nil {
		return fmt.Errorf("wal: checkpoint record: %w", err)
	}
	if err := c.wal.Fsync(); err != nil {
		return fmt.Errorf("wal: checkpoint fsync: %w", err)
	}

	c.wal.mu.Lock()
	currentIdx := c.wal.segIdx
	c.wal.mu.Unlock()

	for idx := 0; idx < currentIdx; idx++ {
		if err := c.wal.ArchiveSegment(idx); err != nil {
			return fmt.Errorf("wal: archive segment %d: %w", idx, err)
		}
	}
	return nil
}
