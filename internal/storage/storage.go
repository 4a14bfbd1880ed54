// Package storage provides the message stores behind the SMSC's
// DefaultMessageHandler.
package storage

import (
	"context"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// Store is a smpp.MessageStore that can also be pruned.
type Store interface {
	smpp.MessageStore
	Count() int
	Prune(cutoff time.Time) []string
}

var (
	_ Store = (*InMemoryMessageStore)(nil)
	_ Store = (*FileMessageStore)(nil)
)

// New builds the store selected by cfg.
func New(cfg smpp.StorageConfig, logger smpp.Logger) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileMessageStore(cfg.DataDir, logger)
	default:
		return NewInMemoryMessageStore(logger), nil
	}
}

// RunPruner removes final messages older than retention every interval
// until ctx is done. A non-positive retention disables pruning.
func RunPruner(ctx context.Context, store Store, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			store.Prune(now.Add(-retention))
		}
	}
}
