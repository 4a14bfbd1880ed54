package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// FileMessageStore keeps one JSON file per message under dataDir/messages
// and serves reads from an in-memory copy loaded at startup.
type FileMessageStore struct {
	dataDir string
	cache   *InMemoryMessageStore
	logger  smpp.Logger
}

// NewFileMessageStore creates the data directory if needed and loads any
// messages already in it.
func NewFileMessageStore(dataDir string, logger smpp.Logger) (*FileMessageStore, error) {
	fs := &FileMessageStore{
		dataDir: dataDir,
		cache:   NewInMemoryMessageStore(nil),
		logger:  logger,
	}
	if err := fs.loadMessages(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Save implements smpp.MessageStore.
func (fs *FileMessageStore) Save(ctx context.Context, rec *smpp.MessageRecord) error {
	if err := fs.cache.Save(ctx, rec); err != nil {
		return err
	}
	if err := fs.saveMessage(rec); err != nil {
		_ = fs.cache.Delete(ctx, rec.ID)
		return err
	}
	if fs.logger != nil {
		fs.logger.Debug("Message stored to file", "message_id", rec.ID)
	}
	return nil
}

// Get implements smpp.MessageStore.
func (fs *FileMessageStore) Get(ctx context.Context, id string) (*smpp.MessageRecord, error) {
	return fs.cache.Get(ctx, id)
}

// Update implements smpp.MessageStore.
func (fs *FileMessageStore) Update(ctx context.Context, id string, fn func(*smpp.MessageRecord) error) error {
	rec, err := fs.cache.update(id, fn)
	if err != nil {
		return err
	}
	return fs.saveMessage(rec)
}

// Delete implements smpp.MessageStore.
func (fs *FileMessageStore) Delete(ctx context.Context, id string) error {
	if err := fs.cache.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(fs.getMessageFilename(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete message file: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (fs *FileMessageStore) Count() int {
	return fs.cache.Count()
}

// Prune removes final records completed before cutoff, along with their
// files.
func (fs *FileMessageStore) Prune(cutoff time.Time) []string {
	removed := fs.cache.Prune(cutoff)
	for _, id := range removed {
		if err := os.Remove(fs.getMessageFilename(id)); err != nil && !os.IsNotExist(err) && fs.logger != nil {
			fs.logger.Warn("Failed to remove message file", "message_id", id, "error", err)
		}
	}
	return removed
}

func (fs *FileMessageStore) loadMessages() error {
	messagesDir := filepath.Join(fs.dataDir, "messages")
	if err := os.MkdirAll(messagesDir, 0755); err != nil {
		return fmt.Errorf("failed to create messages directory: %w", err)
	}

	entries, err := os.ReadDir(messagesDir)
	if err != nil {
		return fmt.Errorf("failed to read messages directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		filename := filepath.Join(messagesDir, entry.Name())
		rec, err := loadMessage(filename)
		if err != nil {
			if fs.logger != nil {
				fs.logger.Warn("Failed to load message file", "filename", filename, "error", err)
			}
			continue
		}
		_ = fs.cache.Save(context.Background(), rec)
	}

	if fs.logger != nil {
		fs.logger.Info("Loaded messages from files", "count", fs.cache.Count())
	}
	return nil
}

func loadMessage(filename string) (*smpp.MessageRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec smpp.MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("message file has no id")
	}
	return &rec, nil
}

// saveMessage writes through a temporary file so a crash never leaves a
// half-written record.
func (fs *FileMessageStore) saveMessage(rec *smpp.MessageRecord) error {
	filename := fs.getMessageFilename(rec.ID)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func (fs *FileMessageStore) getMessageFilename(messageID string) string {
	return filepath.Join(fs.dataDir, "messages", filepath.Base(messageID)+".json")
}
