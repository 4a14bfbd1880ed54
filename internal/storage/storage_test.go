package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func record(id string, state uint8, done time.Time) *smpp.MessageRecord {
	return &smpp.MessageRecord{
		ID:        id,
		SessionID: "s1",
		Submit: &smpp.SubmitSM{
			Source:       smpp.Address{TON: 1, NPI: 1, Addr: "447700900000"},
			Dest:         smpp.Address{TON: 1, NPI: 1, Addr: "447900000000"},
			ShortMessage: []byte("hi"),
		},
		State:       state,
		SubmittedAt: time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC),
		DoneAt:      done,
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Save(ctx, record("", smpp.MessageStateEnroute, time.Time{})); err == nil {
		t.Fatal("record without id saved")
	}
	if err := s.Save(ctx, record("m1", smpp.MessageStateEnroute, time.Time{})); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	got.State = smpp.MessageStateRejected
	if again, _ := s.Get(ctx, "m1"); again.State != smpp.MessageStateEnroute {
		t.Fatal("Get returned the stored record instead of a copy")
	}

	err = s.Update(ctx, "m1", func(r *smpp.MessageRecord) error {
		r.State = smpp.MessageStateDelivered
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, "m1"); got.State != smpp.MessageStateDelivered {
		t.Fatalf("state after update = %d", got.State)
	}

	failing := errors.New("refused")
	if err := s.Update(ctx, "m1", func(r *smpp.MessageRecord) error {
		r.State = smpp.MessageStateDeleted
		return failing
	}); !errors.Is(err, failing) {
		t.Fatalf("update error = %v", err)
	}
	if got, _ := s.Get(ctx, "m1"); got.State != smpp.MessageStateDelivered {
		t.Fatal("failed update was applied")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, smpp.ErrMessageNotFound) {
		t.Fatalf("Get missing: %v", err)
	}
	if err := s.Update(ctx, "missing", func(*smpp.MessageRecord) error { return nil }); !errors.Is(err, smpp.ErrMessageNotFound) {
		t.Fatalf("Update missing: %v", err)
	}

	if err := s.Delete(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "m1"); !errors.Is(err, smpp.ErrMessageNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("Count = %d", s.Count())
	}
}

func exercisePrune(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)

	s.Save(ctx, record("old-final", smpp.MessageStateDelivered, now.Add(-100*time.Hour)))
	s.Save(ctx, record("new-final", smpp.MessageStateDelivered, now.Add(-time.Hour)))
	s.Save(ctx, record("pending", smpp.MessageStateEnroute, time.Time{}))

	removed := s.Prune(now.Add(-72 * time.Hour))
	if len(removed) != 1 || removed[0] != "old-final" {
		t.Fatalf("pruned %v", removed)
	}
	if s.Count() != 2 {
		t.Fatalf("Count = %d after prune", s.Count())
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryMessageStore(nil))
}

func TestInMemoryPrune(t *testing.T) {
	exercisePrune(t, NewInMemoryMessageStore(nil))
}

func TestInMemoryBySession(t *testing.T) {
	s := NewInMemoryMessageStore(nil)
	ctx := context.Background()
	s.Save(ctx, record("a", smpp.MessageStateEnroute, time.Time{}))
	other := record("b", smpp.MessageStateEnroute, time.Time{})
	other.SessionID = "s2"
	s.Save(ctx, other)

	if got := s.BySession("s2"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("BySession = %+v", got)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileMessageStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
}

func TestFilePrune(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileMessageStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	exercisePrune(t, s)
	if _, err := os.Stat(filepath.Join(dir, "messages", "old-final.json")); !os.IsNotExist(err) {
		t.Fatalf("pruned message file still present: %v", err)
	}
}

func TestFileStoreReloads(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewFileMessageStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, record("m1", smpp.MessageStateEnroute, time.Time{})); err != nil {
		t.Fatal(err)
	}
	s.Update(ctx, "m1", func(r *smpp.MessageRecord) error {
		r.State = smpp.MessageStateDelivered
		return nil
	})

	reopened, err := NewFileMessageStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != smpp.MessageStateDelivered || got.Submit.Dest.Addr != "447900000000" || string(got.Submit.ShortMessage) != "hi" {
		t.Fatalf("reloaded record = %+v", got)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(smpp.StorageConfig{Type: "file", DataDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FileMessageStore); !ok {
		t.Fatalf("file config built %T", s)
	}
	s, _ = New(smpp.StorageConfig{}, nil)
	if _, ok := s.(*InMemoryMessageStore); !ok {
		t.Fatalf("default config built %T", s)
	}
}

func TestRunPrunerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPruner(ctx, NewInMemoryMessageStore(nil), time.Hour, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
