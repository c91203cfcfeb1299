package metastore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)

	value, found, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Errorf("found = true, want false")
	}
	if value != "" {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestPut_Get_Roundtrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "marker", "41782"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	value, found, err := s.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if value != "41782" {
		t.Errorf("value = %q, want %q", value, "41782")
	}
}

func TestPut_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "marker", "v1"); err != nil {
		t.Fatalf("first Put() failed: %v", err)
	}
	if err := s.Put(ctx, "marker", "v2"); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	value, _, err := s.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "v2" {
		t.Errorf("value = %q, want %q", value, "v2")
	}

	// Exactly one row regardless of how many puts ran.
	var count int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM INT_METADATA_STORE WHERE metadata_key = 'marker'",
	).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestPutIfAbsent_CreatesWhenMissing(t *testing.T) {
	s := createTestStore(t)

	prev, existed, err := s.PutIfAbsent(context.Background(), "leader", "worker-1")
	if err != nil {
		t.Fatalf("PutIfAbsent() failed: %v", err)
	}
	if existed {
		t.Errorf("existed = true, want false")
	}
	if prev != "" {
		t.Errorf("prev = %q, want empty", prev)
	}
}

func TestPutIfAbsent_ReturnsExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, _, err := s.PutIfAbsent(ctx, "leader", "worker-1"); err != nil {
		t.Fatalf("first PutIfAbsent() failed: %v", err)
	}

	prev, existed, err := s.PutIfAbsent(ctx, "leader", "worker-2")
	if err != nil {
		t.Fatalf("second PutIfAbsent() failed: %v", err)
	}
	if !existed {
		t.Fatal("existed = false, want true")
	}
	if prev != "worker-1" {
		t.Errorf("prev = %q, want %q", prev, "worker-1")
	}

	// The losing value must not be stored.
	value, _, err := s.Get(ctx, "leader")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "worker-1" {
		t.Errorf("stored value = %q, want %q", value, "worker-1")
	}
}

func TestReplace_Succeeds(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "leader", "worker-1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	replaced, err := s.Replace(ctx, "leader", "worker-1", "worker-2")
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if !replaced {
		t.Fatal("replaced = false, want true")
	}

	value, _, err := s.Get(ctx, "leader")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "worker-2" {
		t.Errorf("value = %q, want %q", value, "worker-2")
	}
}

func TestReplace_WrongOldValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "leader", "worker-1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	replaced, err := s.Replace(ctx, "leader", "worker-9", "worker-2")
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if replaced {
		t.Fatal("replaced = true, want false")
	}

	// Store unchanged after a failed swap.
	value, _, err := s.Get(ctx, "leader")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "worker-1" {
		t.Errorf("value = %q, want %q", value, "worker-1")
	}
}

func TestReplace_MissingKey(t *testing.T) {
	s := createTestStore(t)

	replaced, err := s.Replace(context.Background(), "ghost", "a", "b")
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if replaced {
		t.Error("replaced = true, want false")
	}
}

func TestRemove_ReturnsValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "marker", "v1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	value, existed, err := s.Remove(ctx, "marker")
	if err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if !existed {
		t.Fatal("existed = false, want true")
	}
	if value != "v1" {
		t.Errorf("value = %q, want %q", value, "v1")
	}

	_, found, err := s.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("key still present after Remove")
	}
}

func TestRemove_Twice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "marker", "v1"); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if _, existed, err := s.Remove(ctx, "marker"); err != nil || !existed {
		t.Fatalf("first Remove() = (existed=%v, err=%v), want (true, nil)", existed, err)
	}
	value, existed, err := s.Remove(ctx, "marker")
	if err != nil {
		t.Fatalf("second Remove() failed: %v", err)
	}
	if existed || value != "" {
		t.Errorf("second Remove() = (%q, %v), want empty and false", value, existed)
	}
}

func TestEmptyKey_Rejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Get err = %v, want ErrEmptyKey", err)
	}
	if err := s.Put(ctx, "", "v"); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Put err = %v, want ErrEmptyKey", err)
	}
	if _, _, err := s.PutIfAbsent(ctx, "", "v"); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("PutIfAbsent err = %v, want ErrEmptyKey", err)
	}
	if _, err := s.Replace(ctx, "", "a", "b"); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Replace err = %v, want ErrEmptyKey", err)
	}
	if _, _, err := s.Remove(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Remove err = %v, want ErrEmptyKey", err)
	}
}

func TestEmptyValue_Allowed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "flag", ""); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	value, found, err := s.Get(ctx, "flag")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if value != "" {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestPutIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const racers = 8
	type outcome struct {
		value   string
		prev    string
		existed bool
	}

	var wg sync.WaitGroup
	results := make(chan outcome, racers)
	for i := 0; i < racers; i++ {
		value := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev, existed, err := s.PutIfAbsent(ctx, "leader", value)
			if err != nil {
				t.Errorf("PutIfAbsent(%q) failed: %v", value, err)
				return
			}
			results <- outcome{value: value, prev: prev, existed: existed}
		}()
	}
	wg.Wait()
	close(results)

	stored, found, err := s.Get(ctx, "leader")
	if err != nil || !found {
		t.Fatalf("Get() after race = (found=%v, err=%v)", found, err)
	}

	winners := 0
	for res := range results {
		if !res.existed {
			winners++
			if res.value != stored {
				t.Errorf("winner wrote %q but store holds %q", res.value, stored)
			}
		} else if res.prev != stored {
			t.Errorf("loser observed %q, want the stored value %q", res.prev, stored)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestPut_ConcurrentUpserts_SingleRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		value := fmt.Sprintf("v%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Put(ctx, "marker", value); err != nil {
				t.Errorf("Put(%q) failed: %v", value, err)
			}
		}()
	}
	wg.Wait()

	var count int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM INT_METADATA_STORE WHERE metadata_key = 'marker'",
	).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

// TestPut_BlocksBehindWriteTransaction simulates the lock scenario across
// two store instances sharing one database file: while one holds a write
// transaction touching the key, the other's Put must not apply until the
// transaction commits.
func TestPut_BlocksBehindWriteTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	s1 := openTestStoreAt(t, path, Config{})
	s2 := openTestStoreAt(t, path, Config{})
	ctx := context.Background()

	if err := s1.Put(ctx, "marker", "v0"); err != nil {
		t.Fatalf("seed Put() failed: %v", err)
	}

	// s1 opens a write transaction and mutates the row, holding the lock.
	tx, err := s1.DB().Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, err := tx.Exec(
		"UPDATE INT_METADATA_STORE SET metadata_value = 'from-tx' WHERE metadata_key = 'marker'",
	); err != nil {
		t.Fatalf("tx update failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s2.Put(ctx, "marker", "from-put")
	}()

	// The concurrent Put must still be blocked while the transaction holds
	// the write lock.
	select {
	case err := <-done:
		t.Fatalf("Put() returned before commit (err=%v)", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put() after commit failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Put() still blocked after commit")
	}

	// The put applied after the transaction; no lost update.
	value, _, err := s1.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "from-put" {
		t.Errorf("final value = %q, want %q", value, "from-put")
	}
}

func TestRemove_ThenPut_Converges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	s1 := openTestStoreAt(t, path, Config{})
	s2 := openTestStoreAt(t, path, Config{})
	ctx := context.Background()

	if err := s1.Put(ctx, "marker", "v0"); err != nil {
		t.Fatalf("seed Put() failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, _, err := s1.Remove(ctx, "marker"); err != nil {
			t.Errorf("Remove() failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s2.Put(ctx, "marker", "v1"); err != nil {
			t.Errorf("Put() failed: %v", err)
		}
	}()
	wg.Wait()

	// Either order is legal; the store must hold v1 or nothing, never v0
	// and never a duplicate row.
	value, found, err := s1.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found && value != "v1" {
		t.Errorf("value = %q, want %q or absent", value, "v1")
	}

	var count int
	if err := s1.db.QueryRow(
		"SELECT COUNT(*) FROM INT_METADATA_STORE WHERE metadata_key = 'marker'",
	).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count > 1 {
		t.Errorf("row count = %d, want at most 1", count)
	}
}

func TestBackendError_WrapsDriverError(t *testing.T) {
	s := createTestStore(t)
	s.Close() // Force every statement to fail.

	_, _, err := s.Get(context.Background(), "k")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BackendError", err)
	}
	if be.Op != "get" {
		t.Errorf("Op = %q, want %q", be.Op, "get")
	}
	if be.Unwrap() == nil {
		t.Error("BackendError must carry the driver error")
	}
}
