package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

func testID(s string) ObjectID {
	var id ObjectID
	copy(id[:], s)
	return id
}

func newTestTable(t *testing.T, capacity int64) (*objectTable, *[]Event) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []Event
	)
	table, err := newObjectTable(t.TempDir(), capacity, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("newObjectTable failed: %v", err)
	}
	return table, &events
}

func TestObjectLifecycle(t *testing.T) {
	table, events := newTestTable(t, 0)
	id := testID("lifecycle")

	buf, err := table.create(1, id, 128)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if st, err := os.Stat(buf.Path); err != nil || st.Size() != 128 {
		t.Fatalf("Expected a 128 byte object file, got %v %v", st, err)
	}
	if table.contains(id) {
		t.Errorf("Unsealed object must not be reported as present")
	}

	if _, err := table.create(2, id, 128); !errors.Is(err, errs.ObjectExists) {
		t.Errorf("Expected ObjectExists, got %v", err)
	}
	if err := table.seal(2, id); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected only the creator to seal, got %v", err)
	}
	if err := table.seal(1, id); err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if err := table.seal(1, id); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected double seal to fail, got %v", err)
	}
	if !table.contains(id) {
		t.Errorf("Sealed object should be present")
	}

	got, err := table.get(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Size != 128 || got.Path != buf.Path {
		t.Errorf("Unexpected buffer %+v", got)
	}
	if err := table.remove(id); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected delete of a referenced object to fail, got %v", err)
	}
	if err := table.release(id); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := table.release(id); !errors.Is(err, errs.NotAcquired) {
		t.Errorf("Expected NotAcquired, got %v", err)
	}
	if err := table.remove(id); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(buf.Path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected object file to be deleted, got %v", err)
	}

	want := []EventKind{EventCreated, EventSealed, EventDeleted}
	if len(*events) != len(want) {
		t.Fatalf("Expected %d events, got %+v", len(want), *events)
	}
	for i, ev := range *events {
		if ev.Kind != want[i] || ev.ID != id {
			t.Errorf("Event %d: expected %s, got %+v", i, want[i], ev)
		}
	}
}

func TestCreateRejectsBadSize(t *testing.T) {
	table, _ := newTestTable(t, 0)
	if _, err := table.create(1, testID("zero"), 0); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestGetDeadline(t *testing.T) {
	table, _ := newTestTable(t, 0)

	deadline := 150 * time.Millisecond
	start := time.Now()
	_, err := table.get(context.Background(), testID("never-written"), deadline)
	elapsed := time.Since(start)
	if !errors.Is(err, errs.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if elapsed < deadline || elapsed > deadline+200*time.Millisecond {
		t.Errorf("get returned after %v, deadline was %v", elapsed, deadline)
	}

	id := testID("unsealed")
	if _, err := table.create(1, id, 16); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	start = time.Now()
	_, err = table.get(context.Background(), id, deadline)
	if !errors.Is(err, errs.Timeout) {
		t.Errorf("Expected Timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > deadline+200*time.Millisecond {
		t.Errorf("get overran its deadline: %v", elapsed)
	}

	if _, err := table.get(context.Background(), id, 0); !errors.Is(err, errs.Timeout) {
		t.Errorf("Expected Timeout without waiting, got %v", err)
	}
}

func TestGetWakesOnSeal(t *testing.T) {
	table, _ := newTestTable(t, 0)
	id := testID("later")

	done := make(chan error, 1)
	go func() {
		_, err := table.get(context.Background(), id, 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := table.create(1, id, 32); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("get returned before seal: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	start := time.Now()
	if err := table.seal(1, id); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if time.Since(start) > time.Second {
			t.Errorf("get woke up late")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("get did not wake up on seal")
	}
}

func TestGetCancelled(t *testing.T) {
	table, _ := newTestTable(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if _, err := table.get(ctx, testID("x"), 10*time.Second); !errors.Is(err, errs.ConnectionError) {
		t.Errorf("Expected ConnectionError on shutdown, got %v", err)
	}
}

func TestEviction(t *testing.T) {
	table, events := newTestTable(t, 300)

	for _, name := range []string{"a", "b", "c"} {
		id := testID(name)
		if _, err := table.create(1, id, 100); err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
		if err := table.seal(1, id); err != nil {
			t.Fatalf("seal %s failed: %v", name, err)
		}
	}

	// Touch "a" so "b" becomes the oldest idle object.
	if _, err := table.get(context.Background(), testID("a"), time.Second); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := table.release(testID("a")); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	if _, err := table.create(1, testID("d"), 100); err != nil {
		t.Fatalf("create with eviction failed: %v", err)
	}
	if table.contains(testID("b")) {
		t.Errorf("Expected b to be evicted")
	}
	if !table.contains(testID("a")) || !table.contains(testID("c")) {
		t.Errorf("Expected a and c to survive")
	}

	evicted := 0
	for _, ev := range *events {
		if ev.Kind == EventEvicted {
			evicted++
			if ev.ID != testID("b") {
				t.Errorf("Unexpected eviction of %s", ev.ID)
			}
		}
	}
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}

	if st := table.stats(); st.BytesUsed != 300 || st.Objects != 3 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestStoreFull(t *testing.T) {
	table, _ := newTestTable(t, 100)

	if _, err := table.create(1, testID("big"), 101); !errors.Is(err, errs.StoreFull) {
		t.Errorf("Expected StoreFull, got %v", err)
	}

	// An unsealed object can never be evicted.
	if _, err := table.create(1, testID("pending"), 80); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := table.create(1, testID("more"), 30); !errors.Is(err, errs.StoreFull) {
		t.Errorf("Expected StoreFull, got %v", err)
	}
	if err := table.abort(1, testID("pending")); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if _, err := table.create(1, testID("more"), 30); err != nil {
		t.Errorf("create after abort failed: %v", err)
	}
}

func TestListAndPurge(t *testing.T) {
	table, _ := newTestTable(t, 0)
	for _, name := range []string{"one", "two"} {
		if _, err := table.create(1, testID(name), 10); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if err := table.seal(1, testID("one")); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	infos := table.list()
	if len(infos) != 2 || infos[0].ID != testID("one") || !infos[0].Sealed || infos[1].Sealed {
		t.Fatalf("Unexpected listing %+v", infos)
	}

	if err := table.purge(); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if len(table.list()) != 0 {
		t.Errorf("Expected empty table after purge")
	}
}
