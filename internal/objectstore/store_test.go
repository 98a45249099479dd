package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestMockStorePutGetDelete(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	data := []byte("segment bytes")
	if err := store.Put(ctx, "journal/pq.0/00000000.seg", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, "journal/pq.0/00000000.seg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	if err := store.Delete(ctx, "journal/pq.0/00000000.seg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "journal/pq.0/00000000.seg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMockStoreDeleteIdempotent(t *testing.T) {
	store := NewMockStore()
	if err := store.Delete(context.Background(), "pools/1/absent"); err != nil {
		t.Errorf("Delete of absent object = %v, want nil", err)
	}
	if got := store.Deletes(); len(got) != 1 || got[0] != "pools/1/absent" {
		t.Errorf("Deletes = %v", got)
	}
}

func TestMockStoreListPrefix(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, key := range []string{
		"journal/pq.0/00000000.seg",
		"journal/pq.0/00001000.seg",
		"pools/1/42.00000000",
	} {
		store.Put(ctx, key, bytes.NewReader([]byte("x")), 1)
	}

	metas, err := store.List(ctx, "journal/pq.0/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List returned %d objects, want 2", len(metas))
	}
	if metas[0].Key > metas[1].Key {
		t.Error("List results not sorted")
	}
}

func TestObjectErrorUnwrap(t *testing.T) {
	err := &ObjectError{Op: "Get", Key: "pools/1/42.00000000", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("ObjectError does not unwrap to ErrNotFound")
	}
	if err.Error() == "" {
		t.Error("empty error string")
	}
}

type countingRecorder struct {
	puts, gets, heads, deletes, lists int
	readBytes                         int64
}

func (r *countingRecorder) RecordPut(_ float64, _ bool, _ int64) { r.puts++ }
func (r *countingRecorder) RecordGet(_ float64, _ bool, bytes int64) {
	r.gets++
	r.readBytes += bytes
}
func (r *countingRecorder) RecordHead(_ float64, _ bool) { r.heads++ }
func (r *countingRecorder) RecordDelete(_ float64, _ bool) { r.deletes++ }
func (r *countingRecorder) RecordList(_ float64, _ bool) { r.lists++ }

func TestInstrumentedStoreRecordsOps(t *testing.T) {
	rec := &countingRecorder{}
	store := NewInstrumentedStore(NewMockStore(), rec)
	ctx := context.Background()

	data := []byte("hello")
	store.Put(ctx, "k", bytes.NewReader(data), int64(len(data)))
	rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	io.ReadAll(rc)
	rc.Close()
	store.Head(ctx, "k")
	store.Delete(ctx, "k")
	store.List(ctx, "")

	if rec.puts != 1 || rec.gets != 1 || rec.heads != 1 || rec.deletes != 1 || rec.lists != 1 {
		t.Errorf("recorder counts = %+v", rec)
	}
	if rec.readBytes != int64(len(data)) {
		t.Errorf("readBytes = %d, want %d", rec.readBytes, len(data))
	}
}
