package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"whosaid/internal/docstore"
)

const dsnEnv = "WHOSAID_TEST_POSTGRES_DSN"

// openTestBackend connects to the database named by WHOSAID_TEST_POSTGRES_DSN
// and isolates the test under a unique collection prefix.
func openTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	backend, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
	})
	return backend, "test-" + uuid.NewString()
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestContainment(t *testing.T) {
	t.Parallel()

	data, ok, err := containment([]docstore.Filter{docstore.Eq("roundIndex", 1), docstore.Eq("released", true)})
	if err != nil || !ok {
		t.Fatalf("containment: ok=%v err=%v", ok, err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["roundIndex"] != float64(1) || got["released"] != true {
		t.Fatalf("containment = %s", data)
	}

	if _, ok, err := containment([]docstore.Filter{docstore.Eq("a", "x"), docstore.Eq("a", "y")}); err != nil || ok {
		t.Fatalf("conflicting filters: ok=%v err=%v", ok, err)
	}
	if _, _, err := containment([]docstore.Filter{docstore.Eq("a", []string{"x"})}); err == nil {
		t.Fatal("expected error for unsupported value")
	}
}

func TestCommitAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, prefix := openTestBackend(t)
	ref := docstore.Doc(prefix+"-rooms", "ABC123")

	if err := backend.Commit(ctx, map[docstore.Ref]int64{ref: 0}, []docstore.Write{{Ref: ref, Data: []byte(`{"phase":"PRE_START"}`)}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec, ok, err := backend.Load(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	var doc map[string]string
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["phase"] != "PRE_START" || rec.Version == 0 {
		t.Fatalf("record = %+v", rec)
	}

	err = backend.Commit(ctx, map[docstore.Ref]int64{ref: 0}, []docstore.Write{{Ref: ref, Data: []byte(`{}`)}})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("commit err = %v, want ErrConflict", err)
	}

	if err := backend.Commit(ctx, map[docstore.Ref]int64{ref: rec.Version}, []docstore.Write{{Ref: ref}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := backend.Load(ctx, ref); ok {
		t.Fatal("expected record to be deleted")
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, prefix := openTestBackend(t)
	col := docstore.Collection(prefix+"-rooms", "ABC123", "answers")

	writes := []docstore.Write{
		{Ref: docstore.Doc(col, "b"), Data: []byte(`{"roundIndex":0,"authorId":"u2","released":true}`)},
		{Ref: docstore.Doc(col, "a"), Data: []byte(`{"roundIndex":0,"authorId":"u1","released":true}`)},
		{Ref: docstore.Doc(col, "c"), Data: []byte(`{"roundIndex":1,"authorId":"u1","released":false}`)},
	}
	if err := backend.Commit(ctx, nil, writes); err != nil {
		t.Fatalf("commit: %v", err)
	}

	recs, err := backend.List(ctx, docstore.Where(col, docstore.Eq("roundIndex", 0), docstore.Eq("released", true)))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].Ref.ID != "a" || recs[1].Ref.ID != "b" {
		t.Fatalf("list = %+v, want a,b", recs)
	}

	recs, err = backend.List(ctx, docstore.Where(col))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
}
