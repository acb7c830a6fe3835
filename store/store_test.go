package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/metrics"
)

func TestMemStore_SetMultiAndGet(t *testing.T) {
	ctx := context.Background()
	st := NewMem()

	err := st.SetMulti(ctx, map[string]string{
		chms.KeyAuthToken:    "at",
		chms.KeyRefreshToken: "rt",
	})
	if err != nil {
		t.Fatalf("SetMulti error: %v", err)
	}

	if v, _ := st.Get(ctx, chms.KeyAuthToken); v != "at" {
		t.Errorf("Get(authToken) = %q, want %q", v, "at")
	}
	if v, _ := st.Get(ctx, "missing"); v != "" {
		t.Errorf("Get(missing) = %q, want empty", v)
	}
}

func TestMemStore_Delete(t *testing.T) {
	ctx := context.Background()
	st := NewMem()
	_ = st.SetMulti(ctx, map[string]string{"a": "1", "b": "2"})

	if err := st.Delete(ctx, "a", "b", "never-existed"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", st.Len())
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	st, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}

	err = st.SetMulti(ctx, map[string]string{
		chms.KeyAuthToken:   "token-1",
		chms.KeyTokenExpiry: "2030-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("SetMulti error: %v", err)
	}

	// Reopen and verify the batch survived.
	st2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if v, _ := st2.Get(ctx, chms.KeyAuthToken); v != "token-1" {
		t.Errorf("Get after reopen = %q, want %q", v, "token-1")
	}
}

func TestFileStore_DeleteClearsDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	st, _ := OpenFile(path)
	_ = st.SetMulti(ctx, map[string]string{"k": "v"})
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	st2, _ := OpenFile(path)
	if v, _ := st2.Get(ctx, "k"); v != "" {
		t.Errorf("deleted key survived reopen: %q", v)
	}
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile on corrupt file should not error, got %v", err)
	}
	if v, _ := st.Get(ctx, chms.KeyAuthToken); v != "" {
		t.Errorf("corrupt store should read as empty, got %q", v)
	}

	// Writing after corruption recovers the file.
	if err := st.SetMulti(ctx, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SetMulti after corruption: %v", err)
	}
	st2, _ := OpenFile(path)
	if v, _ := st2.Get(ctx, "k"); v != "v" {
		t.Errorf("recovered store Get = %q, want %q", v, "v")
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	st, err := OpenFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("OpenFile on missing file should not error, got %v", err)
	}
	if v, _ := st.Get(context.Background(), "k"); v != "" {
		t.Errorf("missing file should read as empty, got %q", v)
	}
}

func TestInstrumentedStore_CountsOps(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(true, metrics.WithRegisterer(reg))

	st := Instrument(NewMem(), m)
	if err := st.SetMulti(ctx, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SetMulti error: %v", err)
	}
	if v, _ := st.Get(ctx, "k"); v != "v" {
		t.Errorf("Get = %q, want %q", v, "v")
	}
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "chms_store_operations_total" {
			continue
		}
		total := 0.0
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		if total != 3 {
			t.Errorf("store op count = %v, want 3", total)
		}
		return
	}
	t.Error("chms_store_operations_total not registered")
}

func TestDefaultPath_UsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	p, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath error: %v", err)
	}
	want := filepath.Join("/tmp/xdg", "chms", "session.json")
	if p != want {
		t.Errorf("DefaultPath = %q, want %q", p, want)
	}
}
