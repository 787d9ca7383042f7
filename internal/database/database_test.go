package database

import (
	"strings"
	"sync"
	"testing"
)

// With a pooled second connection, a :memory: database silently splits into
// two empty ones; the capped pool must keep every goroutine on the same db.
func TestOpenMemorySharedAcrossGoroutines(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`INSERT INTO engine_settings (key, value) VALUES ('boot_marker', 'v1')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v string
			if err := db.QueryRow(`SELECT value FROM engine_settings WHERE key = 'boot_marker'`).Scan(&v); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent read missed the row: %v", err)
	}
}

func TestDSNAppliesPragmas(t *testing.T) {
	got := dsn("state.db")
	if !strings.HasPrefix(got, "state.db?") {
		t.Fatalf("dsn = %q, want path prefix", got)
	}
	for _, pragma := range []string{"journal_mode%28WAL%29", "busy_timeout%285000%29", "foreign_keys%28on%29"} {
		if !strings.Contains(got, "_pragma="+pragma) {
			t.Errorf("dsn %q missing pragma %q", got, pragma)
		}
	}
}
