package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wastewatch/internal/core"
)

func rec(paper float64) core.Record {
	return core.Record{Date: time.Unix(0, 0).UTC(), Recyclable: core.Counts{Paper: paper}}
}

func TestMemoryStoreReplacePrependList(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if err := s.Replace(ctx, []core.Record{rec(1), rec(2)}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.Prepend(ctx, rec(3)); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	got, err := s.List(ctx)
	if err != nil || len(got) != 3 {
		t.Fatalf("unexpected list: %v err=%v", got, err)
	}
	if got[0].Recyclable.Paper != 3 || got[1].Recyclable.Paper != 1 || got[2].Recyclable.Paper != 2 {
		t.Fatalf("unexpected order: %+v", got)
	}

	got[0].Recyclable.Paper = 99
	again, _ := s.List(ctx)
	if again[0].Recyclable.Paper != 3 {
		t.Fatalf("List must return a copy")
	}
}

func TestFileSeedSkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()

	// Missing file -> no records
	none, err := FileSeed{Path: filepath.Join(dir, "missing.jsonl")}.ReadRecords(context.Background())
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty seed, got %v err=%v", none, err)
	}

	path := filepath.Join(dir, "seed.jsonl")
	content := "# header\n{\"date\":\"2024-01-01\",\"recyclable\":{\"paper\":3}}\n\n{\"residual\":{\"carton\":\"2\"}}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := FileSeed{Path: path}.ReadRecords(context.Background())
	if err != nil || len(got) != 2 {
		t.Fatalf("unexpected seed: %v err=%v", got, err)
	}
	if _, ok := got[1]["residual"]; !ok {
		t.Fatalf("second record lost its residual field: %v", got[1])
	}

	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (FileSeed{Path: path}).ReadRecords(context.Background()); err == nil {
		t.Fatalf("expected error for invalid line")
	}
}

func TestFileSeedLongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	long := `{"date":"2024-01-02","note":"` + strings.Repeat("x", 70*1024) + `","recyclable":{"paper":2}}`
	content := `{"recyclable":{"paper":1}}` + "\n" + long + "\n" + `{"residual":{"paper":3}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := FileSeed{Path: path}.ReadRecords(context.Background())
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if _, ok := got[2]["residual"]; !ok {
		t.Fatalf("record after the long line was lost: %v", got[2])
	}
}

func TestFileSeedLineTooLong(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	content := `{"note":"` + strings.Repeat("x", maxSeedLine) + `"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (FileSeed{Path: path}).ReadRecords(context.Background()); err == nil {
		t.Fatal("expected error for a line over the limit")
	}
}

func TestFileSeedUnreadablePath(t *testing.T) {
	// A directory opens but cannot be scanned; it must not look like an empty seed.
	if _, err := (FileSeed{Path: t.TempDir()}).ReadRecords(context.Background()); err == nil {
		t.Fatal("expected error for a directory path")
	}
}
