package catalog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), filepath.Join(t.TempDir(), "sub", "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreateAndGetRun(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()

	r, err := c.CreateRun(ctx, Run{Dir: "/runs/a", Prefix: "mlp", NCores: 2, SimTicks: 1 << 40, Note: "train"})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if r.ID == "" || r.Status != StatusWritten {
		t.Errorf("run = %+v", r)
	}

	got, err := c.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Dir != "/runs/a" || got.Prefix != "mlp" || got.NCores != 2 || got.SimTicks != 1<<40 || got.Note != "train" {
		t.Errorf("got = %+v", got)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
	if got.FinishedAt != nil {
		t.Error("new run should not be finished")
	}

	if _, err := c.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFinishRun(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	r, err := c.CreateRun(ctx, Run{Dir: "d", NCores: 1, SimTicks: 10})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.FinishRun(ctx, r.ID, StatusDone, 1500*time.Millisecond); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	got, err := c.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDone || got.Duration != 1500*time.Millisecond || got.FinishedAt == nil {
		t.Errorf("got = %+v", got)
	}
	if err := c.FinishRun(ctx, "missing", StatusFailed, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.CreateRun(ctx, Run{Dir: "d", NCores: 1}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	all, err := c.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("runs = %d", len(all))
	}
	if all[0].CreatedAt.Before(all[2].CreatedAt) {
		t.Error("runs should be newest first")
	}
	some, err := c.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 2 || some[0].ID != all[0].ID {
		t.Errorf("limited list = %+v", some)
	}
}

func TestFindRun(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	if _, err := c.CreateRun(ctx, Run{Dir: "/runs/a", Prefix: "train", NCores: 1}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	newer, err := c.CreateRun(ctx, Run{Dir: "/runs/a", Prefix: "train", NCores: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateRun(ctx, Run{Dir: "/runs/a", Prefix: "test", NCores: 1}); err != nil {
		t.Fatal(err)
	}

	got, err := c.FindRun(ctx, "/runs/a", "train")
	if err != nil {
		t.Fatalf("FindRun failed: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("FindRun = %s, want newest %s", got.ID, newer.ID)
	}
	if _, err := c.FindRun(ctx, "/runs/b", "train"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordFilesAndVerify(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	r, err := c.CreateRun(ctx, Run{Dir: "d", NCores: 1})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	a := filepath.Join(dir, "x_params.dat")
	b := filepath.Join(dir, "x_wgt_table_core_0.dat")
	if err := os.WriteFile(a, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte{0, 0, 0, 0}, 0644); err != nil {
		t.Fatal(err)
	}

	files, err := c.RecordFiles(ctx, r.ID, RoleInput, []string{a, b, filepath.Join(dir, "missing.dat")})
	if err != nil {
		t.Fatalf("RecordFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("recorded %d files", len(files))
	}
	// sha256("abc")
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if files[0].SHA256 != abc || files[0].Bytes != 3 {
		t.Errorf("file = %+v", files[0])
	}

	stored, err := c.Files(ctx, r.ID)
	if err != nil || len(stored) != 2 {
		t.Fatalf("Files = %v, %v", stored, err)
	}

	changed, err := c.Verify(ctx, r.ID)
	if err != nil || len(changed) != 0 {
		t.Fatalf("Verify = %v, %v", changed, err)
	}
	if err := os.WriteFile(b, []byte{1, 0, 0, 0}, 0644); err != nil {
		t.Fatal(err)
	}
	changed, err = c.Verify(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0] != b {
		t.Errorf("changed = %v", changed)
	}
}

func TestTransfers(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	train, _ := c.CreateRun(ctx, Run{Dir: "train", NCores: 1})
	test, _ := c.CreateRun(ctx, Run{Dir: "test", NCores: 1})
	other, _ := c.CreateRun(ctx, Run{Dir: "other", NCores: 1})

	tr, err := c.RecordTransfer(ctx, Transfer{SrcRun: train.ID, DstRun: test.ID, Core: 0, Words: 128})
	if err != nil {
		t.Fatalf("RecordTransfer failed: %v", err)
	}
	if tr.ID == "" {
		t.Error("transfer has no ID")
	}

	for _, id := range []string{train.ID, test.ID} {
		got, err := c.Transfers(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Words != 128 {
			t.Errorf("transfers(%s) = %+v", id, got)
		}
	}
	got, err := c.Transfers(ctx, other.ID)
	if err != nil || len(got) != 0 {
		t.Errorf("unrelated run transfers = %v, %v", got, err)
	}

	if _, err := c.RecordTransfer(ctx, Transfer{SrcRun: "ghost", DstRun: test.ID}); err == nil {
		t.Error("transfer from unknown run should violate the foreign key")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()
	c, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := c.CreateRun(ctx, Run{Dir: "d", NCores: 1})
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c.Close()
	if _, err := c.GetRun(ctx, r.ID); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestArchives(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	run, _ := c.CreateRun(ctx, Run{Dir: "d", Prefix: "train", NCores: 1})

	for _, p := range []string{"/a/train-1.nsatar", "/a/train-2.nsatar"} {
		if _, err := c.RecordArchive(ctx, Archive{Path: p, RunID: run.ID, Checksum: "sha256:00", FileCount: 7, Bytes: 100}); err != nil {
			t.Fatalf("RecordArchive(%s) failed: %v", p, err)
		}
	}
	// Same path again replaces rather than duplicates.
	if _, err := c.RecordArchive(ctx, Archive{Path: "/a/train-1.nsatar", RunID: run.ID, Checksum: "sha256:11", FileCount: 8}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Archives(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d archives, want 2: %+v", len(got), got)
	}
	var replaced *Archive
	for i := range got {
		if got[i].Path == "/a/train-1.nsatar" {
			replaced = &got[i]
		}
	}
	if replaced == nil || replaced.Checksum != "sha256:11" || replaced.FileCount != 8 {
		t.Errorf("replaced archive = %+v", replaced)
	}

	n, err := c.ForgetArchives(ctx, []string{"/a/train-2.nsatar", "/a/unknown.nsatar"})
	if err != nil || n != 1 {
		t.Errorf("ForgetArchives() = %d, %v, want 1", n, err)
	}
	if got, _ := c.Archives(ctx, run.ID); len(got) != 1 {
		t.Errorf("after forget: %+v", got)
	}

	if _, err := c.RecordArchive(ctx, Archive{Path: "/a/x.nsatar", RunID: "ghost"}); err == nil {
		t.Error("archive of unknown run should violate the foreign key")
	}
}

func TestSchemaMigratesFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if err := migrate(ctx, db, 1, migrations[0]); err != nil {
		t.Fatalf("creating v1 catalog: %v", err)
	}
	db.Close()

	c, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open on a v1 catalog failed: %v", err)
	}
	defer c.Close()

	if v, err := schemaVersion(ctx, c.db); err != nil || v != SchemaVersion {
		t.Errorf("schema version = %d, %v, want %d", v, err, SchemaVersion)
	}
	run, err := c.CreateRun(ctx, Run{Dir: "d", NCores: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.RecordArchive(ctx, Archive{Path: "/a/b.nsatar", RunID: run.ID}); err != nil {
		t.Errorf("archives table missing after migration: %v", err)
	}
}

func TestSchemaRefusesNewerCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()
	c, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, 'later')`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	c.Close()

	if _, err := Open(ctx, path); err == nil {
		t.Error("Open should refuse a catalog from a newer schema")
	}
}
