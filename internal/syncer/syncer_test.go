package syncer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbroderi/ysaqml/internal/codec"
	"github.com/rbroderi/ysaqml/internal/docstore"
	"github.com/rbroderi/ysaqml/internal/schema"
	"github.com/rbroderi/ysaqml/internal/store"
	"github.com/rbroderi/ysaqml/internal/workpool"
)

func usersSchema() *schema.Schema {
	return &schema.Schema{Tables: []schema.Table{
		{Name: "users", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "name", Kind: schema.KindText},
			{Name: "is_active", Kind: schema.KindBoolean},
		}},
	}}
}

// setupSync builds a store and synchronizer over a temp data directory.
func setupSync(t *testing.T, sc *schema.Schema, opts Options) (Synchronizer, *store.Store, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "data")
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	syn, err := New(sc, dir, opts)
	if err != nil {
		t.Fatalf("failed to create synchronizer: %v", err)
	}

	st, err := store.Open(store.MemoryPath, sc)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.CreateTables(context.Background()); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
	return syn, st, dir
}

func writeDoc(t *testing.T, dir, table, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, table+".yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	var n int
	if err := st.RawDB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	sc := usersSchema()
	if _, err := New(sc, "data", Options{Workers: -1}); err == nil {
		t.Error("negative worker count should be rejected at construction")
	}
	if _, err := New(sc, "data", Options{BlobEncoding: "hex"}); err == nil {
		t.Error("unknown blob encoding should be rejected at construction")
	}
}

func TestLoadScenario(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	writeDoc(t, dir, "users", `format_version: "1.0"
rows:
  - id: "1"
    name: "Ada"
    is_active: "true"
`)

	if err := syn.Load(context.Background(), st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	var (
		id       int64
		name     string
		isActive bool
	)
	err := st.RawDB().QueryRow("SELECT id, name, is_active FROM users").Scan(&id, &name, &isActive)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if id != 1 || name != "Ada" || isActive != true {
		t.Fatalf("loaded (%d, %q, %v), want (1, Ada, true)", id, name, isActive)
	}
}

func TestSaveAfterInsertScenario(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	writeDoc(t, dir, "users", `format_version: "1.0"
rows:
  - id: "1"
    name: "Ada"
    is_active: "true"
`)
	ctx := context.Background()
	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	_, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (2, 'Grace', 0)")
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	docs := docstore.New(dir, "", nil)
	rows, err := docs.Read("users")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["id"] != "1" || rows[0]["name"] != "Ada" || rows[0]["is_active"] != "true" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1]["id"] != "2" || rows[1]["name"] != "Grace" || rows[1]["is_active"] != "false" {
		t.Errorf("row 1 = %v", rows[1])
	}
}

func TestSaveEmptyTableProducesDocument(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	if err := syn.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "users.yaml"))
	if err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if !strings.Contains(string(data), "format_version") || !strings.Contains(string(data), "rows: []") {
		t.Fatalf("unexpected empty-table document:\n%s", data)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	ctx := context.Background()

	_, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (1, 'Ada', 1)")
	if err != nil {
		t.Fatal(err)
	}

	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "users.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "users.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Fatal("two saves with no intervening mutation produced different bytes")
	}
}

func TestMissingFileClearsTable(t *testing.T) {
	syn, st, _ := setupSync(t, usersSchema(), Options{Workers: 1})
	ctx := context.Background()

	_, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (1, 'Ada', 1)")
	if err != nil {
		t.Fatal(err)
	}
	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if n := countRows(t, st, "users"); n != 0 {
		t.Fatalf("got %d rows after loading a missing document, want 0", n)
	}
}

func TestLoadReplacesExistingRows(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	ctx := context.Background()

	_, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (9, 'Stale', 1)")
	if err != nil {
		t.Fatal(err)
	}
	writeDoc(t, dir, "users", "rows:\n  - id: \"1\"\n    name: \"Ada\"\n    is_active: \"true\"\n")

	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	var id int64
	if err := st.RawDB().QueryRow("SELECT id FROM users").Scan(&id); err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want the stale row replaced by the document row", id)
	}
}

func TestLoadStructuralErrorLeavesStoreUntouched(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	ctx := context.Background()

	_, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (1, 'Ada', 1)")
	if err != nil {
		t.Fatal(err)
	}
	writeDoc(t, dir, "users", "- not\n- a\n- mapping\n")

	err = syn.Load(ctx, st)
	var structural *docstore.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Load() error = %v, want *StructuralError", err)
	}
	if n := countRows(t, st, "users"); n != 1 {
		t.Fatalf("got %d rows after failed load, want the original 1", n)
	}
}

func TestLoadValueErrorIdentifiesCell(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 1})
	writeDoc(t, dir, "users", `rows:
  - id: "1"
    name: "Ada"
    is_active: "true"
  - id: "2"
    name: "Bad"
    is_active: "maybe"
`)

	err := syn.Load(context.Background(), st)
	var decodeErr *codec.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Load() error = %v, want *DecodeError", err)
	}
	if decodeErr.Table != "users" || decodeErr.Row != 1 {
		t.Errorf("error locates %s row %d, want users row 1", decodeErr.Table, decodeErr.Row)
	}
	if n := countRows(t, st, "users"); n != 0 {
		t.Fatalf("got %d rows after failed load, want 0 relational mutation", n)
	}
}

func TestNullRoundTrip(t *testing.T) {
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "notes", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "body", Kind: schema.KindText, Nullable: true},
		}},
	}}
	syn, st, dir := setupSync(t, sc, Options{Workers: 1})
	ctx := context.Background()

	if _, err := st.RawDB().Exec("INSERT INTO notes (id, body) VALUES (1, NULL)"); err != nil {
		t.Fatal(err)
	}
	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	docs := docstore.New(dir, "", nil)
	rows, err := docs.Read("notes")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0]["body"] != codec.NullToken {
		t.Fatalf("body = %q, want the NULL token", rows[0]["body"])
	}

	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	var body sql.NullString
	if err := st.RawDB().QueryRow("SELECT body FROM notes").Scan(&body); err != nil {
		t.Fatal(err)
	}
	if body.Valid {
		t.Fatalf("body = %q, want NULL", body.String)
	}
}

func TestLoadNullCellBecomesNull(t *testing.T) {
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "notes", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "body", Kind: schema.KindText, Nullable: true},
		}},
	}}
	syn, st, dir := setupSync(t, sc, Options{Workers: 1})
	// A hand-edited bare cell, not the NULL token.
	writeDoc(t, dir, "notes", "rows:\n  - id: \"1\"\n    body:\n")

	if err := syn.Load(context.Background(), st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	var body sql.NullString
	if err := st.RawDB().QueryRow("SELECT body FROM notes").Scan(&body); err != nil {
		t.Fatal(err)
	}
	if body.Valid {
		t.Fatalf("body = %q, want NULL for a bare cell", body.String)
	}
}

func TestBlobRoundTripThroughDocuments(t *testing.T) {
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "files", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "payload", Kind: schema.KindBinary},
		}},
	}}
	syn, st, dir := setupSync(t, sc, Options{Workers: 1})
	ctx := context.Background()
	blob := []byte("\x00\x01binary\xff")

	if _, err := st.RawDB().Exec("INSERT INTO files (id, payload) VALUES (1, ?)", blob); err != nil {
		t.Fatal(err)
	}
	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	docs := docstore.New(dir, "", nil)
	rows, err := docs.Read("files")
	if err != nil {
		t.Fatal(err)
	}
	stored := rows[0]["payload"]
	lines := strings.Split(stored, "\n")
	if lines[0] != codec.BlobBase85Token {
		t.Fatalf("payload starts with %q, want the base-85 sentinel", lines[0])
	}
	if len(lines) < 2 {
		t.Fatal("expected payload lines after the sentinel")
	}
	for _, line := range lines[1:] {
		if len(line) > codec.BlobLineWidth {
			t.Errorf("payload line longer than %d chars: %q", codec.BlobLineWidth, line)
		}
	}
	// yaml renders the multiline cell as a literal block.
	text, err := os.ReadFile(filepath.Join(dir, "files.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "payload: |") {
		t.Errorf("expected literal block style for the blob cell:\n%s", text)
	}

	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	var got []byte
	if err := st.RawDB().QueryRow("SELECT payload FROM files").Scan(&got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("payload = %v, want %v", got, blob)
	}
}

func TestVersionMismatchIsWarningOnly(t *testing.T) {
	var buf bytes.Buffer
	syn, st, dir := setupSync(t, usersSchema(), Options{
		Workers: 1,
		Logger:  log.New(&buf, "", 0),
	})
	writeDoc(t, dir, "users", `format_version: "0.9"
rows:
  - id: "1"
    name: "Ada"
    is_active: "true"
`)

	if err := syn.Load(context.Background(), st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if n := countRows(t, st, "users"); n != 1 {
		t.Fatalf("got %d rows, want 1 despite version mismatch", n)
	}
	if !strings.Contains(buf.String(), "WARNING") {
		t.Errorf("expected a warning log, got: %q", buf.String())
	}
}

func TestDependencyOrderOnLoad(t *testing.T) {
	// users references teams; the insert order must satisfy the foreign key
	// even though users is declared first.
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "users", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "team_id", Kind: schema.KindInteger,
				References: schema.Reference{Table: "teams", Column: "id"}},
		}},
		{Name: "teams", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
		}},
	}}
	syn, st, dir := setupSync(t, sc, Options{Workers: 1})
	writeDoc(t, dir, "teams", "rows:\n  - id: \"1\"\n")
	writeDoc(t, dir, "users", "rows:\n  - id: \"10\"\n    team_id: \"1\"\n")

	if err := syn.Load(context.Background(), st); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if n := countRows(t, st, "users"); n != 1 {
		t.Fatalf("got %d users, want 1", n)
	}
}

func TestLoadTwiceWithForeignKeys(t *testing.T) {
	// A reload clears tables that already hold FK-linked rows: children
	// must be deleted before their parents or the second load fails.
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "users", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
			{Name: "team_id", Kind: schema.KindInteger,
				References: schema.Reference{Table: "teams", Column: "id"}},
		}},
		{Name: "teams", Columns: []schema.Column{
			{Name: "id", Kind: schema.KindInteger, PrimaryKey: true},
		}},
	}}
	syn, st, dir := setupSync(t, sc, Options{Workers: 1})
	ctx := context.Background()
	writeDoc(t, dir, "teams", "rows:\n  - id: \"1\"\n")
	writeDoc(t, dir, "users", "rows:\n  - id: \"10\"\n    team_id: \"1\"\n")

	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("first Load() error: %v", err)
	}
	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("second Load() over populated tables error: %v", err)
	}
	if n := countRows(t, st, "teams"); n != 1 {
		t.Errorf("got %d teams after reload, want 1", n)
	}
	if n := countRows(t, st, "users"); n != 1 {
		t.Errorf("got %d users after reload, want 1", n)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	sc := &schema.Schema{Tables: []schema.Table{
		{Name: "a", Columns: []schema.Column{{Name: "id", Kind: schema.KindInteger, PrimaryKey: true}}},
		{Name: "b", Columns: []schema.Column{{Name: "id", Kind: schema.KindInteger, PrimaryKey: true}}},
		{Name: "c", Columns: []schema.Column{{Name: "id", Kind: schema.KindInteger, PrimaryKey: true}}},
		{Name: "d", Columns: []schema.Column{{Name: "id", Kind: schema.KindInteger, PrimaryKey: true}}},
	}}
	for _, workers := range []int{1, 4} {
		syn, st, dir := setupSync(t, sc, Options{Workers: workers})
		ctx := context.Background()
		for i, table := range []string{"a", "b", "c", "d"} {
			writeDoc(t, dir, table, "rows:\n  - id: \""+string(rune('1'+i))+"\"\n")
		}

		if err := syn.Load(ctx, st); err != nil {
			t.Fatalf("workers=%d: Load() error: %v", workers, err)
		}
		for _, table := range []string{"a", "b", "c", "d"} {
			if n := countRows(t, st, table); n != 1 {
				t.Errorf("workers=%d: table %s has %d rows, want 1", workers, table, n)
			}
		}
		if err := syn.Save(ctx, st); err != nil {
			t.Fatalf("workers=%d: Save() error: %v", workers, err)
		}
	}
}

func TestClosedPoolFallsBackToSequential(t *testing.T) {
	pool, err := workpool.New(4)
	if err != nil {
		t.Fatal(err)
	}
	pool.Close() // the execution substrate is gone, e.g. shutdown

	var buf bytes.Buffer
	syn, st, dir := setupSync(t, usersSchema(), Options{
		Workers: 4,
		Pool:    pool,
		Logger:  log.New(&buf, "", 0),
	})
	ctx := context.Background()
	writeDoc(t, dir, "users", "rows:\n  - id: \"1\"\n    name: \"Ada\"\n    is_active: \"true\"\n")

	if err := syn.Load(ctx, st); err != nil {
		t.Fatalf("Load() with closed pool error: %v", err)
	}
	if n := countRows(t, st, "users"); n != 1 {
		t.Fatalf("got %d rows, want 1 via the sequential fallback", n)
	}

	if _, err := st.RawDB().Exec("INSERT INTO users (id, name, is_active) VALUES (2, 'Grace', 0)"); err != nil {
		t.Fatal(err)
	}
	if err := syn.Save(ctx, st); err != nil {
		t.Fatalf("Save() with closed pool error: %v", err)
	}

	docs := docstore.New(dir, "", nil)
	rows, err := docs.Read("users")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d saved rows, want 2 via the sequential fallback", len(rows))
	}
	if !strings.Contains(buf.String(), "falling back to sequential") {
		t.Errorf("expected a fallback notice, got: %q", buf.String())
	}
}

func TestTaskErrorAbortsOperation(t *testing.T) {
	syn, st, dir := setupSync(t, usersSchema(), Options{Workers: 4})
	writeDoc(t, dir, "users", "rows:\n  - 42\n")

	err := syn.Load(context.Background(), st)
	var structural *docstore.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("Load() error = %v, want structural error from the worker", err)
	}
}

func TestSuppressesStoreObservers(t *testing.T) {
	syn, st, _ := setupSync(t, usersSchema(), Options{Workers: 1})
	ctx := context.Background()

	var fired int
	st.OnCommit(func() { fired++ })

	if err := syn.Load(ctx, st); err != nil {
		t.Fatal(err)
	}
	if err := syn.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Fatalf("synchronizer transactions fired %d observer calls, want 0", fired)
	}
}
