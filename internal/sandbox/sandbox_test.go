package sandbox

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sheetpilot/sheetpilot/internal/table"
)

func newTestDataset(t *testing.T) (*table.FileStore, string) {
	t.Helper()
	store := table.NewFileStore()
	path := filepath.Join(t.TempDir(), "data.csv")

	tbl := table.New([]string{"First Name", "Last Name", "Contact"})
	tbl.Rows = [][]string{
		{"Ada", "", "ada@example.com"},
		{"Alan", "", "alan@example.com"},
		{"Grace", "", "grace@example.com"},
		{"Edsger", "", "edsger@example.com"},
		{"Barbara", "", "barbara@example.com"},
	}
	if err := store.Write(path, tbl); err != nil {
		t.Fatal(err)
	}
	return store, path
}

func TestMutate_FillColumnGrowsRows(t *testing.T) {
	store, path := newTestDataset(t)
	exec := NewExecutor(store)

	// Fill Last Name with "Last Name 1".."Last Name 10", padding the dataset
	// to 10 rows with other columns blank.
	src := `
def mutate(table):
    rows = table["rows"]
    ncols = len(table["columns"])
    for _ in range(10 - len(rows)):
        rows.append([""] * ncols)
    idx = table["columns"].index("Last Name")
    for i in range(10):
        rows[i][idx] = "Last Name " + str(i + 1)
    return table
`
	result := exec.Mutate(context.Background(), path, src)
	if !strings.HasPrefix(result, "OK:") {
		t.Fatalf("expected success, got %q", result)
	}

	got, err := store.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumRows() != 10 {
		t.Fatalf("expected 10 rows, got %d", got.NumRows())
	}
	if got.Rows[9][1] != "Last Name 10" {
		t.Errorf("row 10 Last Name = %q", got.Rows[9][1])
	}
	if got.Rows[7][0] != "" || got.Rows[7][2] != "" {
		t.Errorf("new rows should leave other columns blank, got %v", got.Rows[7])
	}
}

func TestMutate_FailureLeavesDatasetUntouched(t *testing.T) {
	store, path := newTestDataset(t)
	exec := NewExecutor(store)

	before, _ := store.Read(path)

	result := exec.Mutate(context.Background(), path, `
def mutate(table):
    return table["no_such_key"]
`)
	if !strings.HasPrefix(result, "Error:") {
		t.Fatalf("expected error string, got %q", result)
	}

	after, _ := store.Read(path)
	if !after.Equal(before) {
		t.Error("failed mutation must not modify the dataset")
	}
}

func TestCheck_ReadOnlyResult(t *testing.T) {
	store, path := newTestDataset(t)
	exec := NewExecutor(store)

	result := exec.Check(context.Background(), path, `
def check(table):
    return len(table["rows"])
`)
	if result != "5" {
		t.Errorf("expected row count 5, got %q", result)
	}

	// Check must never persist changes even if the code mutates its view.
	result = exec.Check(context.Background(), path, `
def check(table):
    table["rows"].append(["x", "y", "z"])
    return "mutated my copy"
`)
	if strings.HasPrefix(result, "Error:") {
		t.Fatalf("unexpected error: %q", result)
	}
	after, _ := store.Read(path)
	if after.NumRows() != 5 {
		t.Errorf("check leaked a mutation: %d rows", after.NumRows())
	}
}

func TestImportGuard(t *testing.T) {
	store, path := newTestDataset(t)
	exec := NewExecutor(store)

	result := exec.Check(context.Background(), path, `
load("os.star", "os")

def check(table):
    return "never reached"
`)
	if !strings.HasPrefix(result, "Error:") || !strings.Contains(result, "disallowed") {
		t.Errorf("expected import guard error, got %q", result)
	}
}

func TestRuntimeErrorIsStringNotPanic(t *testing.T) {
	store, path := newTestDataset(t)
	exec := NewExecutor(store)

	result := exec.Check(context.Background(), path, `
def check(table):
    return 1 // 0
`)
	if !strings.HasPrefix(result, "Error:") {
		t.Errorf("expected error string, got %q", result)
	}
}

func TestNormalize_RenamesSingleParamFunction(t *testing.T) {
	src := "def transform_data(df):\n    return df\n"
	out, err := Normalize(src, MutateFunc, paramName)
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	if !strings.Contains(out, "def mutate(df):") {
		t.Errorf("expected rename, got:\n%s", out)
	}
}

func TestNormalize_WrapsBareStatements(t *testing.T) {
	src := `x = len(table["rows"])`
	out, err := Normalize(src, CheckFunc, paramName)
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	if !strings.HasPrefix(out, "def check(table):") {
		t.Errorf("expected wrapped function, got:\n%s", out)
	}
	if !strings.Contains(out, "return table") {
		t.Errorf("expected default return, got:\n%s", out)
	}
}

func TestNormalize_StripsMarkdownFence(t *testing.T) {
	src := "```python\ndef mutate(table):\n    return table\n```"
	out, err := Normalize(src, MutateFunc, paramName)
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	if strings.Contains(out, "```") {
		t.Errorf("fence not stripped:\n%s", out)
	}
}

func TestNormalize_TrimsUnbalancedTrailingBracket(t *testing.T) {
	src := "def mutate(table):\n    return table\n)"
	if _, err := Normalize(src, MutateFunc, paramName); err != nil {
		t.Fatalf("normalize error: %v", err)
	}
}

func TestNormalize_DropsOffendingLine(t *testing.T) {
	src := "def mutate(table):\n    return table\n!!! not starlark"
	if _, err := Normalize(src, MutateFunc, paramName); err != nil {
		t.Fatalf("expected offending line repair, got: %v", err)
	}
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	if _, err := Normalize("!!!\n???\n:::", MutateFunc, paramName); err == nil {
		t.Error("expected error for unparsable source")
	}
}
