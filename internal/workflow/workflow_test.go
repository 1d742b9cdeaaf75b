package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/sheetpilot/sheetpilot/internal/clarifier"
	"github.com/sheetpilot/sheetpilot/internal/config"
	"github.com/sheetpilot/sheetpilot/internal/sandbox"
	"github.com/sheetpilot/sheetpilot/internal/session"
	"github.com/sheetpilot/sheetpilot/internal/table"
)

// agentKind tells a scripted provider which agent is asking, based on the
// system prompt each agent sends.
func agentKind(req llm.ChatRequest) string {
	sys := req.Messages[0].Content
	switch {
	case strings.HasPrefix(sys, "You assess requests"):
		return "clarifier"
	case strings.HasPrefix(sys, "You edit a CSV"):
		return "edit"
	case strings.HasPrefix(sys, "You verify"):
		return "verifier"
	case strings.HasPrefix(sys, "You route"):
		return "router"
	default:
		return "summarizer"
	}
}

type fixture struct {
	wf      *Workflow
	tables  *table.FileStore
	threads *session.FileStore
	csvPath string
}

func newFixture(t *testing.T, main, small llm.Provider, columns []string, rows [][]string) *fixture {
	t.Helper()
	tables := table.NewFileStore()
	csvPath := filepath.Join(t.TempDir(), "data.csv")

	tbl := table.New(columns)
	tbl.Rows = rows
	if err := tables.Write(csvPath, tbl); err != nil {
		t.Fatal(err)
	}

	threads, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	wf := New(Deps{
		Provider: main,
		Small:    small,
		Executor: sandbox.NewExecutor(tables),
		Tables:   tables,
		Threads:  threads,
		Limits:   config.New().Limits,
	})
	return &fixture{wf: wf, tables: tables, threads: threads, csvPath: csvPath}
}

func contactRows() [][]string {
	return [][]string{
		{"Ada", "", "ada@example.com"},
		{"Alan", "", "alan@example.com"},
		{"Grace", "", "grace@example.com"},
		{"Edsger", "", "edsger@example.com"},
		{"Barbara", "", "barbara@example.com"},
	}
}

const fillTenCode = `
def mutate(table):
    idx = table["columns"].index("Last Name")
    rows = table["rows"]
    ncols = len(table["columns"])
    for _ in range(10 - len(rows)):
        rows.append([""] * ncols)
    for i in range(10):
        rows[i][idx] = "Last Name " + str(i + 1)
    return table
`

const lastNamesCheck = `
def check(table):
    idx = table["columns"].index("Last Name")
    return [row[idx] for row in table["rows"]]
`

func smallModel(t *testing.T, summary string) llm.Provider {
	t.Helper()
	p := llm.NewMockProvider()
	p.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if agentKind(req) == "router" {
			return &llm.ChatResponse{Content: NodeVerifier}, nil
		}
		return &llm.ChatResponse{Content: summary}, nil
	}
	return p
}

func TestRun_FillColumnEndToEnd(t *testing.T) {
	editCalls := 0
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			return &llm.ChatResponse{Content: `{"decision": "CLEAR"}`}, nil
		case "edit":
			editCalls++
			if editCalls == 1 {
				return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
					{ID: "m1", Name: "mutate", Args: map[string]interface{}{"code": fillTenCode}},
				}}, nil
			}
			return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
				{ID: "c1", Name: "check", Args: map[string]interface{}{"code": lastNamesCheck}},
			}}, nil
		default: // verifier
			return &llm.ChatResponse{Content: `{"status": "PASS", "reason": "all ten rows filled"}`}, nil
		}
	}

	f := newFixture(t, main, smallModel(t, "Filled Last Name with Last Name 1 through 10."),
		[]string{"First Name", "Last Name", "Contact"}, contactRows())

	resp := f.wf.Run(context.Background(), f.csvPath, "Fill Last Name with Last Name 1-10")

	if resp.Error != "" || resp.NeedsInput {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(resp.Summary, "Last Name") {
		t.Errorf("summary = %q", resp.Summary)
	}

	got, _ := f.tables.Read(f.csvPath)
	if got.NumRows() != 10 {
		t.Fatalf("expected 10 rows, got %d", got.NumRows())
	}
	if got.Rows[9][1] != "Last Name 10" {
		t.Errorf("row 10 = %v", got.Rows[9])
	}
	if got.Rows[7][0] != "" || got.Rows[7][2] != "" {
		t.Errorf("new rows must leave other columns blank: %v", got.Rows[7])
	}

	saved, err := f.threads.Load(resp.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Status != session.StatusComplete {
		t.Errorf("thread status = %q", saved.Status)
	}
}

func TestRun_MissingColumnSuspendsAndResumes(t *testing.T) {
	clarifierCalls := 0
	editCalls := 0
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			clarifierCalls++
			if clarifierCalls == 1 {
				return &llm.ChatResponse{Content: `{"decision": "NEEDS_CLARIFICATION", "question": "There is no Project Hours column. Did you mean Work Hours?"}`}, nil
			}
			return &llm.ChatResponse{Content: `{"decision": "CLARIFIED", "rewritten_request": "Add 5 to every value in the Work Hours column"}`}, nil
		case "edit":
			editCalls++
			if editCalls == 1 {
				return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
					{ID: "m1", Name: "mutate", Args: map[string]interface{}{"code": `
def mutate(table):
    idx = table["columns"].index("Work Hours")
    for row in table["rows"]:
        row[idx] = str(int(row[idx]) + 5)
    return table
`}},
				}}, nil
			}
			return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
				{ID: "c1", Name: "check", Args: map[string]interface{}{"code": `
def check(table):
    idx = table["columns"].index("Work Hours")
    return [row[idx] for row in table["rows"]]
`}},
			}}, nil
		default:
			return &llm.ChatResponse{Content: `{"status": "PASS", "reason": "all values increased by 5"}`}, nil
		}
	}

	f := newFixture(t, main, smallModel(t, "Added 5 to every Work Hours value."),
		[]string{"Name", "Work Hours"}, [][]string{{"Ada", "40"}, {"Alan", "35"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "Add 5 to Project Hours")
	if !resp.NeedsInput {
		t.Fatalf("expected suspension, got %+v", resp)
	}
	if !strings.Contains(resp.InterruptMessage, "Project Hours") {
		t.Errorf("question = %q", resp.InterruptMessage)
	}

	// The dataset must be untouched while suspended.
	got, _ := f.tables.Read(f.csvPath)
	if got.Rows[0][1] != "40" {
		t.Fatalf("dataset changed while suspended: %v", got.Rows)
	}

	final, err := f.wf.Resume(context.Background(), resp.ThreadID, "use Work Hours")
	if err != nil {
		t.Fatal(err)
	}
	if final.NeedsInput || final.Error != "" {
		t.Fatalf("resume did not complete: %+v", final)
	}

	got, _ = f.tables.Read(f.csvPath)
	if got.Rows[0][1] != "45" || got.Rows[1][1] != "40" {
		t.Errorf("edit not applied after resume: %v", got.Rows)
	}

	saved, _ := f.threads.Load(resp.ThreadID)
	if !strings.Contains(saved.RewrittenRequest, "Work Hours") {
		t.Errorf("rewritten request = %q", saved.RewrittenRequest)
	}
}

func TestResume_SummaryCoversEditsBeforeSuspension(t *testing.T) {
	clarifierCalls := 0
	editCalls := 0
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			clarifierCalls++
			switch clarifierCalls {
			case 1:
				return &llm.ChatResponse{Content: `{"decision": "CLEAR"}`}, nil
			case 2:
				return &llm.ChatResponse{Content: `{"decision": "NEEDS_CLARIFICATION", "question": "Should the Contact column change too?"}`}, nil
			default:
				return &llm.ChatResponse{Content: `{"decision": "CLARIFIED", "rewritten_request": "Fill Last Name with Last Name 1-10, leave Contact alone"}`}, nil
			}
		case "edit":
			editCalls++
			switch editCalls {
			case 1:
				return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
					{ID: "m1", Name: "mutate", Args: map[string]interface{}{"code": fillTenCode}},
				}}, nil
			case 2:
				return &llm.ChatResponse{ToolCalls: []llm.ToolCallResponse{
					{ID: "c1", Name: "check", Args: map[string]interface{}{"code": lastNamesCheck}},
				}}, nil
			default:
				return &llm.ChatResponse{Content: "the data already satisfies the request"}, nil
			}
		default: // verifier
			return &llm.ChatResponse{Content: `{"status": "PASS", "reason": "all ten rows filled"}`}, nil
		}
	}

	// The router detours through the clarifier once after the edit, which
	// suspends the thread mid-run.
	routerCalls := 0
	var summaryPrompt string
	small := llm.NewMockProvider()
	small.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if agentKind(req) == "router" {
			routerCalls++
			if routerCalls == 1 {
				return &llm.ChatResponse{Content: NodeClarifier}, nil
			}
			return &llm.ChatResponse{Content: NodeVerifier}, nil
		}
		summaryPrompt = req.Messages[1].Content
		return &llm.ChatResponse{Content: "Filled the Last Name column for all ten rows."}, nil
	}

	f := newFixture(t, main, small,
		[]string{"First Name", "Last Name", "Contact"}, contactRows())

	resp := f.wf.Run(context.Background(), f.csvPath, "Fill Last Name with Last Name 1-10")
	if !resp.NeedsInput {
		t.Fatalf("expected suspension after the applied edit, got %+v", resp)
	}

	final, err := f.wf.Resume(context.Background(), resp.ThreadID, "no, just Last Name")
	if err != nil {
		t.Fatal(err)
	}
	if final.NeedsInput || final.Error != "" {
		t.Fatalf("resume did not complete: %+v", final)
	}

	// The edit happened before the suspension, so the summary must not claim
	// nothing changed.
	if final.Summary == noEditsSummary {
		t.Fatalf("summary lost the pre-suspension edit: %q", final.Summary)
	}
	if !strings.Contains(summaryPrompt, "Last Name") || !strings.Contains(summaryPrompt, "OK:") {
		t.Errorf("summarizer prompt missing the applied edit: %q", summaryPrompt)
	}

	saved, err := f.threads.Load(resp.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.AppliedEdits) != 1 {
		t.Errorf("expected 1 audited edit on the thread, got %d", len(saved.AppliedEdits))
	}
}

func TestRun_TargetSchemaReachesAgentPrompts(t *testing.T) {
	var clarifierPrompt string
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if agentKind(req) == "clarifier" {
			clarifierPrompt = req.Messages[1].Content
			return &llm.ChatResponse{Content: `{"decision": "OUT_OF_SCOPE"}`}, nil
		}
		return &llm.ChatResponse{Content: "unexpected"}, nil
	}

	tables := table.NewFileStore()
	csvPath := filepath.Join(t.TempDir(), "data.csv")
	tbl := table.New([]string{"Name"})
	tbl.Rows = [][]string{{"Ada"}}
	if err := tables.Write(csvPath, tbl); err != nil {
		t.Fatal(err)
	}
	threads, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	wf := New(Deps{
		Provider: main,
		Small:    smallModel(t, "unused"),
		Executor: sandbox.NewExecutor(tables),
		Tables:   tables,
		Threads:  threads,
		Limits:   config.New().Limits,
		Schema: &table.TargetSchema{
			Name: "contacts",
			Columns: []table.TargetColumn{
				{Name: "Region", Required: true},
			},
		},
	})

	wf.Run(context.Background(), csvPath, "sort by region")

	if !strings.Contains(clarifierPrompt, "Region (required)") {
		t.Errorf("target schema missing from clarifier prompt: %q", clarifierPrompt)
	}
}

func TestRun_OutOfScopeShortCircuits(t *testing.T) {
	editInvoked := false
	verifierInvoked := false
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			return &llm.ChatResponse{Content: `{"decision": "OUT_OF_SCOPE"}`}, nil
		case "edit":
			editInvoked = true
		case "verifier":
			verifierInvoked = true
		}
		return &llm.ChatResponse{Content: "unexpected"}, nil
	}

	f := newFixture(t, main, smallModel(t, "unused"),
		[]string{"A"}, [][]string{{"1"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "Create a PowerPoint of this data")

	if resp.Summary != clarifier.OutOfScopeMessage {
		t.Errorf("summary = %q", resp.Summary)
	}
	last := resp.Messages[len(resp.Messages)-1]
	if last.Content != clarifier.OutOfScopeMessage {
		t.Errorf("final message = %q", last.Content)
	}
	if editInvoked || verifierInvoked {
		t.Error("edit/verifier must never run for out-of-scope requests")
	}
	got, _ := f.tables.Read(f.csvPath)
	if got.Rows[0][0] != "1" {
		t.Error("dataset must be untouched")
	}
}

func TestRun_StepCeilingAppendsWarning(t *testing.T) {
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			return &llm.ChatResponse{Content: `{"decision": "CLEAR"}`}, nil
		case "edit":
			// Prose reply: no mutation ever happens, so verification can
			// never pass and the supervisor ping-pongs until the ceiling.
			return &llm.ChatResponse{Content: "nothing I can do"}, nil
		default:
			return &llm.ChatResponse{Content: `{"status": "FAILED", "reason": "nothing changed"}`}, nil
		}
	}

	f := newFixture(t, main, smallModel(t, "unused"),
		[]string{"A"}, [][]string{{"1"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "do the thing")

	if resp.Summary != maxStepsWarning {
		t.Errorf("summary = %q", resp.Summary)
	}
	last := resp.Messages[len(resp.Messages)-1]
	if !strings.Contains(last.Content, "maximum supervisor steps") {
		t.Errorf("expected visible warning, got %q", last.Content)
	}
}

func TestRun_PanicBecomesErrorResponse(t *testing.T) {
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		panic("provider blew up")
	}

	f := newFixture(t, main, smallModel(t, "unused"),
		[]string{"A"}, [][]string{{"1"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "edit something")

	if resp.Error == "" || !strings.Contains(resp.Error, "provider blew up") {
		t.Fatalf("expected error-tagged response, got %+v", resp)
	}
	if len(resp.Messages) == 0 {
		t.Error("partial transcript must be returned")
	}
}

func TestRun_NoEditsFallbackSummary(t *testing.T) {
	main := llm.NewMockProvider()
	main.ChatFunc = func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		switch agentKind(req) {
		case "clarifier":
			return &llm.ChatResponse{Content: `{"decision": "CLEAR"}`}, nil
		case "edit":
			return &llm.ChatResponse{Content: "the data already satisfies the request"}, nil
		default:
			return &llm.ChatResponse{Content: `{"status": "PASS", "reason": "already satisfied"}`}, nil
		}
	}

	f := newFixture(t, main, smallModel(t, "should not be used"),
		[]string{"A"}, [][]string{{"1"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "remove duplicate rows")

	if resp.Summary != noEditsSummary {
		t.Errorf("expected fixed no-edits sentence, got %q", resp.Summary)
	}
}

func TestResume_RejectsNonSuspendedThread(t *testing.T) {
	main := llm.NewMockProvider()
	main.SetResponse(`{"decision": "OUT_OF_SCOPE"}`)

	f := newFixture(t, main, smallModel(t, "unused"),
		[]string{"A"}, [][]string{{"1"}})

	resp := f.wf.Run(context.Background(), f.csvPath, "make a slide deck")
	if _, err := f.wf.Resume(context.Background(), resp.ThreadID, "answer"); err == nil {
		t.Error("expected error resuming a completed thread")
	}
}
