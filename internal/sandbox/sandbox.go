// Package sandbox executes LLM-generated Starlark transforms against a
// tabular dataset in a restricted namespace. It backs both agent tools: the
// mutating edit tool and the read-only check tool. Failures of any kind are
// returned as strings, never as Go errors — they are tool results that feed
// back into the owning agent's reasoning loop.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/logging"
	"go.starlark.net/starlark"

	"github.com/sheetpilot/sheetpilot/internal/table"
)

// Function names the two tool contracts expect the transform code to define.
const (
	MutateFunc = "mutate"
	CheckFunc  = "check"
)

// paramName is the single parameter both contract functions take.
const paramName = "table"

// Executor runs transforms against datasets held in a table.Store.
type Executor struct {
	store   table.Store
	watcher *table.Watcher
	logger  *logging.Logger
}

// NewExecutor creates an executor over the given store.
func NewExecutor(store table.Store) *Executor {
	return &Executor{
		store:  store,
		logger: logging.New().WithComponent("sandbox"),
	}
}

// SetWatcher attaches an external-change watcher so the executor can mark its
// own writes before they land.
func (e *Executor) SetWatcher(w *table.Watcher) {
	e.watcher = w
}

// Mutate runs src's mutate(table) function against a working copy of the
// dataset at path and persists the returned table wholesale. The result is
// always a string: a summary on success, an error description otherwise.
func (e *Executor) Mutate(ctx context.Context, path, src string) string {
	if err := ctx.Err(); err != nil {
		return "Error: " + err.Error()
	}

	tbl, err := e.store.Read(path)
	if err != nil {
		return "Error: " + err.Error()
	}

	result, err := e.run(src, MutateFunc, tbl.Clone())
	if err != nil {
		e.logger.Debug("mutate failed", map[string]interface{}{"error": firstLine(err.Error())})
		return "Error: " + err.Error()
	}

	mutated, err := fromStarlark(result)
	if err != nil {
		return fmt.Sprintf("Error: mutate must return the table (dict with 'columns' and 'rows'): %v", err)
	}
	mutated.Normalize()

	if e.watcher != nil {
		e.watcher.ExpectWrite()
	}
	if err := e.store.Write(path, mutated); err != nil {
		return "Error: persisting result: " + err.Error()
	}

	e.logger.Info("mutation applied", map[string]interface{}{
		"path": path,
		"rows": mutated.NumRows(),
		"cols": mutated.NumColumns(),
	})
	return fmt.Sprintf("OK: mutation applied and saved. New shape: %d rows x %d columns. Columns: [%s]",
		mutated.NumRows(), mutated.NumColumns(), strings.Join(mutated.Columns, ", "))
}

// Check runs src's check(table) function read-only against the live dataset
// and returns the function's result rendered as a string.
func (e *Executor) Check(ctx context.Context, path, src string) string {
	if err := ctx.Err(); err != nil {
		return "Error: " + err.Error()
	}

	tbl, err := e.store.Read(path)
	if err != nil {
		return "Error: " + err.Error()
	}

	result, err := e.run(src, CheckFunc, tbl)
	if err != nil {
		e.logger.Debug("check failed", map[string]interface{}{"error": firstLine(err.Error())})
		return "Error: " + err.Error()
	}
	return renderResult(result)
}

// run normalizes src, executes it in the restricted environment, and calls the
// contract function with the table as its only argument.
func (e *Executor) run(src, fnName string, tbl *table.Table) (starlark.Value, error) {
	normalized, err := Normalize(src, fnName, paramName)
	if err != nil {
		return nil, err
	}

	thread := newThread(fnName)
	globals, err := starlark.ExecFile(thread, "transform.star", normalized, predeclared())
	if err != nil {
		return nil, describeEvalError(err)
	}

	fn, ok := globals[fnName]
	if !ok {
		return nil, fmt.Errorf("source does not define %s", fnName)
	}

	arg := toStarlark(tbl)
	result, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, describeEvalError(err)
	}
	return result, nil
}

// describeEvalError converts a Starlark failure into a compact message with a
// truncated backtrace, so the agent sees what went wrong without blowing the
// context budget.
func describeEvalError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		bt := evalErr.Backtrace()
		if len(bt) > 600 {
			bt = bt[:600] + "... (truncated)"
		}
		return fmt.Errorf("%s\n%s", evalErr.Msg, bt)
	}
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// renderResult turns a check result into the string fed back to the agent.
func renderResult(v starlark.Value) string {
	switch val := v.(type) {
	case starlark.NoneType:
		return "None"
	case starlark.String:
		return string(val)
	default:
		return v.String()
	}
}

// toStarlark converts a table into the value the transform sees: a dict with
// "columns" (list of strings) and "rows" (list of lists of strings).
func toStarlark(t *table.Table) *starlark.Dict {
	d := starlark.NewDict(2)

	cols := make([]starlark.Value, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = starlark.String(c)
	}
	rows := make([]starlark.Value, len(t.Rows))
	for i, row := range t.Rows {
		cells := make([]starlark.Value, len(row))
		for j, cell := range row {
			cells[j] = starlark.String(cell)
		}
		rows[i] = starlark.NewList(cells)
	}

	// SetKey on a fresh dict with string keys cannot fail.
	_ = d.SetKey(starlark.String("columns"), starlark.NewList(cols))
	_ = d.SetKey(starlark.String("rows"), starlark.NewList(rows))
	return d
}

// fromStarlark converts a returned value back into a table, accepting the same
// shape toStarlark produces. Cell values of any scalar type are stringified.
func fromStarlark(v starlark.Value) (*table.Table, error) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("got %s", v.Type())
	}

	colsVal, found, err := d.Get(starlark.String("columns"))
	if err != nil || !found {
		return nil, fmt.Errorf("missing 'columns' key")
	}
	rowsVal, found, err := d.Get(starlark.String("rows"))
	if err != nil || !found {
		return nil, fmt.Errorf("missing 'rows' key")
	}

	colsList, ok := colsVal.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("'columns' is %s, want list", colsVal.Type())
	}
	rowsList, ok := rowsVal.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("'rows' is %s, want list", rowsVal.Type())
	}

	t := &table.Table{}
	for i := 0; i < colsList.Len(); i++ {
		t.Columns = append(t.Columns, stringify(colsList.Index(i)))
	}
	for i := 0; i < rowsList.Len(); i++ {
		rowList, ok := rowsList.Index(i).(*starlark.List)
		if !ok {
			return nil, fmt.Errorf("row %d is %s, want list", i, rowsList.Index(i).Type())
		}
		row := make([]string, 0, rowList.Len())
		for j := 0; j < rowList.Len(); j++ {
			row = append(row, stringify(rowList.Index(j)))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// stringify renders a scalar cell value without quoting strings.
func stringify(v starlark.Value) string {
	switch val := v.(type) {
	case starlark.String:
		return string(val)
	case starlark.NoneType:
		return ""
	default:
		return v.String()
	}
}
