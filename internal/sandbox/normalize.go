// Source normalization for LLM-generated transform code. The model is asked
// for a single Starlark function, but real output drifts: wrong function name,
// bare statements, markdown fences, a dangling bracket. Normalize repairs what
// it can and rejects the rest with a parse error.
package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)```")

// Normalize returns source that defines a single function fnName(param) and
// parses cleanly, or an error when no repair succeeds.
//
// Repair order: strip markdown fences, trim unbalanced trailing brackets and
// close dangling quotes, parse (dropping one offending line on failure), then
// rename a differently-named single-parameter function or wrap bare statements
// as the function body.
func Normalize(src, fnName, param string) (string, error) {
	src = stripFences(src)
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("empty source")
	}

	src = repairBalance(src)

	f, err := parse(src)
	if err != nil {
		src, f, err = repairOffendingLine(src, err)
		if err != nil {
			return "", fmt.Errorf("source does not parse: %w", err)
		}
	}

	if hasFunc(f, fnName, 1) {
		return src, nil
	}

	// A single-parameter function under another name: rename it.
	if other := singleParamFunc(f); other != "" {
		renamed := renameFunc(src, other, fnName)
		if f2, err := parse(renamed); err == nil && hasFunc(f2, fnName, 1) {
			return renamed, nil
		}
	}

	// Bare statements: wrap the whole body.
	wrapped := wrapAsFunc(src, fnName, param)
	f2, err := parse(wrapped)
	if err != nil {
		return "", fmt.Errorf("wrapped source does not parse: %w", err)
	}
	if !hasFunc(f2, fnName, 1) {
		return "", fmt.Errorf("could not produce function %s", fnName)
	}
	return wrapped, nil
}

func parse(src string) (*syntax.File, error) {
	return syntax.Parse("transform.star", src, 0)
}

// stripFences unwraps the first markdown code fence, if any.
func stripFences(src string) string {
	if m := fenceRe.FindStringSubmatch(src); m != nil {
		return m[1]
	}
	return src
}

// repairBalance trims unmatched trailing closers and closes a dangling quote.
func repairBalance(src string) string {
	// Close an odd quote count first so bracket scanning below sees strings.
	for _, q := range []byte{'"', '\''} {
		if countUnescaped(src, q)%2 == 1 {
			src += string(q)
		}
	}

	// Trim trailing closers that have no opener.
	for {
		depth := bracketBalance(src)
		if depth >= 0 {
			break
		}
		trimmed := strings.TrimRight(src, " \t\n")
		if trimmed == "" {
			break
		}
		last := trimmed[len(trimmed)-1]
		if last != ')' && last != ']' && last != '}' {
			break
		}
		src = trimmed[:len(trimmed)-1]
	}
	return src
}

func countUnescaped(src string, quote byte) int {
	n := 0
	for i := 0; i < len(src); i++ {
		if src[i] == '\\' {
			i++
			continue
		}
		if src[i] == quote {
			n++
		}
	}
	return n
}

// bracketBalance returns opens minus closes outside of string literals.
// Negative means there are closers with no opener.
func bracketBalance(src string) int {
	depth := 0
	var inStr byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inStr != 0 {
			if c == '\\' {
				i++
			} else if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}

var parseErrLineRe = regexp.MustCompile(`transform\.star:(\d+):`)

// repairOffendingLine drops the line named in a parse error and tries once more.
func repairOffendingLine(src string, parseErr error) (string, *syntax.File, error) {
	m := parseErrLineRe.FindStringSubmatch(parseErr.Error())
	if m == nil {
		return "", nil, parseErr
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", nil, parseErr
	}

	lines := strings.Split(src, "\n")
	if n < 1 || n > len(lines) {
		return "", nil, parseErr
	}
	repaired := strings.Join(append(lines[:n-1:n-1], lines[n:]...), "\n")

	f, err := parse(repaired)
	if err != nil {
		return "", nil, parseErr
	}
	return repaired, f, nil
}

// hasFunc reports whether the file defines fnName at top level with nparams.
func hasFunc(f *syntax.File, fnName string, nparams int) bool {
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}
		if def.Name.Name == fnName && len(def.Params) == nparams {
			return true
		}
	}
	return false
}

// singleParamFunc returns the name of the sole top-level single-parameter
// function, or "" when there is none or more than one candidate.
func singleParamFunc(f *syntax.File) string {
	name := ""
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || len(def.Params) != 1 {
			continue
		}
		if name != "" {
			return "" // ambiguous
		}
		name = def.Name.Name
	}
	return name
}

func renameFunc(src, from, to string) string {
	re := regexp.MustCompile(`\bdef\s+` + regexp.QuoteMeta(from) + `\s*\(`)
	src = re.ReplaceAllString(src, "def "+to+"(")
	// Self-references (recursion or a trailing call) follow the new name.
	callRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(from) + `\s*\(`)
	return callRe.ReplaceAllString(src, to+"(")
}

// wrapAsFunc indents the source as the body of def fnName(param) and appends
// a default return of the parameter when the body never returns.
func wrapAsFunc(src, fnName, param string) string {
	var sb strings.Builder
	sb.WriteString("def " + fnName + "(" + param + "):\n")
	hasReturn := false
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "return") {
			hasReturn = true
		}
		sb.WriteString("    ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if !hasReturn {
		sb.WriteString("    return " + param + "\n")
	}
	return sb.String()
}
