// Restricted Starlark environment for transform execution. Only the modules
// listed here are visible; load() is rejected outright, which is the import
// guard: generated code cannot reach the filesystem, the network, or any Go
// API that is not explicitly placed in the predeclared namespace.
package sandbox

import (
	"fmt"
	"regexp"

	"go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxExecutionSteps bounds a single transform run. Generous for table work,
// small enough to stop an accidental infinite loop quickly.
const maxExecutionSteps = 10_000_000

// predeclared returns the allow-listed namespace for transform code.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"json": json.Module,
		"math": starlarkmath.Module,
		"time": starlarktime.Module,
		"re":   reModule(),
	}
}

// newThread creates an execution thread with the import guard installed.
func newThread(name string) *starlark.Thread {
	t := &starlark.Thread{
		Name: name,
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("import of %q disallowed in sandbox", module)
		},
		Print: func(_ *starlark.Thread, _ string) {}, // swallow print output
	}
	t.SetMaxExecutionSteps(maxExecutionSteps)
	return t
}

// reModule exposes a minimal regex surface backed by Go's regexp package.
func reModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "re",
		Members: starlark.StringDict{
			"matches": starlark.NewBuiltin("matches", reMatches),
			"search":  starlark.NewBuiltin("search", reSearch),
			"findall": starlark.NewBuiltin("findall", reFindall),
			"sub":     starlark.NewBuiltin("sub", reSub),
			"split":   starlark.NewBuiltin("split", reSplit),
		},
	}
}

func unpackPatternString(name string, args starlark.Tuple, kwargs []starlark.Tuple) (*regexp.Regexp, string, error) {
	var pattern, s string
	if err := starlark.UnpackArgs(name, args, kwargs, "pattern", &pattern, "s", &s); err != nil {
		return nil, "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("%s: invalid pattern: %v", name, err)
	}
	return re, s, nil
}

func reMatches(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPatternString(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(re.MatchString(s)), nil
}

func reSearch(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPatternString(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	m := re.FindString(s)
	if m == "" && !re.MatchString(s) {
		return starlark.None, nil
	}
	return starlark.String(m), nil
}

func reFindall(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPatternString(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, m := range re.FindAllString(s, -1) {
		out = append(out, starlark.String(m))
	}
	return starlark.NewList(out), nil
}

func reSub(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, repl, s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pattern", &pattern, "repl", &repl, "s", &s); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("sub: invalid pattern: %v", err)
	}
	return starlark.String(re.ReplaceAllString(s, repl)), nil
}

func reSplit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	re, s, err := unpackPatternString(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	var out []starlark.Value
	for _, part := range re.Split(s, -1) {
		out = append(out, starlark.String(part))
	}
	return starlark.NewList(out), nil
}
