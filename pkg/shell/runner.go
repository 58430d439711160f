// Package shell runs external tools through the mvdan.cc/sh interpreter so that shell
// command strings behave the same on every platform, including Windows.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
)

// ErrNotFound is returned if the executable of an argv invocation can't be resolved.
var ErrNotFound = eris.New("executable not found")

// Invocation describes one external command. Exactly one of Args and Script is used;
// Args takes precedence.
type Invocation struct {
	// Dir is the working directory. It must exist.
	Dir    string
	Args   []string
	Script string
	Env    map[string]string
}

// Result holds the exit status of the last executed statement.
type Result struct {
	ExitCode int
}

// Runner executes invocations. Implementations return an error only if the command
// could not be started; a non-zero exit status is reported through Result.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// Interp is the Runner backed by the mvdan.cc/sh interpreter.
type Interp struct {
	Stdout io.Writer
	Stderr io.Writer
	DryRun bool
}

// NewInterp returns an Interp that forwards output to the process' stdout and stderr.
func NewInterp(dryRun bool) *Interp {
	return &Interp{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		DryRun: dryRun,
	}
}

// builtins lists the commands the interpreter handles itself, without a PATH lookup
var builtins = map[string]bool{
	"true": true, ":": true, "false": true, "exit": true, "set": true, "shift": true, "unset": true,
	"echo": true, "printf": true, "break": true, "continue": true, "pwd": true, "cd": true,
	"wait": true, "builtin": true, "trap": true, "type": true, "source": true, ".": true,
	"command": true, "dirs": true, "pushd": true, "popd": true, "umask": true, "alias": true,
	"unalias": true, "fg": true, "bg": true, "getopts": true, "eval": true, "test": true,
	"[": true, "exec": true, "return": true, "read": true, "mapfile": true, "readarray": true,
	"shopt": true,
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func environ(overrides map[string]string) expand.Environ {
	osEnv := os.Environ()
	envVars := make([]string, 0, len(osEnv)+len(overrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		name := parts[0]
		if runtime.GOOS == "windows" {
			name = strings.ToUpper(name)
		}

		// skip overriden entries to avoid conflicts
		if _, present := overrides[name]; !present {
			envVars = append(envVars, item)
		}
	}

	for k, v := range overrides {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	return expand.ListEnviron(envVars...)
}

// Format renders the invocation as a single shell command line.
func Format(inv Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return inv.Script, nil
	}

	words := make([]string, len(inv.Args))
	for idx, arg := range inv.Args {
		quoted, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", eris.Wrapf(err, "failed to quote argument %q", arg)
		}
		words[idx] = quoted
	}

	return strings.Join(words, " "), nil
}

func parse(inv Invocation) (*syntax.File, error) {
	content, err := Format(inv)
	if err != nil {
		return nil, err
	}

	name := "script"
	if len(inv.Args) > 0 {
		name = inv.Args[0]
	}

	result, err := syntax.NewParser().Parse(strings.NewReader(content), name)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", content)
	}

	return result, nil
}

// Run executes the invocation and waits for it to finish.
func (r *Interp) Run(ctx context.Context, inv Invocation) (Result, error) {
	file, err := parse(inv)
	if err != nil {
		return Result{}, err
	}

	env := environ(inv.Env)
	if len(inv.Args) > 0 && !builtins[inv.Args[0]] {
		_, err := interp.LookPathDir(inv.Dir, env, inv.Args[0])
		if err != nil {
			return Result{}, eris.Wrapf(ErrNotFound, "%s: %s", inv.Args[0], err.Error())
		}
	}

	runner, err := interp.New(
		interp.Dir(inv.Dir),
		interp.Env(env),
		interp.ExecHandler(defaultExecHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, r.Stdout, r.Stderr),
	)
	if err != nil {
		return Result{}, eris.Wrapf(err, "failed to initialize runner in %s", inv.Dir)
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}
	for _, stmt := range file.Stmts {
		strBuffer.Reset()
		printer.Print(&strBuffer, stmt)
		logging.Log(ctx).Info().
			Bool("command", true).
			Str("dir", inv.Dir).
			Msg(strBuffer.String())
	}

	if r.DryRun {
		return Result{}, nil
	}

	err = runner.Run(ctx, file)
	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return Result{ExitCode: int(status)}, nil
		}

		return Result{}, eris.Wrapf(err, "failed to run %s", file.Name)
	}

	return Result{}, nil
}
