// Package logging wires zerolog into the command line tools. Events are either written
// as JSON or rendered by ConsoleWriter as short coloured lines.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables stack traces and the raw field dump when set to a non-empty value.
const DebugEnv = "BUILDSYS_DEBUG"

type ConsoleWriter struct {
	out      io.Writer
	colorize colorstring.Colorize
	buffer   strings.Builder
	lock     sync.Mutex
}

// NewConsoleWriter creates a writer that renders zerolog events to out. Colours are
// stripped if noColor is set.
func NewConsoleWriter(out io.Writer, noColor bool) *ConsoleWriter {
	return &ConsoleWriter{
		out: out,
		colorize: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: noColor,
			Reset:   true,
		},
	}
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt[zerolog.LevelFieldName] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok {
		w.buffer.WriteString(task + ": ")
	}

	if evt[zerolog.LevelFieldName] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt[zerolog.MessageFieldName].(string)

	if path, ok := evt["path"].(string); ok {
		relPath, err := filepath.Rel(".", path)
		if err == nil {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt[zerolog.ErrorFieldName]; ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(fmt.Sprint(errorDetails))
	}

	if os.Getenv(DebugEnv) != "" {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		w.buffer.WriteString("\n")
		for _, name := range names {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, evt[name]))
		}
	}

	line := w.colorize.Color(w.buffer.String()) + "\n"
	if _, err = io.WriteString(w.out, line); err != nil {
		return 0, err
	}

	return len(p), nil
}

// New builds the process logger. JSON output bypasses the console writer.
func New(out io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if jsonOutput {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, os.Getenv(DebugEnv) != "")
		}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}

	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, os.Getenv(DebugEnv) != "")
	}
	return zerolog.New(NewConsoleWriter(out, false)).Level(level)
}
