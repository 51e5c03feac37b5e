// Package kernel wraps user code with a preamble/postamble that loads and
// saves interpreter namespace state across calls, giving persistent
// executions the appearance of a long-lived REPL without a real kernel
// protocol underneath.
package kernel

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/cagekeep/broker/pkg/api"
)

// Wrapper produces the source actually run inside the sandbox for a
// persistent execution: it embeds the caller's code between namespace
// load/save boilerplate keyed to a per-session, per-language state file.
type Wrapper interface {
	// Wrap writes code to its own file alongside statePath and returns the
	// wrapper source to execute in its place. statePath is an absolute path
	// inside the sandbox's workspace mount.
	Wrap(code, statePath string) (string, error)
}

// wrappers holds one Wrapper per language that supports persistent mode.
var wrappers = map[api.Language]Wrapper{
	api.LanguagePython: pythonWrapper{},
}

// WrapperFor returns the Wrapper for a language, if persistent execution
// is supported for it.
func WrapperFor(lang api.Language) (Wrapper, bool) {
	w, ok := wrappers[lang]
	return w, ok
}

// pythonWrapper persists globals with pickle, the same approach as a
// namespace-file continuation: the sandbox has no long-running kernel
// process, so state survives only in the pickle on disk.
type pythonWrapper struct{}

var pythonTemplate = template.Must(template.New("python-kernel").Parse(`
import sys, pickle, os

_state_path = {{printf "%q" .StatePath}}
_ns = {}
if os.path.exists(_state_path):
    try:
        with open(_state_path, "rb") as _f:
            _ns = pickle.load(_f)
    except Exception:
        _ns = {}
globals().update(_ns)

try:
    exec(compile(open({{printf "%q" .CodePath}}).read(), {{printf "%q" .CodePath}}, "exec"), globals())
finally:
    _save = {
        k: v for k, v in globals().items()
        if not k.startswith("_")
        and k not in ("sys", "pickle", "os")
        and not isinstance(v, type(sys))
    }
    try:
        with open(_state_path, "wb") as _f:
            pickle.dump(_save, _f)
    except Exception as _e:
        sys.stderr.write("kernel: failed to persist namespace: %s\n" % _e)
`))

// Wrap writes code to its own file next to statePath, then fills the
// pickle-namespace template referencing both paths. Splicing the user's
// code in as a file path rather than into the template body keeps arbitrary
// code content out of the templating and string-escaping path entirely.
func (pythonWrapper) Wrap(code, statePath string) (string, error) {
	codePath := CodePath(statePath)
	if err := os.MkdirAll(filepath.Dir(codePath), 0o700); err != nil {
		return "", fmt.Errorf("kernel: creating state dir: %w", err)
	}
	if err := os.WriteFile(codePath, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("kernel: writing code file: %w", err)
	}

	var buf bytes.Buffer
	err := pythonTemplate.Execute(&buf, struct {
		StatePath string
		CodePath  string
	}{StatePath: statePath, CodePath: codePath})
	if err != nil {
		return "", fmt.Errorf("kernel: rendering python wrapper: %w", err)
	}
	return buf.String(), nil
}

// CodePath returns the file Wrap writes the raw user code to.
func CodePath(statePath string) string {
	return statePath + ".src.py"
}
