package kernel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cagekeep/broker/pkg/api"
)

func TestWrapperForPython(t *testing.T) {
	w, ok := WrapperFor(api.LanguagePython)
	if !ok {
		t.Fatal("expected a wrapper for python")
	}
	if w == nil {
		t.Fatal("wrapper is nil")
	}
}

func TestWrapperForUnsupportedLanguage(t *testing.T) {
	if _, ok := WrapperFor(api.LanguageBash); ok {
		t.Error("expected no wrapper for bash")
	}
}

func TestPythonWrapperEmbedsStateAndCodePaths(t *testing.T) {
	w, _ := WrapperFor(api.LanguagePython)
	statePath := filepath.Join(t.TempDir(), "kernel", "python.state")

	src, err := w.Wrap("x = 1", statePath)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	if !strings.Contains(src, `"`+statePath+`"`) {
		t.Error("expected wrapped source to reference the state path")
	}
	codePath := CodePath(statePath)
	if !strings.Contains(src, `"`+codePath+`"`) {
		t.Error("expected wrapped source to reference the code path")
	}
	if !strings.Contains(src, "pickle.load") || !strings.Contains(src, "pickle.dump") {
		t.Error("expected wrapped source to load and save namespace state")
	}

	got, err := os.ReadFile(codePath)
	if err != nil {
		t.Fatalf("expected Wrap to write the code file: %v", err)
	}
	if string(got) != "x = 1" {
		t.Errorf("code file contents = %q, want %q", got, "x = 1")
	}
}

func TestCodePathDerivation(t *testing.T) {
	got := CodePath("/mnt/data/kernel/python.state")
	want := "/mnt/data/kernel/python.state.src.py"
	if got != want {
		t.Errorf("CodePath() = %q, want %q", got, want)
	}
}
