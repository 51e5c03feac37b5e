// Command sandbox-agent runs inside a sandbox container (docker or
// kubernetes-backed) and executes code submitted by the broker over HTTP.
// One agent process serves every language its image bundles an interpreter
// for; the broker picks the image, the agent just trusts whatever Language
// the request names.
//
// Configuration:
//
//	AGENT_PORT          - Listen port (default: 8080)
//	AGENT_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	AGENT_PYTHON_INDEX  - Python package index URL (default: https://pypi.org/simple/)
//	AGENT_OUTPUT_DIR    - Output directory name within the workspace (default: output)
//	AGENT_WORKSPACE     - Root directory for per-execution work dirs (default: os.TempDir())
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/kernel"
	"github.com/cagekeep/broker/pkg/runtime"
)

func main() {
	port := envOr("AGENT_PORT", "8080")
	maxConcurrent := envOrInt("AGENT_MAX_CONCURRENT", 3)
	pythonIndex := envOr("AGENT_PYTHON_INDEX", "https://pypi.org/simple/")
	outputDirName := envOr("AGENT_OUTPUT_DIR", "output")
	workspace := envOr("AGENT_WORKSPACE", os.TempDir())

	agent := &sandboxAgent{
		maxConcurrent: int32(maxConcurrent),
		pythonIndex:   pythonIndex,
		outputDirName: outputDirName,
		workspace:     workspace,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", agent.handleExecute)
	mux.HandleFunc("GET /health", agent.handleHealth)

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 620 * time.Second, // above the max allowed execution timeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox agent starting", "port", port, "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// --- Agent ---

type sandboxAgent struct {
	maxConcurrent int32
	currentLoad   atomic.Int32
	pythonIndex   string
	outputDirName string
	workspace     string
	startTime     time.Time
}

// --- Execute handler ---

func (a *sandboxAgent) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := a.currentLoad.Add(1)
	defer a.currentLoad.Add(-1)

	if current > a.maxConcurrent {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, a.maxConcurrent),
		})
		return
	}

	var req runtime.AgentExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	lang := api.Language(req.Language)
	spec, ok := api.Launcher(lang)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", req.Language))
		return
	}

	if req.Persistent && !api.SupportsPersistent(lang) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("language %q does not support persistent execution", req.Language))
		return
	}

	codePreview := req.Code
	if len(codePreview) > 120 {
		codePreview = codePreview[:120] + "..."
	}
	slog.Info("execute request",
		"language", req.Language,
		"code", codePreview,
		"timeout", req.TimeoutSeconds,
		"persistent", req.Persistent,
		"files", len(req.Files),
	)

	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 30
	}

	workDir, err := os.MkdirTemp(a.workspace, "sandbox-exec-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create work dir: "+err.Error())
		return
	}
	defer os.RemoveAll(workDir)

	outputDir := filepath.Join(workDir, a.outputDirName)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create output dir: "+err.Error())
		return
	}

	for name, b64Content := range req.Files {
		content, err := base64.StdEncoding.DecodeString(b64Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode file %q: %v", name, err))
			return
		}
		filePath := filepath.Join(workDir, filepath.Base(name))
		if err := os.WriteFile(filePath, content, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write file %q: %v", name, err))
			return
		}
	}

	if requirements := requirementsFromEnv(req.Env); len(requirements) > 0 {
		if err := a.installRequirements(r.Context(), lang, workDir, requirements, req.TimeoutSeconds); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(runtime.AgentExecResponse{
				Status: string(api.ExecutionStatusError),
				Stderr: "package installation failed: " + err.Error(),
			})
			return
		}
	}

	codePath := filepath.Join(workDir, "script"+spec.FileExtension)
	runSource := req.Code

	if req.Persistent {
		statePath := kernel.StatePath(a.workspace, lang)
		if req.KernelID != "" {
			statePath = kernel.StatePath(filepath.Join(a.workspace, req.KernelID), lang)
		}
		wrapper, _ := kernel.WrapperFor(lang)
		wrapped, err := wrapper.Wrap(req.Code, statePath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to wrap persistent execution: "+err.Error())
			return
		}
		runSource = wrapped
	}

	if err := os.WriteFile(codePath, []byte(runSource), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write code: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	startTime := time.Now()
	argv := append(append([]string{}, spec.Argv...), codePath)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+outputDir)
	if lang == api.LanguagePython {
		cmd.Env = append(cmd.Env, "PYTHONPATH="+filepath.Join(workDir, ".pylibs"))
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	execErr := cmd.Run()
	duration := time.Since(startTime)

	status, exitCode, timedOut := classifyResult(ctx, execErr)
	if timedOut && stderrBuf.Len() == 0 {
		stderrBuf.WriteString(fmt.Sprintf("execution timed out after %d seconds", req.TimeoutSeconds))
	}

	filesProduced := collectOutputFiles(outputDir)

	stdoutPreview := stdoutBuf.String()
	if len(stdoutPreview) > 200 {
		stdoutPreview = stdoutPreview[:200] + "..."
	}
	slog.Info("execute complete",
		"status", status,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
		"stdout_len", stdoutBuf.Len(),
		"stdout", stdoutPreview,
		"files_produced", len(filesProduced),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runtime.AgentExecResponse{
		Status:          string(status),
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		ExitCode:        exitCode,
		ExecutionTimeMs: duration.Milliseconds(),
		FilesProduced:   filesProduced,
		TimedOut:        timedOut,
	})
}

// classifyResult maps a completed exec.Cmd.Run() outcome to a terminal
// status per the exit-code/deadline/signal precedence: a deadline hit
// always reads as a timeout even if the process also happened to exit
// nonzero; a signal-killed process (but not by our own deadline) reads as
// killed; anything else nonzero is a plain error.
func classifyResult(ctx context.Context, execErr error) (status api.ExecutionStatus, exitCode int, timedOut bool) {
	if execErr == nil {
		return api.ExecutionStatusSuccess, 0, false
	}

	if ctx.Err() == context.DeadlineExceeded {
		return api.ExecutionStatusTimeout, -1, true
	}

	var exitErr *exec.ExitError
	if errors.As(execErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return api.ExecutionStatusKilled, -int(ws.Signal()), false
		}
		return api.ExecutionStatusError, exitErr.ExitCode(), false
	}

	return api.ExecutionStatusError, -1, false
}

// requirementsFromEnv recovers the requirements list the broker tucks into
// the env map under "_REQUIREMENTS" (comma-separated), keeping
// runtime.AgentExecRequest's wire shape free of a dedicated field that only
// a couple of languages use.
func requirementsFromEnv(env map[string]string) []string {
	raw, ok := env["_REQUIREMENTS"]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// installRequirements installs packages for languages with a package
// manager. Most languages skip this silently.
func (a *sandboxAgent) installRequirements(ctx context.Context, lang api.Language, workDir string, requirements []string, timeoutSecs int) error {
	switch lang {
	case api.LanguagePython:
		return a.installPythonRequirements(ctx, workDir, requirements, timeoutSecs)
	case api.LanguageJavaScript:
		return a.installNodeRequirements(ctx, workDir, requirements, timeoutSecs)
	default:
		return nil
	}
}

func (a *sandboxAgent) installPythonRequirements(ctx context.Context, workDir string, requirements []string, timeoutSecs int) error {
	installCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	targetDir := filepath.Join(workDir, ".pylibs")
	args := []string{"pip", "install", "--system", "--target", targetDir, "--index-url", a.pythonIndex}
	args = append(args, requirements...)

	cmd := exec.CommandContext(installCtx, "uv", args...)
	cmd.Dir = workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err.Error(), string(output))
	}
	return nil
}

func (a *sandboxAgent) installNodeRequirements(ctx context.Context, workDir string, requirements []string, timeoutSecs int) error {
	installCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	args := append([]string{"install"}, requirements...)
	cmd := exec.CommandContext(installCtx, "npm", args...)
	cmd.Dir = workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err.Error(), string(output))
	}
	return nil
}

// collectOutputFiles reads files from the output directory and encodes
// them as base64.
func collectOutputFiles(outputDir string) map[string]string {
	entries, err := os.ReadDir(outputDir)
	if err != nil || len(entries) == 0 {
		return nil
	}

	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			continue
		}
		files[entry.Name()] = base64.StdEncoding.EncodeToString(content)
	}

	if len(files) == 0 {
		return nil
	}
	return files
}

// --- Health handler ---

type healthResponse struct {
	Status      string   `json:"status"`
	Languages   []string `json:"languages"`
	Capacity    int      `json:"capacity"`
	CurrentLoad int      `json:"current_load"`
	UptimeSecs  int64    `json:"uptime_seconds"`
}

func (a *sandboxAgent) handleHealth(w http.ResponseWriter, r *http.Request) {
	langs := make([]string, 0, 8)
	for _, lang := range []api.Language{
		api.LanguagePython, api.LanguageJavaScript, api.LanguageTypeScript,
		api.LanguageBash, api.LanguageGo, api.LanguageRuby, api.LanguageR, api.LanguageJulia,
	} {
		if spec, ok := api.Launcher(lang); ok {
			if _, err := exec.LookPath(spec.Argv[0]); err == nil {
				langs = append(langs, string(lang))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:      "healthy",
		Languages:   langs,
		Capacity:    int(a.maxConcurrent),
		CurrentLoad: int(a.currentLoad.Load()),
		UptimeSecs:  int64(time.Since(a.startTime).Seconds()),
	})
}

// --- Helpers ---

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
