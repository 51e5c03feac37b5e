// Package screener performs static pattern-matching over submitted code
// to flag dangerous constructs before a sandbox ever runs it.
package screener

import (
	"regexp"
	"strings"

	"github.com/cagekeep/broker/pkg/api"
)

// rule is one compiled pattern checked against a code submission.
type rule struct {
	category string
	message  string
	severity api.RiskLevel
	pattern  *regexp.Regexp
}

// riskRank orders RiskLevel for max-severity comparisons.
var riskRank = map[api.RiskLevel]int{
	api.RiskLevelSafe:     0,
	api.RiskLevelLow:      1,
	api.RiskLevelMedium:   2,
	api.RiskLevelHigh:     3,
	api.RiskLevelCritical: 4,
}

func maxRisk(a, b api.RiskLevel) api.RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

var pythonRules = []rule{
	{"SHELL_EXECUTION", "uses os.system() for shell command execution", api.RiskLevelMedium, regexp.MustCompile(`\bos\.system\s*\(`)},
	{"SUBPROCESS", "uses subprocess module for process spawning", api.RiskLevelMedium, regexp.MustCompile(`\b(import subprocess|from subprocess)\b`)},
	{"CODE_INJECTION", "uses eval() or exec() - potential code injection risk", api.RiskLevelHigh, regexp.MustCompile(`\b(eval|exec)\s*\(`)},
	{"DYNAMIC_IMPORT", "uses __import__() for dynamic imports", api.RiskLevelHigh, regexp.MustCompile(`__import__\s*\(`)},
	{"SYSTEM_FILE_ACCESS", "attempts to access system files (/etc, /proc, /sys)", api.RiskLevelLow, regexp.MustCompile(`open\s*\(.*(/etc/|/proc/|/sys/)`)},
	{"KERNEL_MEMORY_ACCESS", "attempts to read /proc/kcore", api.RiskLevelCritical, regexp.MustCompile(`/proc/kcore`)},
	{"INFINITE_LOOP", "contains while True without obvious break condition", api.RiskLevelMedium, regexp.MustCompile(`while\s+True\s*:`)},
	{"NETWORK_ACCESS", "attempts network socket operations", api.RiskLevelLow, regexp.MustCompile(`\b(import socket|from socket)\b`)},
	{"FILE_DELETION", "deletes files or directories", api.RiskLevelLow, regexp.MustCompile(`\b(os\.remove|shutil\.rmtree|os\.unlink)\s*\(`)},
	{"FFI_SYSCALL", "uses ctypes to call libc directly, bypassing language-level mediation", api.RiskLevelHigh, regexp.MustCompile(`\bctypes\.CDLL\s*\(`)},
}

var javascriptRules = []rule{
	{"SUBPROCESS", "uses child_process module", api.RiskLevelMedium, regexp.MustCompile(`child_process|\b(exec|spawn)\s*\(`)},
	{"CODE_INJECTION", "uses eval() - code injection risk", api.RiskLevelHigh, regexp.MustCompile(`\beval\s*\(`)},
	{"INFINITE_LOOP", "contains infinite loop", api.RiskLevelMedium, regexp.MustCompile(`while\s*\(\s*true\s*\)`)},
	{"KERNEL_MEMORY_ACCESS", "attempts to read /proc/kcore", api.RiskLevelCritical, regexp.MustCompile(`/proc/kcore`)},
}

var typescriptRules = append(append([]rule{}, javascriptRules...), rule{
	"SUBPROCESS", "uses process execution", api.RiskLevelMedium, regexp.MustCompile(`child_process|Deno\.run`),
})

var bashRules = []rule{
	{"DESTRUCTIVE_COMMAND", "uses rm -rf (recursive deletion)", api.RiskLevelHigh, regexp.MustCompile(`rm\s+-rf\b`)},
	{"FORK_BOMB", "potential fork bomb detected", api.RiskLevelCritical, regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"NETWORK_ACCESS", "attempts to download from internet", api.RiskLevelLow, regexp.MustCompile(`\b(curl|wget)\b`)},
	{"PRIVILEGE_ESCALATION", "attempts privilege escalation", api.RiskLevelCritical, regexp.MustCompile(`\bsudo\b|\bsu\s`)},
	{"KERNEL_MEMORY_ACCESS", "attempts to read /proc/kcore", api.RiskLevelCritical, regexp.MustCompile(`/proc/kcore`)},
}

var rRules = []rule{
	{"SHELL_EXECUTION", "uses system() for shell command execution", api.RiskLevelMedium, regexp.MustCompile(`\bsystem2?\s*\(`)},
	{"CODE_INJECTION", "uses eval() or parse() - potential code injection", api.RiskLevelMedium, regexp.MustCompile(`\b(eval|parse)\s*\(`)},
	{"FILE_DELETION", "deletes files", api.RiskLevelLow, regexp.MustCompile(`file\.remove|unlink\s*\(`)},
}

var juliaRules = []rule{
	{"SHELL_EXECUTION", "uses shell command execution", api.RiskLevelMedium, regexp.MustCompile("run\\(`|@cmd")},
	{"CODE_INJECTION", "uses eval() or include() - potential code injection", api.RiskLevelMedium, regexp.MustCompile(`\b(eval|include)\s*\(`)},
	{"FILE_DELETION", "deletes files", api.RiskLevelLow, regexp.MustCompile(`\brm\s*\(`)},
}

var rubyRules = []rule{
	{"SHELL_EXECUTION", "uses system() or backticks for shell execution", api.RiskLevelMedium, regexp.MustCompile("\\b(system|exec)\\s*\\(|`[^`]*`")},
	{"CODE_INJECTION", "uses eval() - potential code injection", api.RiskLevelHigh, regexp.MustCompile(`\beval\s*\(|instance_eval|class_eval`)},
	{"FILE_DELETION", "deletes files", api.RiskLevelLow, regexp.MustCompile(`File\.delete|FileUtils\.rm`)},
}

var goRules = []rule{
	{"SUBPROCESS", "uses os/exec for process execution", api.RiskLevelMedium, regexp.MustCompile(`"os/exec"|exec\.Command`)},
	{"FILE_DELETION", "deletes files or directories", api.RiskLevelLow, regexp.MustCompile(`os\.Remove(All)?\s*\(`)},
	{"NETWORK_ACCESS", "attempts network operations", api.RiskLevelLow, regexp.MustCompile(`net\.Dial|http\.Get`)},
}

var rulesByLanguage = map[api.Language][]rule{
	api.LanguagePython:     pythonRules,
	api.LanguageJavaScript: javascriptRules,
	api.LanguageTypeScript: typescriptRules,
	api.LanguageBash:       bashRules,
	api.LanguageR:          rRules,
	api.LanguageJulia:      juliaRules,
	api.LanguageRuby:       rubyRules,
	api.LanguageGo:         goRules,
}

// Screener runs static pattern checks over code before a sandbox executes it.
type Screener struct {
	blockThreshold api.RiskLevel
}

// New creates a Screener that marks a ScreenResult blocked once its risk
// level reaches blockThreshold or higher.
func New(blockThreshold api.RiskLevel) *Screener {
	return &Screener{blockThreshold: blockThreshold}
}

// Screen evaluates code for the given language against the rule table
// and returns the aggregate risk assessment.
func (s *Screener) Screen(language api.Language, code string) *api.ScreenResult {
	rules, ok := rulesByLanguage[language]
	if !ok {
		return &api.ScreenResult{RiskLevel: api.RiskLevelSafe}
	}

	var warnings []api.ScreenWarning
	maxSeverity := api.RiskLevelSafe

	for _, r := range rules {
		loc := r.pattern.FindStringIndex(code)
		if loc == nil {
			continue
		}
		warnings = append(warnings, api.ScreenWarning{
			Category: r.category,
			Message:  r.message,
			Severity: r.severity,
			Line:     lineOf(code, loc[0]),
		})
		maxSeverity = maxRisk(maxSeverity, r.severity)
	}

	return &api.ScreenResult{
		RiskLevel: maxSeverity,
		Warnings:  warnings,
		Blocked:   riskRank[maxSeverity] >= riskRank[s.blockThreshold],
	}
}

// lineOf returns the 1-indexed line number containing byte offset pos.
func lineOf(code string, pos int) int {
	return 1 + strings.Count(code[:pos], "\n")
}
