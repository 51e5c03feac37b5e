package screener

import (
	"testing"

	"github.com/cagekeep/broker/pkg/api"
)

func TestScreenPythonSafe(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguagePython, "print('hello')")

	if result.RiskLevel != api.RiskLevelSafe {
		t.Errorf("risk level = %q, want safe", result.RiskLevel)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %d", len(result.Warnings))
	}
	if result.Blocked {
		t.Error("expected safe code not to be blocked")
	}
}

func TestScreenPythonSubprocess(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguagePython, "import os\nos.system('rm -rf /')")

	if result.RiskLevel != api.RiskLevelMedium {
		t.Errorf("risk level = %q, want medium", result.RiskLevel)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected warnings for os.system usage")
	}
}

func TestScreenPythonEvalIsHighRisk(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguagePython, "eval(user_input)")

	if result.RiskLevel != api.RiskLevelHigh {
		t.Errorf("risk level = %q, want high", result.RiskLevel)
	}
	if !result.Blocked {
		t.Error("expected high-risk code to be blocked at high threshold")
	}
}

func TestScreenBashForkBombIsCriticalAndBlocked(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguageBash, ":(){ :|:& };:")

	if result.RiskLevel != api.RiskLevelCritical {
		t.Errorf("risk level = %q, want critical", result.RiskLevel)
	}
	if !result.Blocked {
		t.Error("expected fork bomb to be blocked")
	}
}

func TestScreenBashCurlIsLowRiskAndNotBlocked(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguageBash, "curl https://example.com")

	if result.RiskLevel != api.RiskLevelLow {
		t.Errorf("risk level = %q, want low", result.RiskLevel)
	}
	if result.Blocked {
		t.Error("expected low-risk code not to be blocked at high threshold")
	}
}

func TestScreenKernelMemoryAccessIsCritical(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.LanguagePython, "open('/proc/kcore', 'rb').read()")

	if result.RiskLevel != api.RiskLevelCritical {
		t.Errorf("risk level = %q, want critical", result.RiskLevel)
	}
}

func TestScreenUnknownLanguageIsSafe(t *testing.T) {
	s := New(api.RiskLevelHigh)
	result := s.Screen(api.Language("cobol"), "ANYTHING GOES HERE")

	if result.RiskLevel != api.RiskLevelSafe {
		t.Errorf("risk level = %q, want safe for unrecognized language", result.RiskLevel)
	}
}

func TestScreenReportsLineNumber(t *testing.T) {
	s := New(api.RiskLevelHigh)
	code := "x = 1\ny = 2\neval(x)\n"
	result := s.Screen(api.LanguagePython, code)

	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	if result.Warnings[0].Line != 3 {
		t.Errorf("warning line = %d, want 3", result.Warnings[0].Line)
	}
}

func TestBlockThresholdIsConfigurable(t *testing.T) {
	s := New(api.RiskLevelMedium)
	result := s.Screen(api.LanguagePython, "import subprocess")

	if result.RiskLevel != api.RiskLevelMedium {
		t.Errorf("risk level = %q, want medium", result.RiskLevel)
	}
	if !result.Blocked {
		t.Error("expected medium-risk code to be blocked at medium threshold")
	}
}
