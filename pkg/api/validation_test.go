package api

import "testing"

func TestValidateExecutionRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecutionRequest
		wantErr bool
	}{
		{"valid python", ExecutionRequest{Language: LanguagePython, Code: "print(1)"}, false},
		{"empty code", ExecutionRequest{Language: LanguagePython, Code: ""}, true},
		{"unknown language", ExecutionRequest{Language: "cobol", Code: "x"}, true},
		{"persistent unsupported language", ExecutionRequest{Language: LanguageBash, Code: "echo hi", Persistent: true}, true},
		{"persistent python ok", ExecutionRequest{Language: LanguagePython, Code: "x=1", Persistent: true}, false},
		{"timeout too large", ExecutionRequest{Language: LanguagePython, Code: "x", TimeoutSeconds: 99999}, true},
		{"negative timeout", ExecutionRequest{Language: LanguagePython, Code: "x", TimeoutSeconds: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExecutionRequest(%+v) err = %v, wantErr %v", tt.req, err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	req := &ExecutionRequest{}
	if got := EffectiveTimeout(req, 30); got != 30 {
		t.Errorf("EffectiveTimeout() = %d, want 30", got)
	}
	req.TimeoutSeconds = 5
	if got := EffectiveTimeout(req, 30); got != 5 {
		t.Errorf("EffectiveTimeout() = %d, want 5", got)
	}
}
