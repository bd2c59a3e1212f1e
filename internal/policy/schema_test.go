package policy

import (
	"context"
	"encoding/json"
	"testing"
)

const bashSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string", "minLength": 1},
		"timeout": {"type": "integer", "minimum": 0}
	},
	"required": ["command"],
	"additionalProperties": false
}`

func TestNewSchemaPolicy_InvalidSchema(t *testing.T) {
	_, err := NewSchemaPolicy(map[string]string{"bash": `{"type": 42}`})
	if err == nil {
		t.Error("NewSchemaPolicy() should reject an invalid schema document")
	}
}

func TestSchemaPolicy_AppliesOnlyToRegisteredTools(t *testing.T) {
	p, err := NewSchemaPolicy(map[string]string{"bash": bashSchema})
	if err != nil {
		t.Fatalf("NewSchemaPolicy() error = %v", err)
	}
	if !p.AppliesTo("bash") {
		t.Error("AppliesTo(bash) = false, want true")
	}
	if p.AppliesTo("read") {
		t.Error("AppliesTo(read) = true, want false")
	}
}

func TestSchemaPolicy_Evaluate(t *testing.T) {
	p, err := NewSchemaPolicy(map[string]string{"bash": bashSchema})
	if err != nil {
		t.Fatalf("NewSchemaPolicy() error = %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid", `{"command":"ls"}`, true},
		{"valid_with_timeout", `{"command":"ls","timeout":30}`, true},
		{"missing_command", `{"timeout":30}`, false},
		{"empty_command", `{"command":""}`, false},
		{"wrong_type", `{"command":42}`, false},
		{"extra_field", `{"command":"ls","cwd":"/"}`, false},
		{"not_json", `{command}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := p.Evaluate(context.Background(), &Request{
				Tool:  "bash",
				Input: json.RawMessage(tt.input),
			})
			if decision.Allow != tt.want {
				t.Errorf("Evaluate(%s) allow = %v, want %v (reason: %s)",
					tt.input, decision.Allow, tt.want, decision.Reason)
			}
		})
	}
}
