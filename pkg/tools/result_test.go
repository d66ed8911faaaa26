package tools

import "testing"

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		artifact bool
		wantName string
		wantID   string
	}{
		{"plain text", "Expense saved", false, "", ""},
		{"json without url", `{"type":"report","id":7}`, false, "", ""},
		{"empty type", `{"type":"","url":"http://x/r.pdf"}`, false, "", ""},
		{"report", `{"type":"report","url":"http://x/r.pdf","name":"r.pdf","id":42}`, true, "r.pdf", "42"},
		{"filename fallback", `{"type":"report","url":"http://x/r.pdf","filename":"march.xlsx","id":"abc"}`, true, "march.xlsx", "abc"},
		{"json array", `[{"type":"report","url":"http://x"}]`, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DecodeResult(tt.text)
			if res.Text != tt.text {
				t.Errorf("text changed: %q", res.Text)
			}
			if got := res.Kind == ResultArtifact; got != tt.artifact {
				t.Fatalf("artifact = %v, want %v", got, tt.artifact)
			}
			if !tt.artifact {
				return
			}
			if res.Artifact.Name != tt.wantName || res.Artifact.ID != tt.wantID {
				t.Errorf("artifact = %+v", res.Artifact)
			}
		})
	}
}
