package prompts

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestDefault_Render(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	tests := []struct {
		name     string
		template string
		data     any
		want     string
	}{
		{
			name:     "segment with known persona",
			template: Segment,
			data: map[string]any{
				"Index": 2, "Total": 12, "Beat": "Scan the crossing", "Style": "TACTICAL", "Words": 105,
			},
			want: "System: SafeStep Elite Guidance. Context: Phase 2/12. Mission: Scan the crossing. " +
				"Persona: A professional security overwatch. Focus: Situational awareness, perimeter integrity, and assertive urban movement. " +
				"Word count: 105. Tone: High-performance, professional athlete coach.",
		},
		{
			name:     "segment with unknown persona",
			template: Segment,
			data: map[string]any{
				"Index": 1, "Total": 1, "Beat": "Go", "Style": "ZEN", "Words": 105,
			},
			want: "System: SafeStep Elite Guidance. Context: Phase 1/1. Mission: Go. " +
				"Persona: A professional urban fitness guardian. Word count: 105. Tone: High-performance, professional athlete coach.",
		},
		{
			name:     "plan",
			template: Plan,
			data:     map[string]any{"Total": 3, "Start": "Alexanderplatz", "End": "Tiergarten", "Style": "SCOUT"},
			want: "Task: Build a 3-step high-performance safety protocol for an urban movement from Alexanderplatz to Tiergarten. " +
				"Guardian Profile: SCOUT. Output ONLY a raw JSON array of 3 strings representing the 'mission-beat' for each segment.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Render(tt.template, tt.data)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestDefault_Portrait(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Render(Portrait, map[string]any{"Voice": "Charon"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "A hyper-realistic fitness portrait of a specialized urban running coach named Charon,") {
		t.Errorf("unexpected portrait prompt %q", got)
	}
	if !strings.HasSuffix(got, "raw and authentic energy, motivational lighting.") {
		t.Errorf("style suffix missing from %q", got)
	}
}

func TestNewManager_CommonMacros(t *testing.T) {
	fsys := fstest.MapFS{
		"common/macros.tmpl": {Data: []byte(`{{define "hello"}}Hello {{.Name}}{{end}}`)},
		"common/more.tmpl":   {Data: []byte(`{{define "bye"}}Bye{{end}}`)},
		"walk/brief.tmpl":    {Data: []byte("{{template \"hello\" .}}!\n{{template \"bye\"}}")},
	}
	m, err := NewManager(fsys)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	got, err := m.Render("walk/brief.tmpl", struct{ Name string }{"Walker"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello Walker! Bye" {
		t.Errorf("got %q", got)
	}
}

func TestNewManager_ParseError(t *testing.T) {
	fsys := fstest.MapFS{"broken.tmpl": {Data: []byte(`{{ .Missing `)}}
	if _, err := NewManager(fsys); err == nil {
		t.Error("expected parse error")
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	m, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Render("nope.tmpl", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}
