package tts

import "testing"

func TestCleanScript(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Keep your shoulders loose.", "Keep your shoulders loose."},
		{"speaker label", "Guardian: Eyes up at the crossing.", "Eyes up at the crossing."},
		{"label with style", "Coach (calm): Breathe in for four.", "Breathe in for four."},
		{"markdown", "**Stay** _sharp_ on the `left`.", "Stay sharp on the left."},
		{"stage direction", "[pause] Next block is clear. [breath]", "Next block is clear."},
		{"whitespace", "  Two   steps\n\nahead  ", "Two steps ahead"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanScript(tt.in); got != tt.want {
				t.Errorf("CleanScript(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripSpeakerLabels_MultiLine(t *testing.T) {
	in := "Guardian: Left at the light.\nScout: Copy that."
	want := "Left at the light.\nCopy that."
	if got := StripSpeakerLabels(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
