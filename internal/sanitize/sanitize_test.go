package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "passthrough clean text",
			input: "MNIST train, 100 hidden units",
			want:  "MNIST train, 100 hidden units",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "strip null bytes",
			input: "seed\x00 42",
			want:  "seed 42",
		},
		{
			name:  "strip control characters",
			input: "lr\x01 sweep\x07\x1b[31m",
			want:  "lr sweep[31m",
		},
		{
			name:  "newlines and tabs become spaces",
			input: "line one\nline two\r\n\tindented",
			want:  "line one line two indented",
		},
		{
			name:  "collapse whitespace",
			input: "  a    b  \n\n  c  ",
			want:  "a b c",
		},
		{
			name:  "unicode preserved",
			input: "τ = 20 ms, Δt = 1",
			want:  "τ = 20 ms, Δt = 1",
		},
		{
			name:  "invalid utf8 dropped",
			input: "ok\xffok",
			want:  "okok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Note(tt.input); got != tt.want {
				t.Errorf("Note(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNote_Truncates(t *testing.T) {
	got := Note(strings.Repeat("é", MaxNoteLength+50))
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated note should end with ..., got %q", got[len(got)-8:])
	}
	if n := utf8.RuneCountInString(got); n != MaxNoteLength+3 {
		t.Errorf("rune count = %d, want %d", n, MaxNoteLength+3)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}

	exact := strings.Repeat("a", MaxNoteLength)
	if got := Note(exact); got != exact {
		t.Error("note of exactly MaxNoteLength should be unchanged")
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "train", "train"},
		{"keeps dots and hyphens", "mlp-v1.2", "mlp-v1.2"},
		{"separators become underscores", "sub/dir\\train", "sub_dir_train"},
		{"parent references", "../../escape", "escape"},
		{"drops spaces and symbols", "my run #3!", "myrun3"},
		{"collapses repeats", "a--b__c", "a-b_c"},
		{"nothing usable", "///", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.input); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestName_MaxLength(t *testing.T) {
	if got := Name(strings.Repeat("x", MaxNameLength+20)); len(got) != MaxNameLength {
		t.Errorf("len = %d, want %d", len(got), MaxNameLength)
	}
}
