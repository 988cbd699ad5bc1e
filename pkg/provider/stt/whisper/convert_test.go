package whisper

import "testing"

func TestBaseLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"en", "en"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{" DE-de ", "de"},
		{"auto", "auto"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := baseLanguage(tc.in); got != tc.want {
			t.Errorf("baseLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
