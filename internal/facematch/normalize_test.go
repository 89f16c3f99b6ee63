package facematch

import "testing"

func TestNormalizeGroupID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CSE-A", "CSE-A"},
		{"  CSE-A  ", "CSE-A"},
		{"Třída   3A", "Trida 3A"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"\tshift\nnight ", "shift night"},
		{"cse-a", "cse-a"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeGroupID(tt.in); got != tt.want {
				t.Errorf("NormalizeGroupID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeGroupIDIsIdempotent(t *testing.T) {
	for _, in := range []string{" Třída 3A", "CSE-A", "élève  groupe"} {
		once := NormalizeGroupID(in)
		if twice := NormalizeGroupID(once); twice != once {
			t.Errorf("NormalizeGroupID(%q) = %q, normalising again gave %q", in, once, twice)
		}
	}
}
