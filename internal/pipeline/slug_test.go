package pipeline

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Holiday Video", "my-holiday-video"},
		{"Übung für Anfänger", "ubung-fur-anfanger"},
		{"  spaced   out  ", "spaced-out"},
		{"already-slugged", "already-slugged"},
		{"MiXeD_CaSe.file", "mixed-case-file"},
		{"crème brûlée", "creme-brulee"},
		{"???", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
