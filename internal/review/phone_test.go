package review

import "testing"

func TestNormalizePhoneAcceptedForms(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"09123456789", "+989123456789"},
		{"9123456789", "+989123456789"},
		{"989123456789", "+989123456789"},
		{"+989123456789", "+989123456789"},
		{"00989123456789", "+989123456789"},
		{"0912 345 6789", "+989123456789"},
		{"0912-345-6789", "+989123456789"},
		{"۰۹۱۲۳۴۵۶۷۸۹", "+989123456789"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"912345",
		"0912345678901",
		"+14155550123",
		"abc",
	}
	for _, in := range cases {
		if got, err := NormalizePhone(in); err == nil {
			t.Fatalf("NormalizePhone(%q) = %q, want error", in, got)
		}
	}
}
