package money

import "testing"

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"600", 60000, false},
		{"600.5", 60050, false},
		{"600.50", 60050, false},
		{"0.01", 1, false},
		{"-12.34", -1234, false},
		{".99", 99, false},
		{"1000", 100000, false},
		{"1.234", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"12.x", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDecimal(%q): expected error, got %d", tc.in, got.Minor())
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDecimal(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got.Minor() != tc.want {
			t.Errorf("ParseDecimal(%q) = %d, want %d", tc.in, got.Minor(), tc.want)
		}
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   Amount
		want string
	}{
		{FromMinor(60000), "600.00"},
		{FromMinor(60050), "600.50"},
		{FromMinor(1), "0.01"},
		{FromMinor(-1234), "-12.34"},
		{FromMinor(0), "0.00"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("(%d).String() = %q, want %q", tc.in.Minor(), got, tc.want)
		}
	}
}

func TestSumIsExact(t *testing.T) {
	// 0.10 added 100 times must be exactly 10.00 — the classic float drift case.
	amounts := make([]Amount, 100)
	for i := range amounts {
		amounts[i] = FromMinor(10)
	}
	if got := Sum(amounts...); got.Minor() != 1000 {
		t.Fatalf("Sum = %d, want 1000", got.Minor())
	}
}

func TestAddSub(t *testing.T) {
	a := FromMajor(600)
	b := FromMajor(400)
	if got := a.Add(b); got != FromMajor(1000) {
		t.Errorf("Add = %v", got)
	}
	if got := a.Sub(b); got != FromMajor(200) {
		t.Errorf("Sub = %v", got)
	}
	if !a.IsPositive() {
		t.Error("expected positive")
	}
	if FromMinor(0).IsPositive() {
		t.Error("zero is not positive")
	}
}
