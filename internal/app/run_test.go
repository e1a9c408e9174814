package app

import "testing"

func TestPortOfParsesHostPort(t *testing.T) {
	cases := map[string]int{
		"0.0.0.0:4001":   4001,
		"127.0.0.1:8787": 8787,
		"[::]:9000":      9000,
	}
	for addr, want := range cases {
		got, err := portOf(addr)
		if err != nil {
			t.Fatalf("portOf(%q) error: %v", addr, err)
		}
		if got != want {
			t.Fatalf("portOf(%q) = %d, want %d", addr, got, want)
		}
	}
}

func TestPortOfRejectsMissingPort(t *testing.T) {
	if _, err := portOf("not-a-host-port"); err == nil {
		t.Fatalf("expected an error for an address with no port")
	}
}

func TestPortOfRejectsNonNumericPort(t *testing.T) {
	if _, err := portOf("0.0.0.0:abc"); err == nil {
		t.Fatalf("expected an error for a non-numeric port")
	}
}
