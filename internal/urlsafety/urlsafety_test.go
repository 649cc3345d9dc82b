package urlsafety_test

import (
	"net"
	"testing"

	"github.com/runlater/core/internal/urlsafety"
)

func TestCheckURL_AllowsPublicTargets(t *testing.T) {
	urls := []string{
		"https://api.example.com/hook",
		"http://example.com:8080/path?x=1",
		"https://93.184.216.34/",
	}
	for _, u := range urls {
		if err := urlsafety.CheckURL(u); err != nil {
			t.Fatalf("CheckURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestCheckURL_RejectsBlockedTargets(t *testing.T) {
	urls := []string{
		"ftp://example.com/file",
		"https://localhost/admin",
		"https://db.internal/query",
		"https://printer.local/",
		"https://foo.localhost/",
		"http://127.0.0.1:6379/",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://0.0.0.0/",
		"http://100.64.0.1/",
	}
	for _, u := range urls {
		if err := urlsafety.CheckURL(u); err == nil {
			t.Fatalf("CheckURL(%q) = nil, want an error", u)
		}
	}
}

func TestCheckResolvedIPs_RejectsPrivateResolution(t *testing.T) {
	// A public hostname that resolves to a private address (DNS
	// rebinding) must be rejected at dial time.
	if err := urlsafety.CheckResolvedIPs([]net.IP{net.ParseIP("10.1.2.3")}); err == nil {
		t.Fatal("expected private resolution to be rejected")
	}
	if err := urlsafety.CheckResolvedIPs([]net.IP{net.ParseIP("169.254.169.254")}); err == nil {
		t.Fatal("expected link-local resolution to be rejected")
	}
	if err := urlsafety.CheckResolvedIPs([]net.IP{net.ParseIP("93.184.216.34")}); err != nil {
		t.Fatalf("expected public resolution to pass, got %v", err)
	}
}
