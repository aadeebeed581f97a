package fetch

import (
	"net/http"
	"testing"
	"time"
)

func TestNewUpstreamClientUsesTimeout(t *testing.T) {
	client := NewUpstreamClient(45 * time.Second)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewUpstreamClient(0).Timeout != defaultTimeout {
		t.Fatalf("zero timeout should fall back to default")
	}
}

func TestApplyHeadersSkipsHopByHop(t *testing.T) {
	dst := http.Header{}
	applyHeaders(dst, map[string]string{
		"connection":    "keep-alive",
		"Keep-Alive":    "timeout=5",
		"Authorization": "Bearer abc",
		"x-test-header": "1",
	})

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}
	if got := dst.Get("Authorization"); got != "Bearer abc" {
		t.Fatalf("expected authorization header, got %q", got)
	}
	if got := dst.Get("X-Test-Header"); got != "1" {
		t.Fatalf("expected canonical x-test-header, got %q", got)
	}
}
