package discovery

import (
	"net"
	"testing"
)

func TestNewService(t *testing.T) {
	ips := []net.IP{net.IPv4(192, 168, 1, 20)}
	service, err := newService("studio", "test-host.local.", 8080, ips)
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}

	if service.Instance != "studio" {
		t.Errorf("Expected instance studio, got %s", service.Instance)
	}
	if service.Service != ServiceType {
		t.Errorf("Expected service %s, got %s", ServiceType, service.Service)
	}
	if service.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", service.Port)
	}
	if len(service.IPs) != 1 || !service.IPs[0].Equal(ips[0]) {
		t.Errorf("Unexpected IPs %v", service.IPs)
	}
	if len(service.TXT) == 0 {
		t.Error("Expected TXT records")
	}
}

func TestNewServiceRejectsBadHost(t *testing.T) {
	if _, err := newService("studio", "not-fully-qualified", 8080, []net.IP{net.IPv4(10, 0, 0, 1)}); err == nil {
		t.Error("Expected error for a host name without a trailing dot")
	}
}
