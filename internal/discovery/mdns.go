package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_scribble._tcp"

// Advertise announces the server on the local network until the returned
// server is shut down. An empty instance uses the hostname; nil ips are
// detected from the hostname.
func Advertise(instance string, port int, ips []net.IP) (*mdns.Server, error) {
	service, err := newService(instance, "", port, ips)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

func newService(instance, hostName string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	info := []string{"Scribble shared canvas", "path=/ws"}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", hostName, port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}
