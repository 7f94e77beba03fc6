package core

// nat.go – best-effort NAT traversal for a replica dialing a leader
// across a home/office NAT, via UPnP IGD or NAT-PMP port mapping. Neither
// mechanism is required for spec.md's loopback/LAN deployment model; this
// exists purely to let a follower outside the leader's LAN punch a hole
// for the leader to dial back on, mirroring the teacher's nat_traversal.go
// without its jackpal/gateway dependency (dropped — see DESIGN.md).

import (
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway2"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/sirupsen/logrus"
)

// PortMapping describes a successfully established external mapping.
type PortMapping struct {
	ExternalPort int
	InternalPort int
	Protocol     string
	Lease        time.Duration
}

// TryMapPort attempts UPnP IGD first and falls back to NAT-PMP, returning
// the first successful mapping. gatewayIP is required for the NAT-PMP
// fallback since that protocol has no discovery step of its own.
func TryMapPort(gatewayIP string, internalPort int, protocol string, lease time.Duration) (*PortMapping, error) {
	if m, err := tryUPnP(internalPort, protocol, lease); err == nil {
		return m, nil
	}
	if m, err := tryNATPMP(gatewayIP, internalPort, protocol, lease); err == nil {
		return m, nil
	}
	return nil, fmt.Errorf("nat: no port mapping mechanism succeeded for port %d/%s", internalPort, protocol)
}

func tryUPnP(internalPort int, protocol string, lease time.Duration) (*PortMapping, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil || len(clients) == 0 {
		return nil, fmt.Errorf("nat: upnp discovery failed: %w", err)
	}
	client := clients[0]
	externalPort := uint16(internalPort)
	if err := client.AddPortMapping("", externalPort, protocol, externalPort, "", true, "nexusdb", uint32(lease.Seconds())); err != nil {
		return nil, fmt.Errorf("nat: upnp add mapping: %w", err)
	}
	logrus.WithFields(logrus.Fields{"port": internalPort, "proto": protocol}).Info("nat: upnp mapping established")
	return &PortMapping{ExternalPort: internalPort, InternalPort: internalPort, Protocol: protocol, Lease: lease}, nil
}

func tryNATPMP(gatewayIP string, internalPort int, protocol string, lease time.Duration) (*PortMapping, error) {
	client := natpmp.NewClient(net.ParseIP(gatewayIP))
	var resp *natpmp.AddPortMappingResult
	var err error
	if protocol == "udp" {
		resp, err = client.AddPortMapping("udp", internalPort, internalPort, int(lease.Seconds()))
	} else {
		resp, err = client.AddPortMapping("tcp", internalPort, internalPort, int(lease.Seconds()))
	}
	if err != nil {
		return nil, fmt.Errorf("nat: nat-pmp add mapping: %w", err)
	}
	logrus.WithFields(logrus.Fields{"port": resp.MappedExternalPort, "proto": protocol}).Info("nat: nat-pmp mapping established")
	return &PortMapping{
		ExternalPort: int(resp.MappedExternalPort),
		InternalPort: internalPort,
		Protocol:     protocol,
		Lease:        time.Duration(resp.PortMappingLifetimeInSeconds) * time.Second,
	}, nil
}
