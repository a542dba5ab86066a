/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package discovery advertises the control surface on the local network
// over mDNS and finds other relays doing the same.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/version"
)

// ServiceType is the DNS-SD service relays register under.
const ServiceType = "_radiorelay._tcp"

// Config holds advertisement settings.
type Config struct {
	Name string
	Port int
	Room string
}

// Instance is a relay found on the network.
type Instance struct {
	Name string
	Host string
	Port int
	Info []string
}

// Advertise registers the service and keeps it registered until ctx is
// cancelled.
func Advertise(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "mdns").Logger()

	name := cfg.Name
	if name == "" {
		host, _ := os.Hostname()
		name = "radiorelay-" + strings.Split(host, ".")[0]
	}

	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(name, ServiceType, "", "", cfg.Port, ips, txtRecords(cfg))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	logger.Info().Str("name", name).Int("port", cfg.Port).Str("type", ServiceType).Msg("advertising mDNS service")

	<-ctx.Done()
	if err := server.Shutdown(); err != nil {
		logger.Debug().Err(err).Msg("mdns shutdown")
	}
	return nil
}

func txtRecords(cfg Config) []string {
	txt := []string{
		"path=/status",
		"signal=/webrtc/signal",
		"version=" + version.Version,
	}
	if cfg.Room != "" {
		txt = append(txt, "room="+cfg.Room)
	}
	return txt
}

// Browse queries the network for relays for up to timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Instance, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []Instance, 1)

	go func() {
		var found []Instance
		for entry := range entries {
			host := entry.Host
			if entry.AddrV4 != nil {
				host = entry.AddrV4.String()
			}
			found = append(found, Instance{
				Name: entry.Name,
				Host: host,
				Port: entry.Port,
				Info: entry.InfoFields,
			})
		}
		done <- found
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	err := mdns.Query(params)
	close(entries)
	found := <-done
	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

// localIPs returns the non-loopback IPv4 addresses of interfaces that are up.
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
