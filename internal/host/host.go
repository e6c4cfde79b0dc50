// Package host collects facts about the machine a run executes on.
package host

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	pshost "github.com/shirou/gopsutil/v3/host"
)

// Provider returns informational host facts. Implementations must not fail;
// a fact that cannot be determined is reported as nil.
type Provider interface {
	Context(ctx context.Context) map[string]any
}

// System is the Provider backed by the operating system. Each lookup is a
// field so tests can replace it.
type System struct {
	Hostname   func() (string, error)
	LookupHost func(ctx context.Context, name string) ([]string, error)
	LookupAddr func(ctx context.Context, addr string) ([]string, error)
	Getenv     func(key string) string
	Info       func(ctx context.Context) (*pshost.InfoStat, error)
}

// NewSystem returns a System wired to the real lookups.
func NewSystem() *System {
	return &System{
		Hostname:   os.Hostname,
		LookupHost: net.DefaultResolver.LookupHost,
		LookupAddr: net.DefaultResolver.LookupAddr,
		Getenv:     os.Getenv,
		Info:       pshost.InfoWithContext,
	}
}

// Context implements Provider.
func (s *System) Context(ctx context.Context) map[string]any {
	out := map[string]any{
		"host_name":    nil,
		"computername": nil,
		"fqdn":         nil,
		"host_ip":      nil,
		"platform":     s.platform(ctx),
		"go_version":   runtime.Version(),
	}

	if v := s.Getenv("COMPUTERNAME"); v != "" {
		out["computername"] = v
	}

	name, err := s.Hostname()
	if err != nil || name == "" {
		return out
	}
	out["host_name"] = name
	out["fqdn"] = name

	addrs, err := s.LookupHost(ctx, name)
	if err != nil || len(addrs) == 0 {
		return out
	}
	ip := firstIPv4(addrs)
	out["host_ip"] = ip

	if names, err := s.LookupAddr(ctx, ip); err == nil && len(names) > 0 {
		if fqdn := strings.TrimSuffix(names[0], "."); fqdn != "" {
			out["fqdn"] = fqdn
		}
	}

	return out
}

// platform renders a one-line description of the OS, e.g.
// "linux-6.1.0-x86_64-with-debian-12.5".
func (s *System) platform(ctx context.Context) string {
	fallback := runtime.GOOS + "-" + runtime.GOARCH
	if s.Info == nil {
		return fallback
	}
	info, err := s.Info(ctx)
	if err != nil || info == nil {
		return fallback
	}

	parts := []string{info.OS}
	if info.KernelVersion != "" {
		parts = append(parts, info.KernelVersion)
	}
	if info.KernelArch != "" {
		parts = append(parts, info.KernelArch)
	}
	p := strings.Join(parts, "-")
	if info.Platform != "" {
		p += fmt.Sprintf("-with-%s", info.Platform)
		if info.PlatformVersion != "" {
			p += "-" + info.PlatformVersion
		}
	}
	return p
}

// firstIPv4 prefers an IPv4 address, matching what most operators expect in
// a host_ip column.
func firstIPv4(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	return addrs[0]
}

// Static is a fixed Provider, useful when host facts are known up front.
type Static map[string]any

// Context implements Provider.
func (s Static) Context(context.Context) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
