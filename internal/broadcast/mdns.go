package broadcast

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/enbility/zeroconf/v3"
)

// mDNS defaults.
const (
	DefaultServiceType = "_devserver._tcp"
	DefaultDomain      = "local."
	DefaultPort        = 1883

	// maxInstanceNameLen is the DNS label limit for the instance name, in
	// bytes.
	maxInstanceNameLen = 63
)

// MDNSConfig configures DNS-SD announcement.
type MDNSConfig struct {
	// Service type, e.g. "_devserver._tcp".
	Service string
	// Domain, usually "local.".
	Domain string
	// Port advertised in the SRV record (the broker clients should use).
	Port int
	// Interface restricts announcements to one network interface.
	// Empty means all interfaces.
	Interface string
	// TTL of the announced records. Zero keeps the zeroconf default.
	TTL time.Duration
}

// server is the part of *zeroconf.Server the broadcaster uses.
type server interface {
	Shutdown()
}

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (server, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	srv, err := zeroconf.Register(instance, service, domain, port, text, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// MDNS announces a device as a DNS-SD service. The TXT record carries the
// device-info fields.
type MDNS struct {
	mu     sync.Mutex
	server server
}

// NewMDNS registers the service and calls onAck (on its own goroutine)
// once the registration is active.
func NewMDNS(cfg MDNSConfig, info DeviceInfo, onAck func()) (*MDNS, error) {
	return newMDNS(cfg, info, onAck, zeroconfRegister)
}

func newMDNS(cfg MDNSConfig, info DeviceInfo, onAck func(), register registerFunc) (*MDNS, error) {
	if cfg.Service == "" {
		cfg.Service = DefaultServiceType
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	ifaces, err := interfaces(cfg.Interface)
	if err != nil {
		return nil, err
	}

	srv, err := register(instanceName(info), cfg.Service, cfg.Domain, cfg.Port, txtRecords(info), ifaces, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}

	if onAck != nil {
		go onAck()
	}
	return &MDNS{server: srv}, nil
}

// Disconnect shuts the DNS-SD responder down, which sends goodbye packets.
func (m *MDNS) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	srv := m.server
	m.server = nil
	m.mu.Unlock()

	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mDNS shutdown: %w", ctx.Err())
	}
}

func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("mDNS interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

// instanceName derives a DNS-safe instance name from the device name and
// serial, e.g. "Intel RealSense D435 (1234)".
func instanceName(info DeviceInfo) string {
	name := info.Name
	if name == "" {
		name = info.TopicRoot
	}
	if info.Serial != "" {
		name = fmt.Sprintf("%s (%s)", name, info.Serial)
	}
	name = strings.ReplaceAll(name, ".", "-")
	return truncateUTF8(name, maxInstanceNameLen)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func txtRecords(info DeviceInfo) []string {
	txt := []string{
		"root=" + info.TopicRoot,
		fmt.Sprintf("locked=%t", info.Locked),
	}
	if info.Name != "" {
		txt = append(txt, "name="+info.Name)
	}
	if info.Serial != "" {
		txt = append(txt, "sn="+info.Serial)
	}
	if info.ProductLine != "" {
		txt = append(txt, "pl="+info.ProductLine)
	}
	return txt
}
