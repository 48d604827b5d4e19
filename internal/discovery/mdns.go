// ABOUTME: mDNS advertisement and browsing for roomtone sources
// ABOUTME: Sources advertise _roomtone-source._tcp; sinks browse the same type
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

const (
	sourceService = "_roomtone-source._tcp"
	sinkService   = "_roomtone._tcp"
	browseTimeout = 3 * time.Second
)

// Config holds discovery configuration.
type Config struct {
	ServiceName string
	Port        int
	// SourceMode selects the advertised service type: sources announce
	// _roomtone-source._tcp, sinks _roomtone._tcp.
	SourceMode bool
}

// Manager owns one advertisement or one browse loop.
type Manager struct {
	config  Config
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *SourceInfo
}

// SourceInfo describes a discovered source.
type SourceInfo struct {
	Name string
	Host string
	Port int
}

// Addr returns the source's dialable host:port.
func (s *SourceInfo) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NewManager creates a discovery manager.
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *SourceInfo, 10),
	}
}

// Advertise announces this node via mDNS until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("listing local IPs failed: %w", err)
	}

	serviceType := sinkService
	if m.config.SourceMode {
		serviceType = sourceService
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/"},
	)
	if err != nil {
		return fmt.Errorf("creating mdns service failed: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("starting mdns server failed: %w", err)
	}

	m.logger.Info("advertising via mdns",
		zap.String("name", m.config.ServiceName),
		zap.String("service", serviceType),
		zap.Int("port", m.config.Port))

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse starts searching for sources. Results arrive on Servers.
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				if entry.AddrV4 == nil {
					continue
				}
				info := &SourceInfo{
					Name: entry.Name,
					Host: entry.AddrV4.String(),
					Port: entry.Port,
				}

				m.logger.Info("discovered source",
					zap.String("name", info.Name),
					zap.String("addr", info.Addr()))

				select {
				case m.servers <- info:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: sourceService,
			Domain:  "local",
			Timeout: browseTimeout,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			m.logger.Warn("mdns query failed", zap.Error(err))
		}
		close(entries)
	}
}

// Servers returns the channel of discovered sources.
func (m *Manager) Servers() <-chan *SourceInfo {
	return m.servers
}

// Stop ends advertisement and browsing.
func (m *Manager) Stop() {
	m.cancel()
}

func getLocalIPs() ([]net.IP, error) {
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
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
