// Package capability publishes periodic announcements describing the
// runtime environment: connectivity, platform, and the supported language
// set. Consumers treat the latest announcement as authoritative.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/salinlabs/salin-core/internal/bus"
	"github.com/salinlabs/salin-core/internal/config"
	"github.com/salinlabs/salin-core/internal/protocol"
)

// Announcer probes connectivity and broadcasts capability announcements
// on a fixed interval. The platform is detected once at startup.
type Announcer struct {
	cfg       config.CapabilityConfig
	bus       *bus.Client
	log       *slog.Logger
	languages []string
	platform  string

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAnnouncer(cfg config.CapabilityConfig, busClient *bus.Client, languages []string, log *slog.Logger) *Announcer {
	a := &Announcer{
		cfg:       cfg,
		bus:       busClient,
		log:       log.With(slog.String("component", "capability")),
		languages: languages,
	}
	a.platform = a.detectPlatform()

	meter := otel.Meter("salin/capability")
	if gauge, err := meter.Int64ObservableGauge("salin.capability.online",
		metric.WithDescription("1 while the connectivity probe succeeds")); err == nil {
		_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			v := int64(0)
			if a.Online() {
				v = 1
			}
			o.ObserveInt64(gauge, v)
			return nil
		}, gauge)
	}
	return a
}

// Start probes once immediately, then announces on the configured interval.
func (a *Announcer) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(ctx)
}

func (a *Announcer) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Online reports the result of the most recent probe.
func (a *Announcer) Online() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}

// Platform reports the detected platform, kiosk or generic.
func (a *Announcer) Platform() string {
	return a.platform
}

func (a *Announcer) run(ctx context.Context) {
	defer a.wg.Done()

	interval := time.Duration(a.cfg.ProbeIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.announce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.announce(ctx)
		}
	}
}

func (a *Announcer) announce(ctx context.Context) {
	online := a.probe(ctx)
	a.mu.Lock()
	changed := a.online != online
	a.online = online
	a.mu.Unlock()
	if changed {
		a.log.Info("connectivity changed", slog.Bool("online", online))
	}

	msg := protocol.CapabilityAnnouncement{
		Online:             online,
		Platform:           a.platform,
		SupportedLanguages: a.languages,
		Timestamp:          time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := a.bus.Conn().Publish(protocol.SubjectCapability, data); err != nil {
		a.log.Warn("failed to publish capability announcement", slog.String("error", err.Error()))
	}
}

// probe dials the configured addresses; any successful connection means
// online. DNS resolver addresses make cheap, dependable probe targets.
func (a *Announcer) probe(ctx context.Context) bool {
	timeout := time.Duration(a.cfg.ProbeTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	for _, addr := range a.cfg.ProbeAddresses {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			continue
		}
		conn.Close()
		return true
	}
	return false
}

func (a *Announcer) detectPlatform() string {
	if a.cfg.PlatformOverride != "" {
		return a.cfg.PlatformOverride
	}
	data, err := os.ReadFile(a.cfg.ModelFile)
	if err != nil {
		return protocol.PlatformGeneric
	}
	if strings.Contains(string(data), "Raspberry Pi") {
		return protocol.PlatformKiosk
	}
	return protocol.PlatformGeneric
}

// Subscribe registers handler for capability announcements on the bus.
func Subscribe(busClient *bus.Client, handler func(protocol.CapabilityAnnouncement)) (*nats.Subscription, error) {
	sub, err := busClient.Conn().Subscribe(protocol.SubjectCapability, func(msg *nats.Msg) {
		var ann protocol.CapabilityAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			busClient.Logger().Warn("failed to decode capability announcement", slog.String("error", err.Error()))
			return
		}
		handler(ann)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe capability announcements: %w", err)
	}
	return sub, nil
}
