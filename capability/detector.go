// Package capability classifies the host device and its connection, and
// derives the prefetch budget from that classification.
package capability

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"smart-prefetch/models"
)

const (
	DefaultMemoryGB = 4.0
	DefaultCores    = 4
	UnknownNetwork  = "unknown"
)

type Capabilities struct {
	Tier         models.DeviceTier
	Connection   models.ConnectionClass
	DownlinkMbps float64
	MemoryGB     float64
	Cores        int
	NetworkType  string
}

type Detector struct {
	probe  Probe
	logger *zap.Logger

	mu        sync.Mutex
	caps      Capabilities
	detected  bool
	listeners []func(models.ConnectionClass)
}

func NewDetector(probe Probe, logger *zap.Logger) *Detector {
	if probe == nil {
		probe = &StaticProbe{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{probe: probe, logger: logger}
}

// Detect classifies the device on the first call and returns the cached
// result afterwards; hardware does not change mid-session.
func (d *Detector) Detect() Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detected {
		return d.caps
	}

	memory, ok := d.probe.DeviceMemoryGB()
	if !ok || memory <= 0 {
		d.logger.Debug("Device memory unavailable, using default", zap.Float64("memory_gb", DefaultMemoryGB))
		memory = DefaultMemoryGB
	}
	cores, ok := d.probe.LogicalCores()
	if !ok || cores <= 0 {
		d.logger.Debug("Logical cores unavailable, using default", zap.Int("cores", DefaultCores))
		cores = DefaultCores
	}
	info, ok := d.probe.Network()
	if !ok || info.EffectiveType == "" {
		info.EffectiveType = UnknownNetwork
	}

	d.caps = Capabilities{
		Tier:         ClassifyTier(memory, cores, info.EffectiveType),
		Connection:   ClassifyConnection(info),
		DownlinkMbps: info.DownlinkMbps,
		MemoryGB:     memory,
		Cores:        cores,
		NetworkType:  strings.ToLower(info.EffectiveType),
	}
	d.detected = true

	d.logger.Info("Device capabilities detected",
		zap.Stringer("tier", d.caps.Tier),
		zap.Stringer("connection", d.caps.Connection),
		zap.Float64("memory_gb", memory),
		zap.Int("cores", cores),
		zap.String("network_type", d.caps.NetworkType))

	return d.caps
}

// OnConnectionChange registers fn to be called whenever NetworkChanged
// moves the connection to a different class.
func (d *Detector) OnConnectionChange(fn func(models.ConnectionClass)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// NetworkChanged re-derives the connection class. The device tier is kept.
func (d *Detector) NetworkChanged(info NetworkInfo) models.ConnectionClass {
	d.Detect()

	d.mu.Lock()
	if info.EffectiveType == "" {
		info.EffectiveType = UnknownNetwork
	}
	class := ClassifyConnection(info)
	previous := d.caps.Connection
	d.caps.Connection = class
	d.caps.DownlinkMbps = info.DownlinkMbps
	d.caps.NetworkType = strings.ToLower(info.EffectiveType)
	listeners := append([]func(models.ConnectionClass){}, d.listeners...)
	d.mu.Unlock()

	if class == previous {
		return class
	}

	d.logger.Info("Connection class changed",
		zap.Stringer("from", previous),
		zap.Stringer("to", class),
		zap.Float64("downlink_mbps", info.DownlinkMbps))

	for _, fn := range listeners {
		fn(class)
	}
	return class
}

func (d *Detector) Probe() Probe {
	return d.probe
}

// ClassifyTier applies the tier rules in priority order.
func ClassifyTier(memoryGB float64, cores int, effectiveType string) models.DeviceTier {
	t := strings.ToLower(effectiveType)
	if memoryGB >= 8 && cores >= 8 && (t == "4g" || t == "wifi") {
		return models.HighEnd
	}
	if memoryGB >= 4 && cores >= 4 {
		return models.MidRange
	}
	return models.LowEnd
}

func ClassifyConnection(info NetworkInfo) models.ConnectionClass {
	var class models.ConnectionClass
	switch strings.ToLower(info.EffectiveType) {
	case "offline", "none":
		return models.Offline
	case "slow-2g", "2g":
		class = models.Slow
	case "3g":
		class = models.Medium
	case "4g", "wifi", "ethernet":
		class = models.Fast
	default:
		class = models.Medium
		if info.DownlinkMbps >= 5 {
			class = models.Fast
		}
	}

	if info.DownlinkMbps > 0 {
		switch {
		case info.DownlinkMbps < 0.5:
			class = models.Slow
		case class == models.Fast && info.DownlinkMbps < 1.5:
			class = models.Medium
		}
	}
	return class
}
