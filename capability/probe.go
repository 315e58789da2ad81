package capability

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
)

// NetworkInfo is what the platform reports about the active connection.
type NetworkInfo struct {
	EffectiveType string
	DownlinkMbps  float64
}

type Battery struct {
	Level    float64
	Charging bool
}

// Probe reads optional platform status. Every method reports ok=false when
// the underlying API is unavailable; callers fall back to defaults.
type Probe interface {
	DeviceMemoryGB() (float64, bool)
	LogicalCores() (int, bool)
	Network() (NetworkInfo, bool)
	HeapUsage() (float64, bool)
	Battery() (Battery, bool)
}

// StaticProbe reports fixed values. Nil fields are unavailable.
type StaticProbe struct {
	mu     sync.RWMutex
	Memory *float64
	Cores  *int
	Net    *NetworkInfo
	Heap   *float64
	Power  *Battery
}

func (p *StaticProbe) DeviceMemoryGB() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Memory == nil {
		return 0, false
	}
	return *p.Memory, true
}

func (p *StaticProbe) LogicalCores() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Cores == nil {
		return 0, false
	}
	return *p.Cores, true
}

func (p *StaticProbe) Network() (NetworkInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Net == nil {
		return NetworkInfo{}, false
	}
	return *p.Net, true
}

func (p *StaticProbe) HeapUsage() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Heap == nil {
		return 0, false
	}
	return *p.Heap, true
}

func (p *StaticProbe) Battery() (Battery, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Power == nil {
		return Battery{}, false
	}
	return *p.Power, true
}

// SetHeap changes the reported heap ratio; a negative value makes it unavailable.
func (p *StaticProbe) SetHeap(ratio float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ratio < 0 {
		p.Heap = nil
		return
	}
	p.Heap = &ratio
}

func (p *StaticProbe) SetBattery(b *Battery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Power = b
}

func (p *StaticProbe) SetNetwork(info *NetworkInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Net = info
}

// RuntimeProbe reads what the Go runtime knows about the host. Memory and
// network cannot be observed from the process, so they come from Overrides.
type RuntimeProbe struct {
	Overrides StaticProbe
}

func (p *RuntimeProbe) DeviceMemoryGB() (float64, bool) {
	return p.Overrides.DeviceMemoryGB()
}

func (p *RuntimeProbe) LogicalCores() (int, bool) {
	if n, ok := p.Overrides.LogicalCores(); ok {
		return n, true
	}
	return runtime.NumCPU(), true
}

func (p *RuntimeProbe) Network() (NetworkInfo, bool) {
	return p.Overrides.Network()
}

// HeapUsage is the live heap against the configured soft memory limit.
// Without a limit there is nothing to compare against.
func (p *RuntimeProbe) HeapUsage() (float64, bool) {
	if r, ok := p.Overrides.HeapUsage(); ok {
		return r, true
	}
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0, false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / float64(limit), true
}

func (p *RuntimeProbe) Battery() (Battery, bool) {
	return p.Overrides.Battery()
}
