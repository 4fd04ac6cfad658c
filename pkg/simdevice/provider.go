package simdevice

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TripleSpeeder/frame/pkg/hw"
)

// Provider maps device paths to simulated devices.
type Provider struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{devices: make(map[string]*Device)}
}

// Add registers d at path, replacing any previous device.
func (p *Provider) Add(path string, d *Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices[path] = d
}

// Remove forgets the device at path.
func (p *Provider) Remove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.devices, path)
}

// Device returns the device at path, or nil.
func (p *Provider) Device(path string) *Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[path]
}

// Paths returns the registered device paths, sorted.
func (p *Provider) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.devices))
	for path := range p.devices {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Open returns a transport to the attached device at path.
func (p *Provider) Open(_ context.Context, path string) (hw.Transport, error) {
	d := p.Device(path)
	if d == nil || !d.Attached() {
		return nil, fmt.Errorf("%w: %s", hw.ErrDeviceNotFound, path)
	}
	return &Transport{dev: d}, nil
}

var _ hw.TransportProvider = (*Provider)(nil)
