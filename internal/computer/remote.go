package computer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/peripheral"
	"github.com/p-arndt/rechenkasten/internal/ref"
)

// RemoteType is the peripheral type that controls another computer.
const RemoteType = "computer"

// remote lets one computer power another on and off. It never holds the
// target itself, only a reference that goes stale once the target stops.
type remote struct {
	reg    *Registry
	host   peripheral.Host
	target int

	mu   sync.Mutex
	cref ref.Computer
}

func (r *Registry) newRemote(host peripheral.Host, side string, args []string) (peripheral.Peripheral, error) {
	raw := strings.TrimPrefix(side, RemoteType+"_")
	if len(args) > 0 {
		raw = args[0]
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	if id == host.ComputerID() {
		return nil, fmt.Errorf("computer %d can not attach itself", id)
	}
	p := &remote{reg: r, host: host, target: id}
	if c, ok := r.Lookup(id); ok {
		p.cref = c.Ref()
	}
	return p, nil
}

func (p *remote) Type() string { return RemoteType }

func (p *remote) current() (*Computer, bool) {
	p.mu.Lock()
	cref := p.cref
	p.mu.Unlock()
	return p.reg.Resolve(cref)
}

func (p *remote) adopt(c *Computer) {
	p.mu.Lock()
	p.cref = c.Ref()
	p.mu.Unlock()
}

func (p *remote) Methods() map[string]engine.Method {
	return map[string]engine.Method{
		"turnOn": func(ctx context.Context, _ []string) ([]string, error) {
			if _, ok := p.current(); ok {
				return nil, nil
			}
			c, err := p.reg.Start(ctx, p.target)
			if errors.Is(err, ErrAlreadyRunning) {
				if live, ok := p.reg.Lookup(p.target); ok {
					p.adopt(live)
					return nil, nil
				}
			}
			if err != nil {
				return nil, err
			}
			p.adopt(c)
			return nil, nil
		},
		"shutdown": func(context.Context, []string) ([]string, error) {
			if c, ok := p.current(); ok {
				c.Shutdown()
			}
			return nil, nil
		},
		"reboot": func(context.Context, []string) ([]string, error) {
			if c, ok := p.current(); ok {
				c.Reboot()
			}
			return nil, nil
		},
		"getID": func(context.Context, []string) ([]string, error) {
			return []string{strconv.Itoa(p.target)}, nil
		},
		"isOn": func(context.Context, []string) ([]string, error) {
			_, ok := p.current()
			return []string{strconv.FormatBool(ok)}, nil
		},
		"getLabel": func(context.Context, []string) ([]string, error) {
			if c, ok := p.current(); ok {
				return []string{c.Label()}, nil
			}
			rec, err := p.labelFromStore()
			if err != nil || rec == "" {
				return nil, err
			}
			return []string{rec}, nil
		},
	}
}

func (p *remote) labelFromStore() (string, error) {
	if p.reg.store == nil {
		return "", nil
	}
	rec, err := p.reg.store.GetComputer(p.target)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Label, nil
}

func (p *remote) Reinitialize(uint64) {}

func (p *remote) Close() error { return nil }
