package computer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/mount"
)

var ErrMountDenied = errors.New("mount denied")

// mountPolicy decides whether the guest may mount hostDir and whether the
// mount ends up read-only. requested is nil when the guest did not ask.
func mountPolicy(cfg *config.Config, hostDir string, requested *bool) (bool, error) {
	if cfg.MountMode == config.MountNone {
		return false, fmt.Errorf("%w: mounting is disabled", ErrMountDenied)
	}
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return false, err
	}
	for _, pattern := range cfg.MountDeny {
		if ok, _ := filepath.Match(pattern, abs); ok {
			return false, fmt.Errorf("%w: %s", ErrMountDenied, abs)
		}
	}
	if len(cfg.MountAllow) > 0 {
		allowed := false
		for _, pattern := range cfg.MountAllow {
			if ok, _ := filepath.Match(pattern, abs); ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, fmt.Errorf("%w: %s is not allowed", ErrMountDenied, abs)
		}
	}

	readOnly := cfg.MountMode != config.MountRW
	if requested != nil && cfg.MountMode != config.MountROStrict {
		readOnly = *requested
	}
	return readOnly, nil
}

func parseReadOnly(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "ro", "readonly":
		return true, nil
	case "rw":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func (c *Computer) mounterLibrary() engine.Library {
	return engine.Library{Name: "mounter", Methods: map[string]engine.Method{
		"mount": func(_ context.Context, args []string) ([]string, error) {
			if len(args) < 2 || len(args) > 3 {
				return nil, usage("mount <name> <host path> [ro|rw]")
			}
			var requested *bool
			if len(args) == 3 {
				ro, err := parseReadOnly(args[2])
				if err != nil {
					return nil, usage("mount <name> <host path> [ro|rw]")
				}
				requested = &ro
			}
			readOnly, err := mountPolicy(c.reg.config(), args[1], requested)
			if err != nil {
				return nil, err
			}
			if err := c.Mount(args[0], args[1], readOnly); err != nil {
				return nil, err
			}
			return []string{"true"}, nil
		},
		"unmount": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("unmount <name>")
			}
			cfg := c.reg.config()
			if cfg.MountMode == config.MountNone {
				return nil, fmt.Errorf("%w: mounting is disabled", ErrMountDenied)
			}
			name, err := mount.Clean(args[0])
			if err != nil {
				return nil, err
			}
			if name == "rom" && cfg.ROMReadOnly {
				return []string{"false"}, nil
			}
			return []string{strconv.FormatBool(c.Unmount(name))}, nil
		},
		"list": func(context.Context, []string) ([]string, error) {
			var out []string
			for _, e := range c.mounts.Entries() {
				if len(e.Prefix) == 0 {
					continue
				}
				out = append(out, e.Key()+" "+e.Backend.String())
			}
			return out, nil
		},
		"isReadOnly": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("isReadOnly <name>")
			}
			name, err := mount.Clean(args[0])
			if err != nil {
				return nil, err
			}
			for _, e := range c.mounts.Entries() {
				if len(e.Prefix) > 0 && e.Key() == name {
					return []string{strconv.FormatBool(e.ReadOnly)}, nil
				}
			}
			return nil, fmt.Errorf("%w: no mount named %s", mount.ErrNotFound, name)
		},
	}}
}
