package computer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/mount"
)

func boolString(b bool) []string {
	return []string{strconv.FormatBool(b)}
}

func pathArg(args []string, method string) (string, error) {
	if len(args) < 1 {
		return "", usage(method + " <path>")
	}
	return args[0], nil
}

func (c *Computer) fsLibrary() engine.Library {
	return engine.Library{Name: "fs", Methods: map[string]engine.Method{
		"list": func(_ context.Context, args []string) ([]string, error) {
			dir := "/"
			if len(args) > 0 {
				dir = args[0]
			}
			return c.mounts.List(dir)
		},
		"exists": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "exists")
			if err != nil {
				return nil, err
			}
			_, err = c.stat(p)
			return boolString(err == nil), nil
		},
		"isDir": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "isDir")
			if err != nil {
				return nil, err
			}
			fi, err := c.stat(p)
			return boolString(err == nil && fi.IsDir()), nil
		},
		"isReadOnly": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "isReadOnly")
			if err != nil {
				return nil, err
			}
			ro, err := c.mounts.IsReadOnly(p)
			if err != nil {
				return nil, err
			}
			return boolString(ro), nil
		},
		"getSize": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "getSize")
			if err != nil {
				return nil, err
			}
			fi, err := c.stat(p)
			if err != nil {
				return nil, fmt.Errorf("/%s: no such file", strings.TrimPrefix(p, "/"))
			}
			if fi.IsDir() {
				return []string{"0"}, nil
			}
			return []string{strconv.FormatInt(fi.Size(), 10)}, nil
		},
		"makeDir": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "makeDir")
			if err != nil {
				return nil, err
			}
			return nil, c.makeDir(p)
		},
		"delete": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "delete")
			if err != nil {
				return nil, err
			}
			return nil, c.remove(p)
		},
		"read": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "read")
			if err != nil {
				return nil, err
			}
			data, err := c.readFile(p)
			if err != nil {
				return nil, err
			}
			return []string{strings.TrimSuffix(string(data), "\n")}, nil
		},
		"write": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "write")
			if err != nil {
				return nil, err
			}
			return nil, c.writeFile(p, strings.Join(args[1:], " ")+"\n", os.O_TRUNC)
		},
		"append": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "append")
			if err != nil {
				return nil, err
			}
			return nil, c.writeFile(p, strings.Join(args[1:], " ")+"\n", os.O_APPEND)
		},
		"getDrive": func(_ context.Context, args []string) ([]string, error) {
			p, err := pathArg(args, "getDrive")
			if err != nil {
				return nil, err
			}
			r, err := c.mounts.Resolve(p, mount.MustExist)
			if err != nil {
				return nil, nil
			}
			return []string{r.Mount}, nil
		},
		"getFreeSpace": func(_ context.Context, args []string) ([]string, error) {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			return c.freeSpaceAt(p)
		},
	}}
}

func (c *Computer) makeDir(p string) error {
	r, err := c.mounts.PrepareCreate(p)
	if err != nil {
		return err
	}
	if fi, err := r.Backend.Stat(r.Rel); err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s", mount.ErrNotDir, r)
		}
		return nil
	}
	return r.Backend.MkdirAll(r.Rel)
}

func (c *Computer) remove(p string) error {
	ro, err := c.mounts.IsReadOnly(p)
	if err != nil {
		return err
	}
	if ro {
		return fmt.Errorf("%w: %s", mount.ErrReadOnly, p)
	}
	r, err := c.mounts.Resolve(p, mount.ModifyExisting)
	if err != nil {
		if errors.Is(err, mount.ErrNotFound) {
			return nil
		}
		return err
	}
	if r.Rel == "" {
		return fmt.Errorf("%w: cannot delete mount %s", mount.ErrReadOnly, r.Mount)
	}
	return r.Backend.RemoveAll(r.Rel)
}

func (c *Computer) readFile(p string) ([]byte, error) {
	f, err := c.openFile(p, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *Computer) writeFile(p, data string, mode int) error {
	f, err := c.openFile(p, os.O_WRONLY|os.O_CREATE|mode, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *Computer) freeSpaceAt(p string) ([]string, error) {
	r, err := c.mounts.Resolve(p, mount.MustExist)
	if err != nil {
		return nil, err
	}
	if r.ReadOnly || !r.Backend.Writable() {
		return []string{"0"}, nil
	}
	if r.Mount != mount.RootKey {
		return []string{"unlimited"}, nil
	}
	free, err := c.freeSpace()
	if err != nil {
		return nil, err
	}
	return []string{strconv.FormatInt(free, 10)}, nil
}
