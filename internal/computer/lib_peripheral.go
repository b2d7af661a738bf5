package computer

import (
	"context"
	"strconv"

	"github.com/p-arndt/rechenkasten/internal/engine"
)

func (c *Computer) peripheralLibrary() engine.Library {
	return engine.Library{Name: "peripheral", Methods: map[string]engine.Method{
		"isPresent": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("isPresent <side>")
			}
			_, ok := c.peripherals.Get(args[0])
			return []string{strconv.FormatBool(ok)}, nil
		},
		"getType": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("getType <side>")
			}
			if p, ok := c.peripherals.Get(args[0]); ok {
				return []string{p.Type()}, nil
			}
			return nil, nil
		},
		"getNames": func(context.Context, []string) ([]string, error) {
			return c.peripherals.Sides(), nil
		},
		"getMethods": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("getMethods <side>")
			}
			return c.peripherals.MethodNames(args[0])
		},
		"call": func(ctx context.Context, args []string) ([]string, error) {
			if len(args) < 2 {
				return nil, usage("call <side> <method> [args...]")
			}
			return c.peripherals.Call(ctx, args[0], args[1], args[2:])
		},
	}}
}

func (c *Computer) periphemuLibrary() engine.Library {
	return engine.Library{Name: "periphemu", Methods: map[string]engine.Method{
		"create": func(_ context.Context, args []string) ([]string, error) {
			if len(args) < 2 {
				return nil, usage("create <side> <type> [args...]")
			}
			if err := c.Attach(args[0], args[1], args[2:]); err != nil {
				return nil, err
			}
			return []string{"true"}, nil
		},
		"remove": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("remove <side>")
			}
			return []string{strconv.FormatBool(c.Detach(args[0]))}, nil
		},
		"names": func(context.Context, []string) ([]string, error) {
			return c.reg.types.Names(), nil
		},
	}}
}
