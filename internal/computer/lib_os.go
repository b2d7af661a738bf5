package computer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/timer"
)

// One in-game day lasts 20 real minutes and starts at 06:00.
const (
	dayLength   = 20 * time.Minute
	hourLength  = dayLength / 24
	dayStartOff = 6 * hourLength
)

// libraries is the set of host libraries offered to one boot.
func (c *Computer) libraries(epoch uint64) []engine.Library {
	return []engine.Library{
		c.osLibrary(epoch),
		c.fsLibrary(),
		c.peripheralLibrary(),
		c.periphemuLibrary(),
		c.mounterLibrary(),
		c.httpLibrary(),
	}
}

func usage(format string) error {
	return fmt.Errorf("usage: %s", format)
}

func (c *Computer) osLibrary(epoch uint64) engine.Library {
	return engine.Library{Name: "os", Methods: map[string]engine.Method{
		"getComputerID": func(context.Context, []string) ([]string, error) {
			return []string{strconv.Itoa(c.id)}, nil
		},
		"getComputerLabel": func(context.Context, []string) ([]string, error) {
			if l := c.Label(); l != "" {
				return []string{l}, nil
			}
			return nil, nil
		},
		"setComputerLabel": func(_ context.Context, args []string) ([]string, error) {
			c.SetLabel(strings.Join(args, " "))
			return nil, nil
		},
		"queueEvent": func(_ context.Context, args []string) ([]string, error) {
			if len(args) < 1 {
				return nil, usage("queueEvent <name> [args...]")
			}
			values := make([]any, len(args)-1)
			for i, a := range args[1:] {
				values[i] = a
			}
			c.queueForBoot(epoch, args[0], values...)
			return nil, nil
		},
		"startTimer": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("startTimer <seconds>")
			}
			secs, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return nil, fmt.Errorf("bad delay %q", args[0])
			}
			h := c.startTimer(epoch, "timer", time.Duration(math.Round(secs*1000))*time.Millisecond)
			return []string{handleString(h)}, nil
		},
		"cancelTimer": c.cancelTimerMethod,
		"setAlarm": func(_ context.Context, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("setAlarm <hour>")
			}
			hour, err := strconv.ParseFloat(args[0], 64)
			if err != nil || hour < 0 || hour >= 24 {
				return nil, fmt.Errorf("number out of range")
			}
			h := c.startTimer(epoch, "alarm", c.untilInGameHour(hour))
			return []string{handleString(h)}, nil
		},
		"cancelAlarm": c.cancelTimerMethod,
		"clock": func(context.Context, []string) ([]string, error) {
			return []string{strconv.FormatFloat(c.Uptime().Seconds(), 'f', 2, 64)}, nil
		},
		"epoch": func(_ context.Context, args []string) ([]string, error) {
			now := c.reg.clock.Now()
			switch locale(args) {
			case "utc":
				return []string{strconv.FormatInt(now.UnixMilli(), 10)}, nil
			case "local":
				_, off := now.Zone()
				return []string{strconv.FormatInt(now.UnixMilli()+int64(off)*1000, 10)}, nil
			case "ingame":
				day, hour := c.inGame()
				ms := float64(day)*86400000 + hour*3600000
				return []string{strconv.FormatInt(int64(ms), 10)}, nil
			}
			return nil, fmt.Errorf("unsupported operation")
		},
		"day": func(_ context.Context, args []string) ([]string, error) {
			now := c.reg.clock.Now()
			switch locale(args) {
			case "utc":
				return []string{strconv.FormatInt(now.UTC().Unix()/86400, 10)}, nil
			case "local":
				_, off := now.Zone()
				return []string{strconv.FormatInt((now.Unix()+int64(off))/86400, 10)}, nil
			case "ingame":
				day, _ := c.inGame()
				return []string{strconv.Itoa(day)}, nil
			}
			return nil, fmt.Errorf("unsupported operation")
		},
		"time": func(_ context.Context, args []string) ([]string, error) {
			now := c.reg.clock.Now()
			switch locale(args) {
			case "utc":
				return []string{formatHour(now.UTC())}, nil
			case "local":
				return []string{formatHour(now.Local())}, nil
			case "ingame":
				_, hour := c.inGame()
				return []string{strconv.FormatFloat(hour, 'f', 3, 64)}, nil
			}
			return nil, fmt.Errorf("unsupported operation")
		},
		"shutdown": func(context.Context, []string) ([]string, error) {
			c.request.Store(reqShutdown)
			return nil, engine.ErrHalt
		},
		"reboot": func(context.Context, []string) ([]string, error) {
			c.request.CompareAndSwap(reqNone, reqReboot)
			return nil, engine.ErrHalt
		},
	}}
}

func (c *Computer) cancelTimerMethod(_ context.Context, args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, usage("cancelTimer <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad timer id %q", args[0])
	}
	c.reg.timers.Cancel(c.ref, timer.Handle(id))
	return nil, nil
}

// startTimer schedules an event of the given kind ("timer" or "alarm")
// carrying the timer's handle.
func (c *Computer) startTimer(epoch uint64, kind string, d time.Duration) timer.Handle {
	if d < 0 {
		d = 0
	}
	if c.reg.config().StandardsMode {
		const step = 50 * time.Millisecond
		d = (d + step - 1) / step * step
	}
	return c.reg.timers.Schedule(c.ref, d, func(h timer.Handle) {
		c.queueForBoot(epoch, kind, handleString(h))
	})
}

func handleString(h timer.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func locale(args []string) string {
	if len(args) == 0 {
		return "ingame"
	}
	return strings.ToLower(args[0])
}

func formatHour(t time.Time) string {
	h := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	return strconv.FormatFloat(h, 'f', 3, 64)
}

// inGame returns the in-game day (starting at 1) and hour of day.
func (c *Computer) inGame() (int, float64) {
	up := c.Uptime()
	day := int(up/dayLength) + 1
	within := (up + dayStartOff) % dayLength
	hour := math.Floor(float64(within/time.Millisecond)/50) / 1000
	return day, hour
}

// untilInGameHour is the real time until the in-game clock next shows hour.
func (c *Computer) untilInGameHour(hour float64) time.Duration {
	_, now := c.inGame()
	delta := hour - now
	if delta < 0 {
		delta += 24
	}
	return time.Duration(delta * float64(hourLength))
}
