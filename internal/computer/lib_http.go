package computer

import (
	"context"
	"strings"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/netevent"
)

func (c *Computer) httpLibrary() engine.Library {
	withSession := func(fn func(s *netevent.Session, args []string) ([]string, error)) engine.Method {
		return func(_ context.Context, args []string) ([]string, error) {
			s := c.session()
			if s == nil {
				return nil, ErrHTTPDisabled
			}
			return fn(s, args)
		}
	}
	return engine.Library{Name: "http", Methods: map[string]engine.Method{
		"request": withSession(func(s *netevent.Session, args []string) ([]string, error) {
			if len(args) < 1 {
				return nil, usage("request <url> [body...]")
			}
			return nil, s.Request(args[0], strings.Join(args[1:], " "))
		}),
		"checkURL": withSession(func(s *netevent.Session, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("checkURL <url>")
			}
			if _, err := s.CheckURL(args[0]); err != nil {
				return nil, err
			}
			return []string{"true"}, nil
		}),
		"websocket": withSession(func(s *netevent.Session, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("websocket <url>")
			}
			return nil, s.Websocket(args[0])
		}),
		"wsSend": withSession(func(s *netevent.Session, args []string) ([]string, error) {
			if len(args) < 2 {
				return nil, usage("wsSend <id> <data...>")
			}
			return nil, s.Send(args[0], strings.Join(args[1:], " "))
		}),
		"wsClose": withSession(func(s *netevent.Session, args []string) ([]string, error) {
			if len(args) != 1 {
				return nil, usage("wsClose <id>")
			}
			return nil, s.CloseSocket(args[0])
		}),
	}}
}
