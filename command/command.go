// Package command implements the RIOTp active-phase command grammar:
// one line in, one tagged Command out.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/riotp/broker/duration"
	"github.com/riotp/broker/xeid"
)

// Type tags which command variant was parsed.
type Type int

const (
	Invalid Type = iota
	Empty
	Trig
	Sub
	Unsub
	Negsub
	Unnegsub
	Pause
	Continue
	P2PAccept
	P2PStopAccept
	P2PDisconnect
	P2PSend
)

const defaultP2PMaxConnections = 1000

// Command is the parsed result of one command line. Only the fields
// relevant to Type are meaningful; the comment beside each field names
// the variants that use it.
type Command struct {
	Type Type
	Err  error

	Xeids []*xeid.Matcher // Trig, Sub, Negsub

	HasMinPeriod bool  // Sub
	MinPeriodMs  int64 // Sub

	IDs []int // Unsub, Unnegsub, P2PDisconnect
	All bool  // Unsub, Unnegsub, P2PDisconnect ("*")

	MaxConnections int // P2PAccept

	Recipients    []int // P2PSend
	RecipientsAll bool  // P2PSend ("*")
	Size          int64 // P2PSend
	UntilNewline  bool  // P2PSend ("n"/"N")
}

var p2pSendRe = regexp.MustCompile(`^(\d+(?:,\d+)*|\*)>(\d+|[nN])$`)

func syntaxErr(msg string) error {
	return fmt.Errorf("syntax error: %s", msg)
}

// Parse parses one command line (already stripped of its line
// terminator). It always returns a non-nil *Command; ok is true unless
// the line failed to parse, in which case Command.Type == Invalid and
// Command.Err names the problem.
func Parse(line string) (c *Command, ok bool) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return &Command{Type: Empty}, true
	}

	verb := toks[0]
	args := toks[1:]

	switch verb {
	case `trig`:
		return parseXeidList(Trig, args)
	case `sub`:
		return parseSub(args)
	case `unsub`:
		return parseIDList(Unsub, args)
	case `negsub`:
		return parseXeidList(Negsub, args)
	case `unnegsub`:
		return parseIDList(Unnegsub, args)
	case `pause`:
		return parseNoArgs(Pause, args)
	case `continue`:
		return parseNoArgs(Continue, args)
	case `p2p-accept`:
		return parseP2PAccept(args)
	case `p2p-stop-accept`:
		return parseNoArgs(P2PStopAccept, args)
	case `p2p-disconnect`:
		return parseIDList(P2PDisconnect, args)
	case `p2p-send`:
		return parseP2PSend(args)
	default:
		// A bare `RECIPIENTS>SIZE` selector line is a p2p-send as well.
		if p2pSendRe.MatchString(verb) {
			return parseP2PSend(toks)
		}
		return invalid(syntaxErr("not a valid command"))
	}
}

func invalid(err error) (*Command, bool) {
	return &Command{Type: Invalid, Err: err}, false
}

func parseNoArgs(t Type, args []string) (*Command, bool) {
	if len(args) > 0 {
		return invalid(syntaxErr("too many arguments"))
	}
	return &Command{Type: t}, true
}

func parseXeidList(t Type, args []string) (*Command, bool) {
	c := &Command{Type: t}
	for _, a := range args {
		m, err := xeid.New(a)
		if err != nil {
			return invalid(syntaxErr(fmt.Sprintf("invalid xeid : %s", a)))
		}
		c.Xeids = append(c.Xeids, m)
	}
	return c, true
}

func parseSub(args []string) (*Command, bool) {
	c := &Command{Type: Sub}
	for _, a := range args {
		if strings.HasPrefix(a, `minperiod=`) {
			if c.HasMinPeriod {
				return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", a)))
			}
			dtok := strings.TrimPrefix(a, `minperiod=`)
			ms, ok, err := duration.Parse(dtok)
			if err != nil || !ok {
				return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", a)))
			}
			c.HasMinPeriod = true
			c.MinPeriodMs = ms
			continue
		}
		if m, err := xeid.New(a); err == nil {
			c.Xeids = append(c.Xeids, m)
			continue
		}
		return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", a)))
	}
	return c, true
}

func parseIDList(t Type, args []string) (*Command, bool) {
	c := &Command{Type: t}
	for i, a := range args {
		if a == `*` {
			if i < len(args)-1 {
				return invalid(syntaxErr("too many arguments"))
			}
			c.All = true
			return c, true
		}
		id, err := strconv.Atoi(a)
		if err != nil || id < 0 {
			return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", a)))
		}
		c.IDs = append(c.IDs, id)
	}
	return c, true
}

func parseP2PAccept(args []string) (*Command, bool) {
	c := &Command{Type: P2PAccept, MaxConnections: defaultP2PMaxConnections}
	if len(args) > 1 {
		return invalid(syntaxErr("too many arguments"))
	}
	if len(args) == 1 {
		if !strings.HasPrefix(args[0], `maxconnections=`) {
			return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", args[0])))
		}
		ntok := strings.TrimPrefix(args[0], `maxconnections=`)
		n, err := strconv.Atoi(ntok)
		if err != nil || n < 0 {
			return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", args[0])))
		}
		c.MaxConnections = n
	}
	return c, true
}

func parseP2PSend(args []string) (*Command, bool) {
	if len(args) < 1 {
		return invalid(syntaxErr("not enough arguments"))
	}
	if len(args) > 1 {
		return invalid(syntaxErr("too many arguments"))
	}
	m := p2pSendRe.FindStringSubmatch(args[0])
	if m == nil {
		return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", args[0])))
	}
	c := &Command{Type: P2PSend}
	if m[1] == `*` {
		c.RecipientsAll = true
	} else {
		for _, idtok := range strings.Split(m[1], ",") {
			id, err := strconv.Atoi(idtok)
			if err != nil {
				return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", args[0])))
			}
			c.Recipients = append(c.Recipients, id)
		}
	}
	if m[2] == `n` || m[2] == `N` {
		c.UntilNewline = true
	} else {
		sz, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return invalid(syntaxErr(fmt.Sprintf("not a valid argument : %s", args[0])))
		}
		c.Size = sz
	}
	return c, true
}
