// Package header implements the RIOTp connection preamble grammar: the
// incremental line-by-line parse of the header block a client sends
// immediately after connecting, up through the terminating `END` line.
package header

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/riotp/broker/duration"
)

// NameFlag selects the name-collision policy requested by a client.
type NameFlag int

const (
	FlagNormal NameFlag = iota
	FlagUniquify
	FlagEnumerated
)

// NamePolicy controls whether a registered name can be preempted by a
// later registration under normal flag.
type NamePolicy int

const (
	PolicyStrong NamePolicy = iota
	PolicyWeak
)

const defaultTimeoutMs = 1800000 // 30 minutes; confirmed by original_source's string_to_timeout default.

// Fields holds the parsed header directives. Timeout and HasTimeout
// default to defaultTimeoutMs/true per the original implementation;
// `timeout: inf` sets HasTimeout=false.
type Fields struct {
	Version     string
	Name        string
	Type        string
	Password    string
	NameFlag    NameFlag
	NamePolicy  NamePolicy
	TimeoutMs   int64
	HasTimeout  bool
}

var (
	versionRe    = regexp.MustCompile(`^\d+\.\d+$`)
	identifierRe = regexp.MustCompile(`^[A-Za-z0-9_,-]+$`)
)

// state is the result of feeding one line to the parser.
type state int

const (
	Continue state = iota
	Done
)

// Parser incrementally parses the header block, one line at a time.
type Parser struct {
	fields Fields

	line int
	err  error // first error recorded; sticky until Done

	haveVersion bool
	haveName    bool
	haveType    bool
}

// New returns a fresh Parser. Timeout defaults are applied eagerly so a
// header that omits `timeout:` entirely yields the default.
func New() *Parser {
	return &Parser{
		fields: Fields{
			NamePolicy: PolicyStrong,
			TimeoutMs:  defaultTimeoutMs,
			HasTimeout: true,
		},
	}
}

// FeedLine consumes one line (already stripped of its terminator) and
// returns Continue until the `END` sentinel is seen, at which point it
// returns Done. Once an error is recorded it stays sticky: further
// lines are still consumed (returning Continue) but otherwise ignored,
// so the caller can keep reading until END and then report the first
// error.
func (p *Parser) FeedLine(line string) state {
	p.line++

	if p.line == 1 {
		if err := p.parseFirstLine(line); err != nil {
			p.recordErr(err)
		}
		return Continue
	}

	if strings.TrimSpace(line) == `END` {
		return Done
	}

	if p.err != nil {
		// sticky error: discard until END
		return Continue
	}

	if err := p.parseDirective(line); err != nil {
		p.recordErr(err)
	}
	return Continue
}

func (p *Parser) recordErr(err error) {
	if p.err == nil {
		p.err = err
	}
}

// Err returns the first sticky parse error, if any.
func (p *Parser) Err() error {
	return p.err
}

// Fields returns the parsed fields. Only meaningful once FeedLine has
// returned Done and Err() is nil.
func (p *Parser) Fields() Fields {
	return p.fields
}

// Missing reports the first of RIOTp/name/type that was never supplied,
// per spec: "After END, RIOTp, name, and type must all be present;
// otherwise the calling Session emits an `argument not initialized`
// error naming the missing field."
func (p *Parser) Missing() (field string, ok bool) {
	if !p.haveVersion {
		return "RIOTp", true
	}
	if !p.haveName {
		return "name", true
	}
	if !p.haveType {
		return "type", true
	}
	return "", false
}

func syntaxErr(line int, msg string) error {
	return fmt.Errorf("syntax error (line = %d): %s", line, msg)
}

func (p *Parser) parseFirstLine(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 || toks[0] != `RIOTp` {
		return syntaxErr(p.line, "RIOTp must appear first")
	}
	if len(toks) < 2 {
		return syntaxErr(p.line, "not enough arguments")
	}
	if len(toks) > 2 {
		return syntaxErr(p.line, "too many arguments")
	}
	if !versionRe.MatchString(toks[1]) {
		return syntaxErr(p.line, "not a valid version string")
	}
	p.fields.Version = toks[1]
	p.haveVersion = true
	return nil
}

func (p *Parser) parseDirective(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	directive := strings.TrimSuffix(toks[0], ":")
	args := toks[1:]

	switch directive {
	case `RIOTp`:
		return syntaxErr(p.line, "RIOTp must appear first")
	case `name`:
		if len(args) < 1 {
			return syntaxErr(p.line, "not enough arguments")
		}
		if len(args) > 2 {
			return syntaxErr(p.line, "too many arguments")
		}
		if !identifierRe.MatchString(args[0]) {
			return syntaxErr(p.line, "invalid identifier")
		}
		p.fields.Name = args[0]
		p.haveName = true
		if len(args) == 2 {
			switch args[1] {
			case `enumerated`:
				p.fields.NameFlag = FlagEnumerated
			case `uniquify`:
				p.fields.NameFlag = FlagUniquify
			default:
				return syntaxErr(p.line, fmt.Sprintf("not a valid argument : %s", args[1]))
			}
		} else {
			p.fields.NameFlag = FlagNormal
		}
	case `type`:
		if len(args) < 1 {
			return syntaxErr(p.line, "not enough arguments")
		}
		if len(args) > 1 {
			return syntaxErr(p.line, "too many arguments")
		}
		if !identifierRe.MatchString(args[0]) {
			return syntaxErr(p.line, "invalid identifier")
		}
		p.fields.Type = args[0]
		p.haveType = true
	case `password`:
		if len(args) < 1 {
			return syntaxErr(p.line, "not enough arguments")
		}
		if len(args) > 1 {
			return syntaxErr(p.line, "too many arguments")
		}
		p.fields.Password = args[0]
	case `name-policy`:
		if len(args) < 1 {
			return syntaxErr(p.line, "not enough arguments")
		}
		if len(args) > 1 {
			return syntaxErr(p.line, "too many arguments")
		}
		switch args[0] {
		case `weak`:
			p.fields.NamePolicy = PolicyWeak
		case `strong`:
			p.fields.NamePolicy = PolicyStrong
		default:
			return syntaxErr(p.line, fmt.Sprintf("not a valid argument : %s", args[0]))
		}
	case `timeout`:
		if len(args) < 1 {
			return syntaxErr(p.line, "not enough arguments")
		}
		if len(args) > 1 {
			return syntaxErr(p.line, "too many arguments")
		}
		ms, ok, err := duration.Parse(args[0])
		if err != nil {
			return syntaxErr(p.line, fmt.Sprintf("not a valid argument : %s", args[0]))
		}
		p.fields.HasTimeout = ok
		p.fields.TimeoutMs = ms
	default:
		return syntaxErr(p.line, "not a valid command")
	}
	return nil
}
