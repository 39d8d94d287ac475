// Package xeid implements the extended-event-ID pattern matcher used to
// route "trig" events to subscribers. A pattern is a token of the form
// EID(@DNAME(#DTYPE)?)? where each of EID/DNAME/DTYPE is itself treated
// as an anchored, full-string regular expression. An empty component
// matches anything.
package xeid

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidXeid is returned when a pattern token does not match the
// EID(@DNAME(#DTYPE)?)? grammar.
var ErrInvalidXeid = errors.New("invalid xeid")

// Matcher holds the three source pattern strings for a xeid and their
// compiled, anchored regular expressions. The zero value is not valid;
// use New or NewFromParts.
type Matcher struct {
	eidSrc, dnameSrc, dtypeSrc string
	eidRe, dnameRe, dtypeRe    *regexp.Regexp
}

// New parses tok according to the EID(@DNAME(#DTYPE)?)? grammar and
// compiles the three component patterns. EID is required; DNAME/DTYPE
// may be present-but-empty (an `@` or `#` immediately followed by the
// next separator or end of token denotes an empty component, which
// matches unconditionally).
func New(tok string) (*Matcher, error) {
	eid, dname, dtype, err := split(tok)
	if err != nil {
		return nil, err
	}
	return NewFromParts(eid, dname, dtype)
}

// NewFromParts builds a Matcher directly from the already-parsed
// (eid, dname, dtype) triple, compiling each non-empty component as an
// anchored regular expression. Per the teacher's guidance on avoiding
// recompilation surprises on copy, prefer this constructor when the
// triple is already known rather than round-tripping through New.
func NewFromParts(eid, dname, dtype string) (*Matcher, error) {
	eidRe, err := compile(eid)
	if err != nil {
		return nil, err
	}
	dnameRe, err := compile(dname)
	if err != nil {
		return nil, err
	}
	dtypeRe, err := compile(dtype)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		eidSrc:   eid,
		dnameSrc: dname,
		dtypeSrc: dtype,
		eidRe:    eidRe,
		dnameRe:  dnameRe,
		dtypeRe:  dtypeRe,
	}, nil
}

func compile(src string) (*regexp.Regexp, error) {
	if src == `` {
		return nil, nil
	}
	return regexp.Compile(`^(?:` + src + `)$`)
}

// split tokenizes tok into its (eid, dname, dtype) source strings
// without compiling anything, per the grammar:
// EID(@DNAME(#DTYPE)?)? where EID/DNAME/DTYPE exclude whitespace, '@'
// and '#'. EID must be non-empty; the '@' and '#' markers are optional
// but, once present, their payload (possibly empty) is consumed.
func split(tok string) (eid, dname, dtype string, err error) {
	if tok == `` {
		err = ErrInvalidXeid
		return
	}
	for _, r := range tok {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			err = ErrInvalidXeid
			return
		}
	}

	rest := tok
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		eid = rest[:at]
		rest = rest[at+1:]
		if hash := strings.IndexByte(rest, '#'); hash >= 0 {
			dname = rest[:hash]
			dtype = rest[hash+1:]
		} else {
			dname = rest
		}
	} else if hash := strings.IndexByte(rest, '#'); hash >= 0 {
		// a bare '#' with no '@' is not part of the grammar (DTYPE is
		// only reachable after an '@'), so treat the whole token as EID
		// unless it happens to also contain '@' (handled above).
		eid = rest
		_ = hash
	} else {
		eid = rest
	}

	if eid == `` {
		err = ErrInvalidXeid
		return
	}
	if strings.ContainsAny(eid, "@#") || strings.ContainsAny(dname, "@#") || strings.ContainsAny(dtype, "@#") {
		err = ErrInvalidXeid
		return
	}
	return
}

// Matches reports whether (eid, dname, dtype) satisfies all three
// pattern slots. An empty source pattern matches unconditionally;
// otherwise the candidate must fully match the compiled, anchored
// regular expression.
func (m *Matcher) Matches(eid, dname, dtype string) bool {
	return matchOne(m.eidRe, eid) && matchOne(m.dnameRe, dname) && matchOne(m.dtypeRe, dtype)
}

// DeviceMatches reports whether (dname, dtype) satisfies the dname/dtype
// slots, ignoring the eid slot entirely.
func (m *Matcher) DeviceMatches(dname, dtype string) bool {
	return matchOne(m.dnameRe, dname) && matchOne(m.dtypeRe, dtype)
}

func matchOne(re *regexp.Regexp, s string) bool {
	if re == nil {
		return true
	}
	return re.MatchString(s)
}

// Eid, Dname, and Dtype return the source pattern strings for each slot.
func (m *Matcher) Eid() string   { return m.eidSrc }
func (m *Matcher) Dname() string { return m.dnameSrc }
func (m *Matcher) Dtype() string { return m.dtypeSrc }

// Equal compares two matchers by their source strings, per spec: equality
// and cloning are defined on the source strings, not on the derived
// compiled regexes.
func (m *Matcher) Equal(o *Matcher) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.eidSrc == o.eidSrc && m.dnameSrc == o.dnameSrc && m.dtypeSrc == o.dtypeSrc
}

// Clone returns a new Matcher with freshly (re-)compiled regexes derived
// from the same source strings.
func (m *Matcher) Clone() *Matcher {
	c, err := NewFromParts(m.eidSrc, m.dnameSrc, m.dtypeSrc)
	if err != nil {
		// source strings were already validated at construction time
		panic(err)
	}
	return c
}

// String renders the matcher back to its canonical eid@dname#dtype form,
// omitting trailing empty segments the way the original token might have.
func (m *Matcher) String() string {
	s := m.eidSrc
	if m.dnameSrc != `` || m.dtypeSrc != `` {
		s += "@" + m.dnameSrc
	}
	if m.dtypeSrc != `` {
		s += "#" + m.dtypeSrc
	}
	return s
}
