// Package duration implements the RIOTp duration grammar shared by the
// header parser's `timeout:` directive and the command parser's
// `minperiod=` argument: a nonnegative real number with an optional unit
// suffix, or the literal `inf` meaning "no timeout". This mirrors the
// original implementation's single `string_to_timeout` helper, kept as
// one shared parser rather than duplicated in both packages.
package duration

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidDuration is returned when a token does not match the
// duration grammar.
var ErrInvalidDuration = errors.New("invalid duration")

// suffix multipliers, in milliseconds.
var suffixes = []struct {
	suffix string
	mult   float64
}{
	// longest suffixes first so e.g. "min" isn't mis-split as "m"+"in"
	{"day", 86400000},
	{"min", 60000},
	{"ms", 1},
	{"wk", 604800000},
	{"h", 3600000},
	{"s", 1000},
}

// Parse parses tok per the duration grammar, returning the duration in
// milliseconds and ok=false (with no timeout semantics) if tok is the
// literal "inf".
func Parse(tok string) (ms int64, ok bool, err error) {
	tok = strings.TrimSpace(tok)
	if tok == `inf` {
		return 0, false, nil
	}
	numPart := tok
	mult := 1.0
	for _, s := range suffixes {
		if strings.HasSuffix(tok, s.suffix) {
			numPart = strings.TrimSuffix(tok, s.suffix)
			mult = s.mult
			break
		}
	}
	if numPart == `` {
		err = ErrInvalidDuration
		return
	}
	v, perr := strconv.ParseFloat(numPart, 64)
	if perr != nil || v < 0 {
		err = ErrInvalidDuration
		return
	}
	ms = int64(v * mult)
	ok = true
	return
}
