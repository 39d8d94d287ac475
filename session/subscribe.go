package session

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/riotp/broker/command"
	"github.com/riotp/broker/xeid"
	"golang.org/x/time/rate"
)

// subscription is the tuple (subID, XeidMatcher, minperiod_ms?) from
// §3. limiter is nil when no minperiod was requested; it is consulted,
// not waited on: an unmet minperiod drops the delivery rather than
// coalescing or queueing it (SPEC_FULL.md §12).
type subscription struct {
	id      int
	matcher *xeid.Matcher
	limiter *rate.Limiter
}

// p2pState is the per-session slice of peer-to-peer state named in §3:
// "a set of accepted peer-to-peer channels with their outbound
// identifiers" plus the local admission policy.
type p2pState struct {
	accepting      bool
	maxConnections int
	peers          map[uint64]struct{}
}

func (s *Session) doSub(c *command.Command) {
	for _, m := range c.Xeids {
		var limiter *rate.Limiter
		if c.HasMinPeriod {
			limiter = rate.NewLimiter(rate.Every(time.Duration(c.MinPeriodMs)*time.Millisecond), 1)
		}
		s.nextSub++
		s.subs[s.nextSub] = &subscription{id: s.nextSub, matcher: m, limiter: limiter}
	}
}

func (s *Session) doUnsub(c *command.Command) {
	if c.All {
		s.subs = make(map[int]*subscription)
		return
	}
	for _, id := range c.IDs {
		delete(s.subs, id) // missing IDs silently ignored
	}
}

func (s *Session) doNegsub(c *command.Command) {
	for _, m := range c.Xeids {
		s.nextNeg++
		s.negsubs[s.nextNeg] = &subscription{id: s.nextNeg, matcher: m}
	}
}

func (s *Session) doUnnegsub(c *command.Command) {
	if c.All {
		s.negsubs = make(map[int]*subscription)
		return
	}
	for _, id := range c.IDs {
		delete(s.negsubs, id)
	}
}

// AsyncTrigger is the Dispatcher's delivery entry point (C8): called
// from the server strand on every other live session once for each
// xeid of a trig (whether it matches is decided here), it hops onto
// this session's own strand before touching any
// subscription state. pubName/pubType identify the publisher; x is the
// XeidMatcher token from the publisher's trig command.
//
// Per §4.8 the condition is two independent checks, not one combined
// match: the subscription's device filter must match the publisher's
// (name, type), *and* the trigger's own matcher X must match (X's own
// eid, the publisher's name, the publisher's type) — the latter lets a
// `trig eid@dname#dtype` line additionally assert what its emitter's
// own identity must look like for the event to count.
//
// "Some subscription ... satisfies" is existential across every
// matching subscription, each with its own independent minperiod gate —
// not a single arbitrarily-chosen match. Matching subs are visited in
// subID order (not map order, which is randomized per run) so that
// byte-identical input behaves identically across runs: the event is
// delivered the moment any matching subscription's limiter currently
// allows it.
func (s *Session) AsyncTrigger(pubName, pubType string, x *xeid.Matcher) {
	s.strand.Post(func() {
		if s.closed || s.paused {
			return
		}
		if !x.Matches(x.Eid(), pubName, pubType) {
			return
		}
		for _, neg := range s.negsubs {
			if neg.matcher.DeviceMatches(pubName, pubType) {
				return
			}
		}
		ids := make([]int, 0, len(s.subs))
		for id, sub := range s.subs {
			if sub.matcher.DeviceMatches(pubName, pubType) {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return
		}
		sort.Ints(ids)
		for _, id := range ids {
			sub := s.subs[id]
			if sub.limiter == nil || sub.limiter.Allow() {
				s.writeLineLocked(fmt.Sprintf("trig %s@%s#%s", x.Eid(), pubName, pubType))
				return
			}
		}
	})
}

func (s *Session) doP2PAccept(c *command.Command) {
	s.p2p.accepting = true
	s.p2p.maxConnections = c.MaxConnections
	if s.p2p.peers == nil {
		s.p2p.peers = make(map[uint64]struct{})
	}
}

func (s *Session) doP2PDisconnect(c *command.Command) {
	if c.All {
		s.p2p.peers = make(map[uint64]struct{})
		return
	}
	for _, id := range c.IDs {
		delete(s.p2p.peers, uint64(id)) // missing IDs silently ignored
	}
}

// doP2PSend consumes the raw payload trailing the p2p-send command line
// (Size bytes, or everything up to the next newline) off the session's
// own reader and relays it verbatim to each recipient ConnID via the
// dispatcher's p2p router. The read happens on a background goroutine
// so the strand is not blocked waiting on the peer; the relay and the
// scheduling of the next command read both happen back on the strand.
func (s *Session) doP2PSend(c *command.Command) {
	go func() {
		var payload []byte
		var err error
		if c.UntilNewline {
			// Keep the trailing newline: the payload is relayed framed
			// exactly as received, so a recipient relying on the same
			// until-newline convention can find the end of the payload.
			payload, err = s.reader.ReadBytes('\n')
		} else {
			payload = make([]byte, c.Size)
			_, err = io.ReadFull(s.reader, payload)
		}
		s.strand.Post(func() {
			if err != nil {
				s.teardown()
				return
			}
			if !s.closed {
				s.relayP2P(c, payload)
				s.postNextRead()
			}
		})
	}()
}

func (s *Session) relayP2P(c *command.Command, payload []byte) {
	if s.p2pRelay == nil {
		return
	}
	if c.RecipientsAll {
		s.p2pRelay.BroadcastP2P(s.ConnID(), payload)
		return
	}
	for _, id := range c.Recipients {
		s.p2pRelay.SendP2P(s.ConnID(), uint64(id), payload)
	}
}

// DeliverP2P is called by the Server/P2PRelay to hand this session a raw
// payload sent to it by peer senderConnID. Safe to call from any
// goroutine; the actual admission check (accepting, capacity, and
// whether senderConnID has already been admitted) happens on the
// session's own strand.
func (s *Session) DeliverP2P(senderConnID uint64, payload []byte) {
	s.strand.Post(func() {
		if s.closed || !s.p2p.accepting {
			return
		}
		if s.p2p.peers == nil {
			s.p2p.peers = make(map[uint64]struct{})
		}
		if _, known := s.p2p.peers[senderConnID]; !known {
			if len(s.p2p.peers) >= s.p2p.maxConnections {
				return
			}
			s.p2p.peers[senderConnID] = struct{}{}
		}
		s.enqueueLocked(payload)
	})
}
