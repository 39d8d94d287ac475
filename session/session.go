// Package session implements C4, the per-connection actor: it owns the
// stream, the write queue, the phase, and the subscription state, and
// serializes all per-connection work through its own actor.Strand.
package session

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/riotp/broker/actor"
	"github.com/riotp/broker/command"
	"github.com/riotp/broker/header"
	"github.com/riotp/broker/log"
	"github.com/riotp/broker/xeid"
)

// Phase is a plain enum; the per-phase data (the in-progress
// HeaderParser vs. the active command/subscription state) lives on
// Session beside it. `registering` stands in for the source's `intermediate` phase: a
// session reaches it the moment the header parser signals Done and
// leaves it only when the registration job posted to the Server's
// strand calls back CompleteRegistration or FailRegistration — the read
// loop simply never schedules another read while registering, so no
// newborn-phase line handling can re-enter (invariant 4).
type Phase int

const (
	PhaseNewborn Phase = iota
	PhaseRegistering
	PhaseActive
	PhaseClosed
)

// Registrar is implemented by the Server. A Session posts a
// RegistrationRequest to it once the header parses successfully and
// waits for the server strand to call back CompleteRegistration or
// FailRegistration (see §4.4/§4.5 of the design).
type Registrar interface {
	Register(s *Session, req RegistrationRequest)
}

// RegistrationRequest carries the header fields the Server needs to
// authenticate and name a newly-handshaked connection.
type RegistrationRequest struct {
	Name       string
	Password   string
	Flag       header.NameFlag
	NamePolicy header.NamePolicy
	Type       string
}

// Dispatcher is implemented by the Server; it fans a trig command out
// to matching subscribers (C8).
type Dispatcher interface {
	Trig(pub *Session, xeids []*xeid.Matcher)
}

// P2PRelay is implemented by the Server; it resolves a recipient
// ConnID to a live Session and hands it the raw payload (the p2p
// channel addressing scheme resolving §9's open question on p2p
// variants, SPEC_FULL.md §12).
type P2PRelay interface {
	SendP2P(senderConnID, recipientConnID uint64, payload []byte)
	BroadcastP2P(senderConnID uint64, payload []byte)
}

// Session is the server-side actor for one client connection.
type Session struct {
	// id correlates this session's log lines from accept to teardown,
	// independent of the server-assigned ConnID, which only exists once
	// registration completes. Mirrors the teacher's IngesterUUID,
	// carried per-connection instead of per-daemon.
	id uuid.UUID

	strand *actor.Strand
	conn   net.Conn
	reader *bufio.Reader
	lg     *log.Logger

	registrar  Registrar
	dispatcher Dispatcher
	p2pRelay   P2PRelay

	maxWriteQueue int

	// strand-owned state below; only ever touched from inside s.strand,
	// except connID which uses atomics so ConnID() is safe from any
	// goroutine (the Server reads it off-strand to skip the publisher
	// when fanning out a trig).
	phase   Phase
	hdr     *header.Parser
	fields  header.Fields
	connID  uint64

	subs    map[int]*subscription
	negsubs map[int]*subscription
	nextSub int
	nextNeg int
	paused  bool

	p2p p2pState

	writeQueue [][]byte
	writing    bool
	closed     bool
}

// New constructs a Session around conn. Start must be called once by
// the server to begin the read loop.
func New(conn net.Conn, pool *actor.Pool, lg *log.Logger, registrar Registrar, dispatcher Dispatcher, p2pRelay P2PRelay, maxWriteQueue int) *Session {
	s := &Session{
		id:            uuid.New(),
		strand:        actor.NewStrand(pool),
		conn:          conn,
		reader:        bufio.NewReader(conn),
		lg:            lg,
		registrar:     registrar,
		dispatcher:    dispatcher,
		p2pRelay:      p2pRelay,
		maxWriteQueue: maxWriteQueue,
		phase:         PhaseNewborn,
		hdr:           header.New(),
		subs:          make(map[int]*subscription),
		negsubs:       make(map[int]*subscription),
	}
	s.strand.PanicHandler = func(r interface{}) {
		if s.lg != nil {
			s.lg.Critical("session strand panic", log.KV("session", s.id.String()), log.KV("recovered", fmt.Sprintf("%v", r)))
		}
		panic(r) // a session-strand panic is a programming fault; terminate the process.
	}
	return s
}

// Start begins the read loop. Not thread-safe; called once by the
// server immediately after accept (and, for TLS, after the handshake
// completes).
func (s *Session) Start() {
	s.postNextRead()
}

// postNextRead launches a one-shot goroutine that blocks on the next
// line and, once read, hands it to the session's own strand. Nothing
// schedules the *following* read until the line currently being
// processed explicitly asks for one, which is what gives phase=active
// its "a command is fully processed... before the next line is
// consumed" ordering guarantee (§5) and what lets phase=registering
// simply withhold the call.
func (s *Session) postNextRead() {
	go func() {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.strand.Post(s.handleReadError)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.strand.Post(func() { s.handleLine(line) })
	}()
}

// Name returns the session's registered device name. Only safe to call
// once the session has reached phase=active.
func (s *Session) Name() string { return s.fields.Name }

// Type returns the session's registered device type.
func (s *Session) Type() string { return s.fields.Type }

// NamePolicyWeak reports whether this session registered with
// name-policy: weak, making it eligible for preemption by a later
// `normal`-flag registration under the same name.
func (s *Session) NamePolicyWeak() bool { return s.fields.NamePolicy == header.PolicyWeak }

// ConnID returns the server-assigned identifier used to address this
// session as a p2p-send recipient. Safe to call from any goroutine.
func (s *Session) ConnID() uint64 { return atomic.LoadUint64(&s.connID) }

func (s *Session) setConnID(id uint64) { atomic.StoreUint64(&s.connID, id) }

// ID returns the session's log-correlation identifier, stable for the
// lifetime of the connection regardless of registration outcome.
func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) handleReadError() {
	// Transport errors are not reported to the peer; tear down silently.
	s.teardown()
}

func (s *Session) handleLine(line string) {
	if s.closed {
		return
	}
	switch s.phase {
	case PhaseNewborn:
		s.handleHeaderLine(line)
	case PhaseRegistering:
		// Not reached: no read is scheduled until registration
		// completes, so lines the peer sends early stay buffered in the
		// reader and are handled as commands once the phase is active.
	case PhaseActive:
		s.handleCommandLine(line)
	}
}

func (s *Session) handleHeaderLine(line string) {
	st := s.hdr.FeedLine(line)
	if st == header.Continue {
		s.postNextRead()
		return
	}
	// st == header.Done
	if err := s.hdr.Err(); err != nil {
		s.writeLineLocked("ERROR " + err.Error())
		s.teardown()
		return
	}
	if field, missing := s.hdr.Missing(); missing {
		s.writeLineLocked(fmt.Sprintf("ERROR argument not initialized : %s", field))
		s.teardown()
		return
	}
	fields := s.hdr.Fields()
	s.fields = fields
	s.hdr = nil
	s.phase = PhaseRegistering
	s.registrar.Register(s, RegistrationRequest{
		Name:       fields.Name,
		Password:   fields.Password,
		Flag:       fields.NameFlag,
		NamePolicy: fields.NamePolicy,
		Type:       fields.Type,
	})
}

// CompleteRegistration is called by the Server, from the server strand,
// once a registration succeeds. It must hop back onto the session's own
// strand before touching any Session field (invariant 2).
func (s *Session) CompleteRegistration(assignedName string, connID uint64) {
	s.strand.Post(func() {
		if s.closed {
			return
		}
		s.fields.Name = assignedName
		s.setConnID(connID)
		s.phase = PhaseActive
		s.writeLineLocked("OK " + assignedName)
		s.postNextRead()
	})
}

// FailRegistration is called by the Server, from the server strand, when
// registration is rejected (authentication failure or name collision
// policy). It writes the ERROR line and tears the session down; no
// further read is scheduled.
func (s *Session) FailRegistration(msg string) {
	s.strand.Post(func() {
		if s.closed {
			return
		}
		s.writeLineLocked("ERROR " + msg)
		s.teardown()
	})
}

// handleCommandLine processes one active-phase line and then schedules
// the next read, except for p2p-send: it is the one variant whose payload trails
// the command line on the raw stream, so it must consume that payload
// before another line is read, rather than racing a fresh postNextRead
// against its own in-flight payload read.
func (s *Session) handleCommandLine(line string) {
	c, ok := command.Parse(line)
	if !ok {
		s.writeLineLocked("ERROR " + c.Err.Error())
		s.postNextRead()
		return
	}
	switch c.Type {
	case command.Empty:
		// ignored
	case command.Sub:
		s.doSub(c)
	case command.Unsub:
		s.doUnsub(c)
	case command.Negsub:
		s.doNegsub(c)
	case command.Unnegsub:
		s.doUnnegsub(c)
	case command.Pause:
		s.paused = true
	case command.Continue:
		s.paused = false
	case command.Trig:
		s.dispatcher.Trig(s, c.Xeids)
	case command.P2PAccept:
		s.doP2PAccept(c)
	case command.P2PStopAccept:
		s.p2p.accepting = false
	case command.P2PDisconnect:
		s.doP2PDisconnect(c)
	case command.P2PSend:
		s.doP2PSend(c)
		return // doP2PSend schedules the next read once the payload is consumed.
	}
	s.postNextRead()
}

// writeLineLocked appends \n and enqueues for writing. Must run on the
// session's own strand (all call sites above already are).
func (s *Session) writeLineLocked(line string) {
	s.enqueueLocked([]byte(line + "\n"))
}

// AsyncWrite enqueues buf for sending; if the queue was empty, it kicks
// off the write chain. Safe to call from any goroutine.
func (s *Session) AsyncWrite(buf []byte) {
	s.strand.Post(func() { s.enqueueLocked(buf) })
}

func (s *Session) enqueueLocked(buf []byte) {
	if s.closed {
		return
	}
	if s.maxWriteQueue > 0 && len(s.writeQueue) >= s.maxWriteQueue {
		// Exceeding the bounded write queue disconnects the slowest
		// subscriber rather than growing unbounded (SPEC_FULL.md §12).
		s.teardown()
		return
	}
	s.writeQueue = append(s.writeQueue, buf)
	if !s.writing {
		s.kickWrite()
	}
}

func (s *Session) kickWrite() {
	if len(s.writeQueue) == 0 {
		s.writing = false
		return
	}
	s.writing = true
	buf := s.writeQueue[0]
	s.writeQueue = s.writeQueue[1:]
	go func() {
		_, err := s.conn.Write(buf)
		s.strand.Post(func() {
			if err != nil {
				s.teardown()
				return
			}
			s.kickWrite()
		})
	}()
}

// AsyncStop posts a close of the underlying stream; pending reads/writes
// complete with a cancellation error that is treated as normal
// termination (no error reported to the peer).
func (s *Session) AsyncStop() {
	s.strand.Post(s.teardown)
}

// teardown must run on the session's own strand.
func (s *Session) teardown() {
	if s.closed {
		return
	}
	s.closed = true
	s.phase = PhaseClosed
	s.conn.Close()
}
