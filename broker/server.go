// Package broker implements C5 (Server, the session registry and its
// registration/name-uniqueness policy) and C8 (Dispatcher, trig
// fan-out), both serialized behind a single server-wide actor.Strand.
package broker

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/riotp/broker/actor"
	"github.com/riotp/broker/creds"
	"github.com/riotp/broker/header"
	"github.com/riotp/broker/log"
	"github.com/riotp/broker/session"
	"github.com/riotp/broker/xeid"
)

// Server owns the session registry and the worker pool every Session's
// own strand is drained on. It satisfies session.Registrar,
// session.Dispatcher, and session.P2PRelay.
type Server struct {
	strand *actor.Strand
	pool   *actor.Pool
	creds  creds.Credentials
	lg     *log.Logger

	maxWriteQueue int

	reg        *registry
	nextConnID uint64

	stopOnce sync.Once
}

// New builds a Server. pool is shared by the Server's own strand and
// every Session it creates; credentials may be nil, in which case every
// registration is rejected (a misconfiguration the caller should avoid,
// not a fallback to trust).
func New(pool *actor.Pool, credentials creds.Credentials, lg *log.Logger, maxWriteQueue int) *Server {
	return &Server{
		strand:        actor.NewStrand(pool),
		pool:          pool,
		creds:         credentials,
		lg:            lg,
		maxWriteQueue: maxWriteQueue,
		reg:           newRegistry(),
	}
}

// HandleConn wraps a freshly accepted (and, for TLS, already
// handshaked) connection in a Session and starts its read loop. Used
// directly by the plain listener and by tlsaccept after a successful
// handshake.
func (srv *Server) HandleConn(conn net.Conn) *session.Session {
	s := session.New(conn, srv.pool, srv.lg, srv, srv, srv, srv.maxWriteQueue)
	s.Start()
	return s
}

// Register implements session.Registrar. It runs the full algorithm
// from §4.5 on the server strand.
func (srv *Server) Register(s *session.Session, req session.RegistrationRequest) {
	srv.strand.Post(func() {
		srv.doRegister(s, req)
	})
}

func (srv *Server) doRegister(s *session.Session, req session.RegistrationRequest) {
	result, err := srv.checkCredentials(req.Name, req.Password)
	if err != nil || !result.Trusted {
		if srv.lg != nil {
			srv.lg.Info("registration rejected", log.KV("session", s.ID().String()), log.KV("name", req.Name))
		}
		s.FailRegistration("authentication failed")
		return
	}

	switch req.Flag {
	case header.FlagNormal:
		srv.registerNormal(s, req)
	default: // FlagUniquify, FlagEnumerated: treated identically per §4.5
		srv.registerUniquify(s, req, result.MultiLogin)
	}
}

func (srv *Server) checkCredentials(name, password string) (creds.Result, error) {
	if srv.creds == nil {
		return creds.Result{}, nil
	}
	return srv.creds.Check(name, password)
}

func (srv *Server) registerNormal(s *session.Session, req session.RegistrationRequest) {
	var collision *session.Session
	var collisionID uint64
	srv.reg.visit(func(connID uint64, q *session.Session) (cont, remove bool) {
		if q.Name() == req.Name {
			collision = q
			collisionID = connID
			return false, false
		}
		return true, false
	})

	if collision != nil {
		if !collision.NamePolicyWeak() {
			s.FailRegistration("multiple login not allowed, not requested")
			return
		}
		// invariant 5 guarantees at most one such collision.
		collision.AsyncStop()
		srv.reg.remove(collisionID)
	}

	srv.commit(s, req.Name)
}

func (srv *Server) registerUniquify(s *session.Session, req session.RegistrationRequest, multiLogin bool) {
	prefix := req.Name + `_`
	used := make(map[int]struct{})
	srv.reg.visit(func(_ uint64, q *session.Session) (cont, remove bool) {
		if n := q.Name(); strings.HasPrefix(n, prefix) {
			if i, err := strconv.Atoi(strings.TrimPrefix(n, prefix)); err == nil && i > 0 {
				used[i] = struct{}{}
			}
		}
		return true, false
	})

	if len(used) == 0 {
		srv.commit(s, fmt.Sprintf("%s1", prefix))
		return
	}
	if !multiLogin {
		s.FailRegistration("multiple login not allowed, administrator doesn't permit")
		return
	}
	i := 1
	for {
		if _, taken := used[i]; !taken {
			break
		}
		i++
	}
	srv.commit(s, fmt.Sprintf("%s%d", prefix, i))
}

func (srv *Server) commit(s *session.Session, assignedName string) {
	srv.nextConnID++
	connID := srv.nextConnID
	srv.reg.put(connID, s)
	s.CompleteRegistration(assignedName, connID)
}

// Trig implements session.Dispatcher (C8): for each XeidMatcher in the
// publisher's trig command, every other live session is offered the
// event via its own AsyncTrigger, which performs the actual
// subscription-matching and delivery decision on its own strand.
func (srv *Server) Trig(pub *session.Session, xeids []*xeid.Matcher) {
	srv.strand.Post(func() {
		pubName, pubType := pub.Name(), pub.Type()
		pubConnID := pub.ConnID()
		srv.reg.visit(func(connID uint64, q *session.Session) (cont, remove bool) {
			if connID != pubConnID {
				for _, x := range xeids {
					q.AsyncTrigger(pubName, pubType, x)
				}
			}
			return true, false
		})
	})
}

// SendP2P implements session.P2PRelay, delivering a p2p-send payload to
// one recipient addressed by ConnID.
func (srv *Server) SendP2P(senderConnID, recipientConnID uint64, payload []byte) {
	srv.strand.Post(func() {
		if q := srv.reg.get(recipientConnID); q != nil {
			q.DeliverP2P(senderConnID, payload)
		}
	})
}

// BroadcastP2P implements session.P2PRelay for the `*` recipient
// selector: every other live session is offered the payload, subject to
// its own p2p-accept admission state.
func (srv *Server) BroadcastP2P(senderConnID uint64, payload []byte) {
	srv.strand.Post(func() {
		srv.reg.visit(func(connID uint64, q *session.Session) (cont, remove bool) {
			if connID != senderConnID {
				q.DeliverP2P(senderConnID, payload)
			}
			return true, false
		})
	})
}

// Stop cancels the acceptor (via stopFn, supplied by the caller that
// owns the listener) and stops every live session, serialized on the
// server strand per §4.5/§5.
func (srv *Server) Stop(stopFn func()) {
	srv.stopOnce.Do(func() {
		done := make(chan struct{})
		srv.strand.Post(func() {
			if stopFn != nil {
				stopFn()
			}
			srv.reg.visit(func(connID uint64, q *session.Session) (cont, remove bool) {
				q.AsyncStop()
				return true, true
			})
			close(done)
		})
		<-done
	})
}

// SessionCount reports the number of live sessions, for diagnostics.
func (srv *Server) SessionCount() int {
	done := make(chan int, 1)
	srv.strand.Post(func() { done <- srv.reg.len() })
	return <-done
}
