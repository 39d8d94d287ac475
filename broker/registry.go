package broker

import (
	"weak"

	"github.com/riotp/broker/session"
)

// registry holds the server's view of live sessions. Entries are weak
// references (stdlib `weak`, Go 1.24+): a Session's only strong owner is
// its own read-loop goroutine and whatever the acceptor retains for as
// long as the stream is open, so once a Session is torn down and
// unreferenced elsewhere, its registry entry should simply stop
// resolving rather than pin it alive (§3 "Server Registry", §4.5's
// "attempt to upgrade... if upgrade fails, drop the entry").
//
// This is only ever touched from the server strand.
type registry struct {
	entries map[uint64]weak.Pointer[session.Session]
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]weak.Pointer[session.Session])}
}

func (r *registry) put(connID uint64, s *session.Session) {
	r.entries[connID] = weak.Make(s)
}

func (r *registry) remove(connID uint64) {
	delete(r.entries, connID)
}

func (r *registry) get(connID uint64) *session.Session {
	ref, ok := r.entries[connID]
	if !ok {
		return nil
	}
	s := ref.Value()
	if s == nil {
		delete(r.entries, connID)
	}
	return s
}

// visit walks the registry applying the upgrade-or-prune idiom
// described in §4.5: for each weak ref, attempt to upgrade; drop dead
// entries as they're found; for live ones invoke fn, which reports
// whether the traversal should continue and whether the entry should be
// removed regardless of liveness (e.g. a session being preempted).
func (r *registry) visit(fn func(connID uint64, s *session.Session) (cont, remove bool)) {
	for connID, ref := range r.entries {
		s := ref.Value()
		if s == nil {
			delete(r.entries, connID)
			continue
		}
		cont, remove := fn(connID, s)
		if remove {
			delete(r.entries, connID)
		}
		if !cont {
			return
		}
	}
}

func (r *registry) len() int { return len(r.entries) }
