package broker

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/riotp/broker/actor"
	"github.com/riotp/broker/creds"
	"github.com/riotp/broker/log"
)

// trustAllCreds accepts any (name, password) and permits multi-login,
// letting registration tests exercise the uniquify branch without a
// real credentials backend.
type trustAllCreds struct{}

func (trustAllCreds) Check(name, password string) (creds.Result, error) {
	return creds.Result{Trusted: true, MultiLogin: true}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pool := actor.NewPool(4)
	t.Cleanup(pool.Stop)
	return New(pool, trustAllCreds{}, log.NewDiscardLogger(), 4096)
}

func dialAndRegister(t *testing.T, srv *Server, name, flagSuffix string) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := net.Pipe()
	srv.HandleConn(server)
	r := bufio.NewReader(client)

	write(t, client, "RIOTp 1.0\n")
	nameLine := "name: " + name
	if flagSuffix != "" {
		nameLine += " " + flagSuffix
	}
	write(t, client, nameLine+"\n")
	write(t, client, "type: sensor\n")
	write(t, client, "password: x\n")
	write(t, client, "END\n")

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read registration reply: %v", err)
	}
	if !strings.HasPrefix(line, "OK ") {
		t.Fatalf("expected OK, got %q", line)
	}
	return client, r
}

func write(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRegisterUniquifyAdmitsSecondSession(t *testing.T) {
	srv := newTestServer(t)

	c1, _ := dialAndRegister(t, srv, "dev", "uniquify")
	defer c1.Close()

	c2, _ := dialAndRegister(t, srv, "dev", "uniquify")
	defer c2.Close()

	if got := srv.SessionCount(); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}
}

func TestRegisterNormalCollisionRejected(t *testing.T) {
	srv := newTestServer(t)

	c1, _ := dialAndRegister(t, srv, "dev1", "")
	defer c1.Close()

	client, server := net.Pipe()
	defer client.Close()
	srv.HandleConn(server)
	r := bufio.NewReader(client)
	write(t, client, "RIOTp 1.0\n")
	write(t, client, "name: dev1\n")
	write(t, client, "type: sensor\n")
	write(t, client, "password: x\n")
	write(t, client, "END\n")

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ERROR multiple login not allowed, not requested\n" {
		t.Fatalf("unexpected line: %q", line)
	}
}

func TestRegisterNormalWeakPreemption(t *testing.T) {
	srv := newTestServer(t)

	client1, server1 := net.Pipe()
	defer client1.Close()
	srv.HandleConn(server1)
	r1 := bufio.NewReader(client1)
	write(t, client1, "RIOTp 1.0\n")
	write(t, client1, "name: dev1\n")
	write(t, client1, "type: sensor\n")
	write(t, client1, "name-policy: weak\n")
	write(t, client1, "password: x\n")
	write(t, client1, "END\n")
	if _, err := r1.ReadString('\n'); err != nil {
		t.Fatalf("read: %v", err)
	}

	client2, _ := dialAndRegister(t, srv, "dev1", "")
	defer client2.Close()

	time.Sleep(30 * time.Millisecond)
	if got := srv.SessionCount(); got != 1 {
		t.Fatalf("expected preempted session to be reaped, got %d live", got)
	}
}
