// Package tlsaccept implements C6, the TlsAcceptor: it wraps a plain
// accept loop, performing a server-side TLS handshake before a
// connection is promoted to a Session. Grounded on the teacher's
// ingesters/SimpleRelay listener setup (tls.Config{MinVersion},
// tls.LoadX509KeyPair, tls.Listen) generalized from a fire-and-forget
// bind-string dispatch into an explicit accept-then-handshake pipeline,
// and on the original source's ssl_server.cpp, which performs the
// handshake as a distinct asynchronous step after accept rather than
// relying on a stream type that hides it inside the first read.
package tlsaccept

import (
	"context"
	"crypto/tls"
	"crypto/x509" //lint:ignore SA1019 DecryptPEMBlock is the only stdlib path for legacy encrypted PEM keys; see DESIGN.md
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/riotp/broker/log"
)

// LoadTLSConfig builds a server-side tls.Config from a certificate/key
// pair. If keyPassword is non-empty, the key file is expected to be a
// legacy encrypted PEM block (`Proc-Type: 4,ENCRYPTED`); there is no
// library in the broker's dependency set that handles this format, so
// decryption falls back to the standard library's PEM/DES routines —
// the one stdlib-only path in this package (see DESIGN.md).
func LoadTLSConfig(certFile, keyFile, keyPassword string) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if keyPassword == `` {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	} else {
		cert, err = loadEncryptedKeyPair(certFile, keyFile, keyPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("tlsaccept: failed to load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func loadEncryptedKeyPair(certFile, keyFile, password string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, errors.New("tlsaccept: no PEM block found in key file")
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsaccept: failed to decrypt private key: %w", err)
	}
	decryptedPEM := pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	return tls.X509KeyPair(certPEM, decryptedPEM)
}

// Acceptor runs a plain TCP accept loop, wraps each connection for a
// server-side TLS handshake, and hands successfully handshaked
// connections to onAccept. A connection that fails to handshake is
// dropped silently, per §4.6.
type Acceptor struct {
	ln       net.Listener
	cfg      *tls.Config
	lg       *log.Logger
	onAccept func(net.Conn)
}

// NewAcceptor wraps ln (already bound and listening) with tlsConfig.
func NewAcceptor(ln net.Listener, tlsConfig *tls.Config, lg *log.Logger, onAccept func(net.Conn)) *Acceptor {
	return &Acceptor{ln: ln, cfg: tlsConfig, lg: lg, onAccept: onAccept}
}

// Serve runs the accept loop until ctx is canceled or the listener is
// closed. Each accepted connection is handshaked on its own goroutine
// so a slow or hostile peer cannot stall the acceptor.
func (a *Acceptor) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()
	for {
		raw, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go a.handshake(ctx, raw)
	}
}

func (a *Acceptor) handshake(ctx context.Context, raw net.Conn) {
	conn := tls.Server(raw, a.cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		if a.lg != nil {
			a.lg.Info("tls handshake failed", log.KV("remote", raw.RemoteAddr().String()), log.KVErr(err))
		}
		conn.Close()
		return
	}
	a.onAccept(conn)
}

// Addr returns the listener's bound address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }
