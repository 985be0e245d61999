package connection

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// Endpoint is a reachable database address plus credentials. Close must be
// called once the operation using it finishes.
type Endpoint struct {
	Engine   metadata.Engine
	Host     string
	Port     int
	Username string
	Password string
	Database string
	// Tunneled is set when Host/Port is the local side of an SSH forward
	Tunneled bool

	closer func() error
}

// Address returns host:port
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Close releases the tunnel, if any. It is safe to call more than once.
func (e *Endpoint) Close() error {
	if e == nil || e.closer == nil {
		return nil
	}
	err := e.closer()
	e.closer = nil
	return err
}

// Resolver turns Params into an Endpoint
type Resolver struct {
	SSHTimeout time.Duration
}

// NewResolver creates a resolver with the given SSH connect timeout
func NewResolver(sshTimeout time.Duration) *Resolver {
	return &Resolver{SSHTimeout: sshTimeout}
}

// Resolve validates p and, for tunneled profiles, opens the SSH forward
func (r *Resolver) Resolve(ctx context.Context, p Params) (*Endpoint, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ep := &Endpoint{
		Engine:   p.Engine,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Database: p.Database,
	}
	if !p.Tunneled() {
		return ep, nil
	}

	t, err := r.openTunnel(ctx, p)
	if err != nil {
		return nil, err
	}
	ep.Host = "127.0.0.1"
	ep.Port = t.localPort()
	ep.Tunneled = true
	ep.closer = t.Close
	return ep, nil
}

// With resolves p, runs fn and always tears the tunnel down afterwards
func (r *Resolver) With(ctx context.Context, p Params, fn func(*Endpoint) error) error {
	ep, err := r.Resolve(ctx, p)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ep.Close(); cerr != nil {
			log.Printf("connection: closing tunnel to %s: %v", p.SSHHost, cerr)
		}
	}()
	return fn(ep)
}

// sshAuth prefers the password and falls back to the key file
func sshAuth(p Params) ([]ssh.AuthMethod, error) {
	if p.SSHPassword != "" {
		return []ssh.AuthMethod{ssh.Password(p.SSHPassword)}, nil
	}

	key, err := os.ReadFile(p.SSHKeyFile)
	if err != nil {
		return nil, outcome.Wrap(outcome.Configuration, err, "Cannot read SSH key file")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, outcome.Wrap(outcome.Configuration, err, "Invalid SSH key file")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// DialSSH opens an authenticated SSH client for the tunnel host in p
func DialSSH(ctx context.Context, p Params, timeout time.Duration) (*ssh.Client, error) {
	auth, err := sshAuth(p)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(p.SSHHost, strconv.Itoa(p.SSHPort))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, outcome.Wrap(outcome.Connectivity, err, fmt.Sprintf("SSH connection to %s failed", addr))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            p.SSHUsername,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	})
	if err != nil {
		conn.Close()
		return nil, outcome.Wrap(outcome.Connectivity, errors.Wrap(err, "SSH handshake failed"), "")
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}
