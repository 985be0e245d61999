package connection

import (
	"context"
	"io"
	"log"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// tunnel forwards a local ephemeral port to the database host through SSH
type tunnel struct {
	client   *ssh.Client
	listener net.Listener
	target   string

	wg   sync.WaitGroup
	once sync.Once
}

func (r *Resolver) openTunnel(ctx context.Context, p Params) (*tunnel, error) {
	client, err := DialSSH(ctx, p, r.SSHTimeout)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, outcome.Wrap(outcome.Connectivity, err, "Cannot open local tunnel port")
	}

	t := &tunnel{
		client:   client,
		listener: listener,
		target:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	t.wg.Add(1)
	go t.accept()

	log.Printf("connection: tunnel 127.0.0.1:%d -> %s via %s", t.localPort(), t.target, p.SSHHost)
	return t, nil
}

func (t *tunnel) localPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

func (t *tunnel) accept() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.target)
	if err != nil {
		log.Printf("connection: tunnel dial %s: %v", t.target, err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// Close stops accepting, closes the SSH client and waits for forwards to drain
func (t *tunnel) Close() error {
	var err error
	t.once.Do(func() {
		t.listener.Close()
		err = t.client.Close()
		t.wg.Wait()
	})
	return err
}
