package hostexec

import (
	"context"
	"fmt"
	"io"

	sshtransport "github.com/agentforge/agentd/pkg/transports/ssh"
)

// remoteTransport bridges micro_runner/client.Transport onto an already
// connected SSH session, so the same micro-runner protocol that drives a
// local subprocess also drives one planted on a remote host.
type remoteTransport struct {
	ssh     sshtransport.Transport
	cleanup func() error
}

func newRemoteTransport(t sshtransport.Transport) *remoteTransport {
	return &remoteTransport{ssh: t}
}

func (t *remoteTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	return t.ssh.UploadFile(ctx, localPath, remotePath, 0o700)
}

func (t *remoteTransport) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	stdin, stdout, _, cleanup, err := t.ssh.StartInteractiveSession(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start remote session: %w", err)
	}

	if _, err := io.WriteString(stdin, remotePath+"\n"); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("failed to launch remote micro-runner: %w", err)
	}

	t.cleanup = cleanup
	return stdin, io.NopCloser(stdout), nil
}

func (t *remoteTransport) Cleanup(ctx context.Context, remotePath string) error {
	if t.cleanup != nil {
		_ = t.cleanup()
	}
	// The runner self-deletes once it sees its stdin closed; this is a
	// best-effort backstop for sessions that ended before it could.
	_, _, err := t.ssh.ExecuteCommand(ctx, "rm -f "+remotePath)
	return err
}
