package ssh

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func clientConfig(ts *testServer, stdin string, stdout *syncBuffer) *domain.SSHClientConfig {
	return &domain.SSHClientConfig{
		User:            "operator",
		Host:            "127.0.0.1",
		Port:            ts.port,
		Auth:            []ssh.AuthMethod{ssh.Password("operator")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Stdin:           strings.NewReader(stdin),
		Stdout:          stdout,
		Stderr:          stdout,
	}
}

func TestClientEchoesInput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts := startTestServer(t, ctx, domain.DefaultCapacity, newAuthorizer(t, domain.AuthAcceptAny, nil))

	var stdout syncBuffer
	require.NoError(t, Client(ctx, testLogger(), clientConfig(ts, "ls -la\n", &stdout)))
	assert.Equal(t, "ls -la\n", stdout.String())
}

func TestClientSeesOtherParties(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts := startTestServer(t, ctx, domain.DefaultCapacity, newAuthorizer(t, domain.AuthAcceptAny, nil))

	intruder := openShell(t, ts, "intruder")

	var stdout syncBuffer
	reader, writer := io.Pipe()
	cfg := clientConfig(ts, "", &stdout)
	cfg.Stdin = reader

	errCh := make(chan error, 1)
	go func() { errCh <- Client(ctx, testLogger(), cfg) }()

	require.Eventually(t, func() bool { return ts.registry().Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	_, err := intruder.stdin.Write([]byte("whoami"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return stdout.String() == "whoami" }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, writer.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not return")
	}
}

func TestClientAuthenticationFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts := startTestServer(t, ctx, domain.DefaultCapacity, newAuthorizer(t, domain.AuthReject, nil))

	var stdout syncBuffer
	err := Client(ctx, testLogger(), clientConfig(ts, "", &stdout))
	assert.Error(t, err)
}

func TestClientConnectionRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stdout syncBuffer
	cfg := clientConfig(&testServer{port: freePort(t)}, "", &stdout)
	assert.Error(t, Client(ctx, testLogger(), cfg))
}

func TestClientContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := startTestServer(t, ctx, domain.DefaultCapacity, newAuthorizer(t, domain.AuthAcceptAny, nil))

	clientCtx, clientCancel := context.WithCancel(ctx)
	reader, writer := io.Pipe()
	defer func() { _ = writer.Close() }()

	var stdout syncBuffer
	cfg := clientConfig(ts, "", &stdout)
	cfg.Stdin = reader

	errCh := make(chan error, 1)
	go func() { errCh <- Client(clientCtx, testLogger(), cfg) }()

	require.Eventually(t, func() bool { return ts.registry().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	clientCancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client ignored cancellation")
	}
}
