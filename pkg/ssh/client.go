package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"golang.org/x/crypto/ssh"
	terminal "golang.org/x/term"
)

const clientDialTimeout = 10 * time.Second

// Client opens an interactive shell on a honeypot and wires it to the
// configured stdio. It returns when the remote side closes the session or ctx
// is cancelled.
func Client(ctx context.Context, log *slog.Logger, cfg *domain.SSHClientConfig) error {

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: clientDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	connection, chans, reqs, err := ssh.NewClientConn(
		conn,
		addr,
		&ssh.ClientConfig{
			User:            cfg.User,
			Auth:            cfg.Auth,
			HostKeyCallback: cfg.HostKeyCallback,
			Timeout:         clientDialTimeout,
		},
	)
	if err != nil {
		_ = conn.Close()
		return err
	}
	sshClient := ssh.NewClient(connection, chans, reqs)
	defer func() { _ = sshClient.Close() }()

	sshSession, err := sshClient.NewSession()
	if err != nil {
		return err
	}
	defer func() { _ = sshSession.Close() }()

	sshSession.Stdout = cfg.Stdout
	sshSession.Stderr = cfg.Stderr
	if cfg.Stdin != nil {
		sshSession.Stdin = cfg.Stdin
	}

	if cfg.EnableTTY {
		restore, err := requestTerminal(log, sshSession)
		if err != nil {
			return err
		}
		defer restore()
	}

	if err = sshSession.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	if err = sshSession.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) || errors.Is(err, io.EOF) {
			return nil
		}
		if errors.As(err, &exitErr) && exitErr.ExitStatus() == 130 {
			return nil
		}
		return err
	}
	log.Debug("session finished", "addr", addr)
	return nil
}

// requestTerminal puts the local terminal into raw mode and asks the server
// for a matching PTY. It is a no-op when stdin is not a terminal.
func requestTerminal(log *slog.Logger, sshSession *ssh.Session) (func(), error) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return func() {}, nil
	}

	state, err := terminal.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("terminal make raw: %w", err)
	}

	width, height, err := terminal.GetSize(fd)
	if err != nil {
		_ = terminal.Restore(fd, state)
		return nil, fmt.Errorf("terminal get size: %w", err)
	}

	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm-256color"
	}

	if err = sshSession.RequestPty(
		term,
		height,
		width,
		ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		},
	); err != nil {
		_ = terminal.Restore(fd, state)
		return nil, err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	go func() {
		for range sigChan {
			newWidth, newHeight, err := terminal.GetSize(fd)
			if err != nil {
				log.Error("terminal get size", "error", err)
				continue
			}
			if newWidth == width && newHeight == height {
				continue
			}
			width, height = newWidth, newHeight
			if err = sshSession.WindowChange(height, width); err != nil {
				log.Error("terminal change size", "error", err)
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(sigChan)
		_ = terminal.Restore(fd, state)
	}, nil
}
