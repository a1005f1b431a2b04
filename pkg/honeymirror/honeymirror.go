// Package honeymirror wires the honeypot components together for the CLI
// commands.
package honeymirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/honeypot"
	"github.com/Rudd3r/honeymirror/pkg/metrics"
	"github.com/Rudd3r/honeymirror/pkg/registry"
	sshpkg "github.com/Rudd3r/honeymirror/pkg/ssh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const hostKeyFileName = "host_key"

type Mirror struct {
	ctx context.Context
	cfg *domain.Config
	log *slog.Logger
	out io.Writer
}

func NewMirror(ctx context.Context, log *slog.Logger, cfg *domain.Config, out io.Writer) *Mirror {
	return &Mirror{
		ctx: ctx,
		cfg: cfg,
		log: log,
		out: out,
	}
}

// Serve runs the honeypot, and the metrics endpoint when one is configured,
// until the context is cancelled or either of them fails.
func (m *Mirror) Serve(cmd *domain.CommandServe) error {
	cfg := *m.cfg
	applyServeOverrides(&cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	authorizer, err := honeypot.NewAuthorizer(cfg.AuthStrategy, cfg.AllowedPasswords, cfg.AuthorizedKeys)
	if err != nil {
		return fmt.Errorf("failed to build authorizer: %w", err)
	}

	reg, err := registry.New(cfg.Capacity)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	dispatcher := honeypot.NewDispatcher(m.log, reg, honeypot.Options{
		Authorizer:     authorizer,
		BroadcastRate:  cfg.BroadcastRate,
		BroadcastBurst: cfg.BroadcastBurst,
		Metrics:        metrics.New(promRegistry),
	})

	eg, ctx := errgroup.WithContext(m.ctx)
	server, err := sshpkg.NewServer(ctx, m.log, &cfg, dispatcher)
	if err != nil {
		return err
	}

	m.log.Info("starting honeypot",
		"strategy", authorizer.Strategy().String(),
		"capacity", cfg.Capacity,
		"idle_timeout", cfg.ConnectionTimeout)

	eg.Go(server.Start)
	if cfg.MetricsAddr != "" {
		eg.Go(func() error {
			return metrics.Serve(ctx, m.log, cfg.MetricsAddr, promRegistry)
		})
	}
	return eg.Wait()
}

// Connect opens an operator terminal on a running honeypot.
func (m *Mirror) Connect(cmd *domain.CommandConnect) error {
	clientCfg, err := m.clientConfig(cmd)
	if err != nil {
		return err
	}
	return sshpkg.Client(m.ctx, m.log, clientCfg)
}

func (m *Mirror) clientConfig(cmd *domain.CommandConnect) (*domain.SSHClientConfig, error) {
	host := cmd.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cmd.Port
	if port == 0 {
		port = m.cfg.ListenPort
	}
	user := cmd.User
	if user == "" {
		user = "root"
	}

	var auth []ssh.AuthMethod
	if cmd.IdentityFile != "" {
		keyPEM, err := os.ReadFile(cmd.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	auth = append(auth,
		ssh.Password(cmd.Password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = cmd.Password
			}
			return answers, nil
		}),
	)

	return &domain.SSHClientConfig{
		User:            user,
		Host:            host,
		Port:            port,
		EnableTTY:       true,
		Auth:            auth,
		HostKeyCallback: m.hostKeyCallback(),
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
	}, nil
}

// hostKeyCallback pins the local host key when one is configured. Any other
// key is accepted since the honeypot may be running with an ephemeral key.
func (m *Mirror) hostKeyCallback() ssh.HostKeyCallback {
	if m.cfg.HostKeyPath == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	keyPEM, err := os.ReadFile(m.cfg.HostKeyPath)
	if err != nil {
		m.log.Warn("cannot pin host key", "path", m.cfg.HostKeyPath, "error", err)
		return ssh.InsecureIgnoreHostKey()
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		m.log.Warn("cannot pin host key", "path", m.cfg.HostKeyPath, "error", err)
		return ssh.InsecureIgnoreHostKey()
	}
	return ssh.FixedHostKey(signer.PublicKey())
}

// Keygen writes a new host key and prints its fingerprint. An existing key is
// never overwritten.
func (m *Mirror) Keygen(cmd *domain.CommandKeygen) error {
	path, err := m.keyPath(cmd.Path)
	if err != nil {
		return err
	}
	if _, err = os.Stat(path); err == nil {
		return fmt.Errorf("host key already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat host key: %w", err)
	}

	keyPEM, err := sshpkg.GenerateHostKey()
	if err != nil {
		return err
	}
	if err = sshpkg.WriteHostKey(path, keyPEM); err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(m.out, "%s %s\n", path, ssh.FingerprintSHA256(signer.PublicKey()))
	return nil
}

// Fingerprint prints the SHA256 fingerprint of the host key at path, or of
// the configured host key.
func (m *Mirror) Fingerprint(cmd *domain.CommandKeygen) error {
	path, err := m.keyPath(cmd.Path)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return fmt.Errorf("failed to parse host key: %w", err)
	}
	_, _ = fmt.Fprintf(m.out, "%s\n", ssh.FingerprintSHA256(signer.PublicKey()))
	return nil
}

func (m *Mirror) keyPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if m.cfg.HostKeyPath != "" {
		return m.cfg.HostKeyPath, nil
	}
	dataDir, err := domain.UserDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, hostKeyFileName), nil
}

func applyServeOverrides(cfg *domain.Config, cmd *domain.CommandServe) {
	overrideIfSet(&cfg.ListenAddr, cmd.Addr)
	overrideIfSet(&cfg.ListenPort, cmd.Port)
	overrideIfSet(&cfg.Capacity, cmd.Capacity)
	overrideIfSet(&cfg.AuthStrategy, cmd.AuthStrategy)
	overrideIfSet(&cfg.MetricsAddr, cmd.MetricsAddr)
	overrideIfSet(&cfg.BroadcastRate, cmd.BroadcastRate)
	if len(cmd.AllowedPasswords) > 0 {
		passwords := maps.Clone(cfg.AllowedPasswords)
		if passwords == nil {
			passwords = make(map[string]string, len(cmd.AllowedPasswords))
		}
		maps.Copy(passwords, cmd.AllowedPasswords)
		cfg.AllowedPasswords = passwords
	}
	if cfg.BroadcastRate > 0 && cfg.BroadcastBurst < 1 {
		cfg.BroadcastBurst = max(1, int(cfg.BroadcastRate))
	}
}

func overrideIfSet[V comparable](dst *V, value V) {
	var zero V
	if value != zero {
		*dst = value
	}
}
