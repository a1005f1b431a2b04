package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/honeypot"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	// Looks like a stock Debian sshd to scanners.
	defaultServerVersion = "SSH-2.0-OpenSSH_9.2p1 Debian-2+deb12u3"

	readBufferSize = 32 * 1024
)

// serverConfig is the internal configuration for the SSH server
type serverConfig struct {
	Addr               string
	Port               int
	HostKeys           []ssh.Signer
	ServerVersion      string
	HandshakeTimeout   time.Duration
	ConnectionTimeout  time.Duration
	AuthRejectionDelay time.Duration
	MaxAuthTries       int
	QueueDepth         int
}

// Server accepts SSH connections and hands each one to a honeypot session.
type Server struct {
	cfg        *serverConfig
	ctx        context.Context
	log        *slog.Logger
	dispatcher *honeypot.Dispatcher
	listener   net.Listener
	wg         sync.WaitGroup
}

func newServer(ctx context.Context, log *slog.Logger, cfg *serverConfig, dispatcher *honeypot.Dispatcher) *Server {
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = defaultServerVersion
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = domain.DefaultQueueDepth
	}
	return &Server{
		cfg:        cfg,
		ctx:        ctx,
		log:        log,
		dispatcher: dispatcher,
	}
}

// NewServer creates a server from the application config. The host key is
// loaded from cfg.HostKeyPath, generated there if missing, or generated in
// memory when no path is configured.
func NewServer(ctx context.Context, log *slog.Logger, cfg *domain.Config, dispatcher *honeypot.Dispatcher) (*Server, error) {
	hostKey, err := LoadOrGenerateHostKey(log, cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load host key: %w", err)
	}

	return newServer(ctx, log, &serverConfig{
		Addr:               cfg.ListenAddr,
		Port:               cfg.ListenPort,
		HostKeys:           []ssh.Signer{hostKey},
		HandshakeTimeout:   cfg.HandshakeTimeout,
		ConnectionTimeout:  cfg.ConnectionTimeout,
		AuthRejectionDelay: cfg.AuthRejectionDelay,
		MaxAuthTries:       cfg.MaxAuthTries,
		QueueDepth:         cfg.QueueDepth,
	}, dispatcher), nil
}

// Start listens and serves until the server context is cancelled.
func (s *Server) Start() error {
	if len(s.cfg.HostKeys) == 0 {
		return errors.New("no host keys configured")
	}

	addr := net.JoinHostPort(s.cfg.Addr, strconv.Itoa(s.cfg.Port))
	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("failed to listen", "addr", addr, "error", err)
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.log.Info("honeypot listening", "addr", s.listener.Addr().String(), "capacity", s.dispatcher.Registry().Cap())
	go s.acceptConnections()

	<-s.ctx.Done()
	s.log.Info("shutting down SSH server")

	if err := s.listener.Close(); err != nil {
		s.log.Error("error closing listener", "error", err)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	session := s.dispatcher.NewSession(conn.RemoteAddr())
	defer session.Close()
	log := session.Logger()

	var transport net.Conn = conn
	if s.cfg.ConnectionTimeout > 0 {
		transport = &idleTimeoutConn{Conn: conn, timeout: s.cfg.ConnectionTimeout}
	}

	var handshakeTimer *time.Timer
	if s.cfg.HandshakeTimeout > 0 {
		handshakeTimer = time.AfterFunc(s.cfg.HandshakeTimeout, func() { _ = conn.Close() })
	}
	sshConn, chans, reqs, err := ssh.NewServerConn(transport, s.sshConfig(session))
	if handshakeTimer != nil {
		handshakeTimer.Stop()
	}
	if err != nil {
		log.Info("handshake failed", "error", err)
		return
	}
	defer func() { _ = sshConn.Close() }()

	log.Info("handshake complete", "user", sshConn.User(), "client", string(sshConn.ClientVersion()))

	go s.handleGlobalRequests(log, reqs)

	var wg sync.WaitGroup
	var next domain.ChannelID
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			channel, requests, err := newChannel.Accept()
			if err != nil {
				log.Error("failed to accept channel", "error", err)
				continue
			}
			id := next
			next++
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleSession(session, id, channel, requests)
			}()

		case "direct-tcpip":
			log.Info("refusing port forward")
			_ = newChannel.Reject(ssh.Prohibited, "administratively prohibited")

		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
	wg.Wait()
	log.Info("connection closed")
}

// sshConfig builds the per-connection server config so the auth callbacks
// report to the connection's own session.
func (s *Server) sshConfig(session *honeypot.Session) *ssh.ServerConfig {
	config := &ssh.ServerConfig{
		ServerVersion: s.cfg.ServerVersion,
		MaxAuthTries:  s.cfg.MaxAuthTries,
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return s.authenticate(session, domain.Credential{
				User:     conn.User(),
				Method:   domain.AuthMethodPassword,
				Password: string(password),
			})
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return s.authenticate(session, domain.Credential{
				User:      conn.User(),
				Method:    domain.AuthMethodPublicKey,
				PublicKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))),
			})
		},
		KeyboardInteractiveCallback: func(conn ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := client(conn.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			var password string
			if len(answers) > 0 {
				password = answers[0]
			}
			return s.authenticate(session, domain.Credential{
				User:     conn.User(),
				Method:   domain.AuthMethodKeyboardInteractive,
				Password: password,
			})
		},
	}
	for _, key := range s.cfg.HostKeys {
		config.AddHostKey(key)
	}
	return config
}

func (s *Server) authenticate(session *honeypot.Session, cred domain.Credential) (*ssh.Permissions, error) {
	if err := session.Authenticate(cred); err != nil {
		if s.cfg.AuthRejectionDelay > 0 {
			select {
			case <-time.After(s.cfg.AuthRejectionDelay):
			case <-s.ctx.Done():
			}
		}
		return nil, err
	}
	return &ssh.Permissions{}, nil
}

// handleSession serves one session channel. The channel is registered for
// broadcasts as soon as it is open; its handle starts writing once the client
// asks for a terminal, shell or command.
func (s *Server) handleSession(session *honeypot.Session, id domain.ChannelID, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer func() { _ = channel.Close() }()
	log := session.Logger().With("channel", id)

	handle := newChannelHandle(channel, s.cfg.QueueDepth)
	defer handle.Close()

	if err := session.OpenChannel(id, handle); err != nil {
		log.Warn("failed to register channel", "error", err)
		return
	}
	defer session.CloseChannel(id)

	var readDone chan struct{}
	startReading := func() {
		if readDone != nil {
			return
		}
		done := make(chan struct{})
		readDone = done
		go func() {
			defer close(done)
			s.readLoop(log, session, id, channel)
		}()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-readDone:
			return
		case req, ok := <-requests:
			if !ok {
				return
			}

			switch req.Type {
			case "pty-req":
				ptyReq := &ptyRequestMsg{}
				if err := ssh.Unmarshal(req.Payload, ptyReq); err != nil {
					log.Debug("failed to parse pty-req", "error", err)
					_ = req.Reply(false, nil)
					continue
				}
				log.Info("pty requested", "term", ptyReq.Term, "width", ptyReq.Width, "height", ptyReq.Height)
				handle.Start()
				_ = req.Reply(true, nil)

			case "env", "window-change":
				_ = req.Reply(true, nil)

			case "shell":
				handle.Start()
				startReading()
				_ = req.Reply(true, nil)

			case "exec":
				execReq := &execRequestMsg{}
				if err := ssh.Unmarshal(req.Payload, execReq); err != nil {
					log.Debug("failed to parse exec", "error", err)
					_ = req.Reply(false, nil)
					continue
				}
				log.Info("exec requested", "command", execReq.Command)
				handle.Start()
				_ = req.Reply(true, nil)
				if err := session.Data(s.ctx, id, []byte(execReq.Command+"\r\n")); err != nil {
					log.Debug("failed to mirror exec", "error", err)
				}
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatusMsg{Status: 0}))
				return

			case "subsystem":
				subsysReq := &subsystemRequestMsg{}
				if err := ssh.Unmarshal(req.Payload, subsysReq); err != nil {
					log.Debug("failed to parse subsystem", "error", err)
					_ = req.Reply(false, nil)
					continue
				}
				if subsysReq.Subsystem != "sftp" || readDone != nil {
					log.Info("refusing subsystem", "name", subsysReq.Subsystem)
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				// The sftp stream must not see broadcast bytes.
				session.CloseChannel(id)
				handle.Abort()
				s.serveSFTP(log, session, channel)
				return

			default:
				log.Debug("unknown request type", "type", req.Type)
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
			}
		}
	}
}

func (s *Server) readLoop(log *slog.Logger, session *honeypot.Session, id domain.ChannelID, channel ssh.Channel) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			if err := session.Data(s.ctx, id, buf[:n]); err != nil {
				log.Debug("broadcast failed", "error", err)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("channel read failed", "error", err)
			}
			return
		}
	}
}

func (s *Server) serveSFTP(log *slog.Logger, session *honeypot.Session, channel ssh.Channel) {
	log.Info("sftp subsystem started")
	server := sftp.NewRequestServer(channel, session.Filesystem())
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("sftp server stopped", "error", err)
	}
	_ = server.Close()
	log.Info("sftp subsystem finished")
}

func (s *Server) handleGlobalRequests(log *slog.Logger, reqs <-chan *ssh.Request) {
	for req := range reqs {
		log.Debug("refusing global request", "type", req.Type)
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
	}
}

// idleTimeoutConn closes the connection when the client has been silent for
// longer than timeout.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

type ptyRequestMsg struct {
	Term     string
	Width    uint32
	Height   uint32
	WidthPx  uint32
	HeightPx uint32
	Modes    string
}

type execRequestMsg struct {
	Command string
}

type subsystemRequestMsg struct {
	Subsystem string
}

type exitStatusMsg struct {
	Status uint32
}
