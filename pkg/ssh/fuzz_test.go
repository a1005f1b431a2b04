package ssh

import (
	"context"
	"net"
	"testing"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/honeypot"
	"github.com/Rudd3r/honeymirror/pkg/registry"
	"golang.org/x/crypto/ssh"
)

// FuzzPtyRequestUnmarshal fuzzes the decoding of pty-req payloads
func FuzzPtyRequestUnmarshal(f *testing.F) {
	if testing.Short() {
		f.Skipf("skipping in short mode")
	}
	f.Add([]byte("xterm-256color"), uint32(80), uint32(24), uint32(0), uint32(0), "")
	f.Add([]byte("vt100"), uint32(1), uint32(1), uint32(1), uint32(1), "\x00\x01")
	f.Add([]byte(""), uint32(0), uint32(0), uint32(0), uint32(0), "")

	f.Fuzz(func(t *testing.T, term []byte, width, height, widthPx, heightPx uint32, modes string) {
		msg := &ptyRequestMsg{
			Term:     string(term),
			Width:    width,
			Height:   height,
			WidthPx:  widthPx,
			HeightPx: heightPx,
			Modes:    modes,
		}

		var decoded ptyRequestMsg
		if err := ssh.Unmarshal(ssh.Marshal(msg), &decoded); err != nil {
			t.Fatalf("failed to decode marshalled pty-req: %v", err)
		}
		if decoded != *msg {
			t.Errorf("pty-req mismatch: got %+v, want %+v", decoded, *msg)
		}
	})
}

// FuzzRequestPayloads feeds arbitrary bytes to the request decoders the
// server uses; none of them may panic.
func FuzzRequestPayloads(f *testing.F) {
	if testing.Short() {
		f.Skipf("skipping in short mode")
	}
	f.Add(ssh.Marshal(&execRequestMsg{Command: "uname -a"}))
	f.Add(ssh.Marshal(&subsystemRequestMsg{Subsystem: "sftp"}))
	f.Add([]byte{0, 0, 0, 10, 'x'})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, payload []byte) {
		_ = ssh.Unmarshal(payload, &ptyRequestMsg{})
		_ = ssh.Unmarshal(payload, &execRequestMsg{})
		_ = ssh.Unmarshal(payload, &subsystemRequestMsg{})
	})
}

// FuzzPasswordCallback checks that the allow-list accepts exactly the
// configured credential.
func FuzzPasswordCallback(f *testing.F) {
	if testing.Short() {
		f.Skipf("skipping in short mode")
	}
	f.Add("root", "toor")
	f.Add("root", "")
	f.Add("", "toor")
	f.Add("admin", "admin\x00")

	auth, err := honeypot.NewAuthorizer(domain.AuthAllowList, map[string]string{"root": "toor"}, nil)
	if err != nil {
		f.Fatal(err)
	}
	reg, err := registry.New(1)
	if err != nil {
		f.Fatal(err)
	}
	log := testLogger()
	dispatcher := honeypot.NewDispatcher(log, reg, honeypot.Options{Authorizer: auth})
	server := newServer(context.Background(), log, &serverConfig{}, dispatcher)

	f.Fuzz(func(t *testing.T, user, password string) {
		session := dispatcher.NewSession(nil)
		defer session.Close()

		config := server.sshConfig(session)
		_, err := config.PasswordCallback(&mockConnMetadata{user: user}, []byte(password))

		want := user == "root" && password == "toor"
		if (err == nil) != want {
			t.Errorf("user %q password %q: accepted=%v, want %v", user, password, err == nil, want)
		}
	})
}

type mockAddr struct {
	addr string
}

func (m *mockAddr) Network() string { return "tcp" }
func (m *mockAddr) String() string  { return m.addr }

type mockConnMetadata struct {
	user string
}

func (m *mockConnMetadata) User() string          { return m.user }
func (m *mockConnMetadata) SessionID() []byte     { return []byte("test-session") }
func (m *mockConnMetadata) ClientVersion() []byte { return []byte("SSH-2.0-Test") }
func (m *mockConnMetadata) ServerVersion() []byte { return []byte("SSH-2.0-Test") }
func (m *mockConnMetadata) RemoteAddr() net.Addr  { return &mockAddr{addr: "127.0.0.1:12345"} }
func (m *mockConnMetadata) LocalAddr() net.Addr   { return &mockAddr{addr: "127.0.0.1:22"} }
