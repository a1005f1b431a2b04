package domain

import (
	"io"

	"golang.org/x/crypto/ssh"
)

type CommandServe struct {
	Addr          string
	Port          int
	Capacity      int
	AuthStrategy  AuthStrategy
	MetricsAddr   string
	BroadcastRate float64

	// Added to the configured allow-list, username -> password.
	AllowedPasswords map[string]string
}

type CommandConnect struct {
	Host         string
	Port         int
	User         string
	Password     string
	IdentityFile string
}

type CommandKeygen struct {
	Path string
}

type SSHClientConfig struct {
	User            string
	Host            string
	Port            int
	EnableTTY       bool
	Auth            []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback
	Stderr          io.Writer
	Stdout          io.Writer
	Stdin           io.Reader
}
