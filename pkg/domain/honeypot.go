package domain

import (
	"fmt"
	"strings"
)

// SessionID identifies one accepted connection for its lifetime. IDs are
// handed out by a single counter and are never reused within a process.
type SessionID uint64

// ChannelID scopes a duplex stream within one connection.
type ChannelID uint32

// ChannelKey is the registry key for one (connection, channel) pair.
type ChannelKey struct {
	Session SessionID
	Channel ChannelID
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("%d/%d", k.Session, k.Channel)
}

// AuthStrategy selects how a connection answers authentication attempts.
type AuthStrategy string

const (
	AuthReject    AuthStrategy = "reject"
	AuthAcceptAny AuthStrategy = "accept-any"
	AuthAllowList AuthStrategy = "allow-list"
)

var AuthStrategies = []AuthStrategy{AuthReject, AuthAcceptAny, AuthAllowList}

func ParseAuthStrategy(s string) (AuthStrategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, strategy := range AuthStrategies {
		if string(strategy) == s {
			return strategy, nil
		}
	}
	return "", fmt.Errorf("unknown auth strategy %q (expected one of reject, accept-any, allow-list)", s)
}

func (a AuthStrategy) String() string {
	return string(a)
}

// Set implements pflag.Value
func (a *AuthStrategy) Set(s string) error {
	strategy, err := ParseAuthStrategy(s)
	if err != nil {
		return err
	}
	*a = strategy
	return nil
}

func (a *AuthStrategy) Type() string {
	return "strategy"
}

func (a AuthStrategy) MarshalText() ([]byte, error) {
	return []byte(a), nil
}

func (a *AuthStrategy) UnmarshalText(b []byte) error {
	return a.Set(string(b))
}

const (
	AuthMethodPassword            = "password"
	AuthMethodPublicKey           = "publickey"
	AuthMethodKeyboardInteractive = "keyboard-interactive"
)

// Credential is one authentication attempt as presented by the remote side.
// PublicKey holds the authorized_keys encoding of the offered key.
type Credential struct {
	User      string
	Method    string
	Password  string
	PublicKey string
}
