package honeypot

import (
	"fmt"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"golang.org/x/crypto/ssh"
)

// Authorizer evaluates credentials for one AuthStrategy.
type Authorizer struct {
	strategy  domain.AuthStrategy
	passwords map[string]string
	keys      map[string][]ssh.PublicKey
}

// NewAuthorizer builds the evaluator for strategy. The password and key maps
// are only used by the allow-list strategy; keys are authorized_keys lines.
func NewAuthorizer(strategy domain.AuthStrategy, passwords map[string]string, authorizedKeys map[string][]string) (*Authorizer, error) {
	if _, err := domain.ParseAuthStrategy(string(strategy)); err != nil {
		return nil, err
	}
	a := &Authorizer{
		strategy:  strategy,
		passwords: passwords,
		keys:      make(map[string][]ssh.PublicKey),
	}
	for user, lines := range authorizedKeys {
		for _, line := range lines {
			key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
			if err != nil {
				return nil, fmt.Errorf("parse authorized key for %s: %w", user, err)
			}
			a.keys[user] = append(a.keys[user], key)
		}
	}
	return a, nil
}

func (a *Authorizer) Strategy() domain.AuthStrategy {
	return a.strategy
}

// Allow reports whether cred is accepted.
func (a *Authorizer) Allow(cred domain.Credential) bool {
	switch a.strategy {
	case domain.AuthAcceptAny:
		return true
	case domain.AuthAllowList:
		return a.allowListed(cred)
	default:
		return false
	}
}

func (a *Authorizer) allowListed(cred domain.Credential) bool {
	switch cred.Method {
	case domain.AuthMethodPassword, domain.AuthMethodKeyboardInteractive:
		expected, ok := a.passwords[cred.User]
		return ok && expected == cred.Password
	case domain.AuthMethodPublicKey:
		offered, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cred.PublicKey))
		if err != nil {
			return false
		}
		for _, key := range a.keys[cred.User] {
			if keysEqual(key, offered) {
				return true
			}
		}
	}
	return false
}

func keysEqual(a, b ssh.PublicKey) bool {
	return a.Type() == b.Type() && string(a.Marshal()) == string(b.Marshal())
}
