package args

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseHostPort splits HOST[:PORT]. IPv6 hosts with a port must be bracketed.
func ParseHostPort(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("empty address")
	}
	if !strings.Contains(s, ":") || (strings.Count(s, ":") > 1 && !strings.HasPrefix(s, "[")) {
		return s, 0, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %s: %w", s, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid address %s: missing host", s)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	if port == 0 {
		return 0, fmt.Errorf("port number out of range: %d (must be 1-65535)", port)
	}
	return int(port), nil
}

// CredentialsValue collects USER:PASSWORD pairs for the allow-list strategy.
type CredentialsValue struct {
	creds *map[string]string
}

func NewCredentialsValue(creds *map[string]string) *CredentialsValue {
	return &CredentialsValue{creds: creds}
}

func (c *CredentialsValue) Set(val string) error {
	user, password, ok := strings.Cut(val, ":")
	if !ok || user == "" {
		return fmt.Errorf("invalid credential format: %s (expected user:password)", val)
	}
	if *c.creds == nil {
		*c.creds = make(map[string]string)
	}
	(*c.creds)[user] = password
	return nil
}

func (c *CredentialsValue) Type() string {
	return "credential"
}

func (c *CredentialsValue) String() string {
	if c.creds == nil || len(*c.creds) == 0 {
		return ""
	}
	users := make([]string, 0, len(*c.creds))
	for user := range *c.creds {
		users = append(users, user+":***")
	}
	return strings.Join(users, ",")
}
