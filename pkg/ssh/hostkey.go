package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"golang.org/x/crypto/ssh"
)

// GenerateHostKey returns a new ed25519 private key in OpenSSH PEM form.
func GenerateHostKey() ([]byte, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// LoadOrGenerateHostKey reads the host key at path, creating it first if it
// does not exist. An empty path yields a key that lives only in memory.
func LoadOrGenerateHostKey(log *slog.Logger, path string) (ssh.Signer, error) {
	if path == "" {
		keyPEM, err := GenerateHostKey()
		if err != nil {
			return nil, err
		}
		log.Info("using ephemeral host key")
		return ssh.ParsePrivateKey(keyPEM)
	}

	keyPEM, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		keyPEM, err = GenerateHostKey()
		if err != nil {
			return nil, err
		}
		if err = WriteHostKey(path, keyPEM); err != nil {
			return nil, err
		}
		log.Info("generated new host key", "path", path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host key %s: %w", path, err)
	}
	return signer, nil
}

func WriteHostKey(path string, keyPEM []byte) error {
	if err := domain.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write host key: %w", err)
	}
	return nil
}
