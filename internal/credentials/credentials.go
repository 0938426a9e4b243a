// Package credentials provides secret storage for signed-in sessions using
// the OS-native keyring, with fallback to environment variables.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Source indicates where a secret was retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// ErrNotFound is returned by keyrings when no secret is stored
var ErrNotFound = errors.New("secret not found")

// SecretInfo is returned by Manager.Get
type SecretInfo struct {
	Source   Source
	Provider string // e.g. "google", "jwt"
	Account  string
	Secret   string
	Found    bool
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles secret operations
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		if k != nil {
			m.keyring = k
		}
	}
}

// WithEnv sets the environment lookup (for testing)
func WithEnv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// serviceName returns the keyring service name for a provider
func serviceName(provider string) string {
	return fmt.Sprintf("focuslist-%s", normalizeProvider(provider))
}

// EnvKey returns the environment variable consulted for provider,
// e.g. FOCUSLIST_JWT_TOKEN
func EnvKey(provider string) string {
	return fmt.Sprintf("FOCUSLIST_%s_TOKEN", strings.ToUpper(normalizeProvider(provider)))
}

// Set stores a secret in the keyring
func (m *Manager) Set(ctx context.Context, provider, account, secret string) error {
	return m.keyring.Set(serviceName(provider), account, secret)
}

// Get retrieves a secret, trying the keyring first and then the environment
func (m *Manager) Get(ctx context.Context, provider, account string) (*SecretInfo, error) {
	provider = normalizeProvider(provider)

	secret, err := m.keyring.Get(serviceName(provider), account)
	if err == nil && secret != "" {
		return &SecretInfo{
			Source:   SourceKeyring,
			Provider: provider,
			Account:  account,
			Secret:   secret,
			Found:    true,
		}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrKeyringNotAvailable) {
		return nil, err
	}

	if token := m.getenv(EnvKey(provider)); token != "" {
		return &SecretInfo{
			Source:   SourceEnvironment,
			Provider: provider,
			Account:  account,
			Secret:   token,
			Found:    true,
		}, nil
	}

	return &SecretInfo{
		Source:   SourceNone,
		Provider: provider,
		Account:  account,
	}, nil
}

// Delete removes a secret from the keyring. Deleting a missing secret is
// not an error.
func (m *Manager) Delete(ctx context.Context, provider, account string) error {
	err := m.keyring.Delete(serviceName(provider), account)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// =============================================================================
// Prompting
// =============================================================================

// TerminalReader reads a line without echo
type TerminalReader interface {
	ReadPassword() (string, error)
}

// stdinTerminal reads from a terminal file descriptor via x/term
type stdinTerminal struct {
	fd int
}

func (s stdinTerminal) ReadPassword() (string, error) {
	b, err := term.ReadPassword(s.fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NewTerminalReader returns a TerminalReader for r when r is a terminal,
// and nil otherwise
func NewTerminalReader(r io.Reader) TerminalReader {
	f, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return stdinTerminal{fd: int(f.Fd())}
}

// PromptSecret writes label and reads a secret. With a terminal reader the
// input is hidden; without one a single line is read from reader.
func PromptSecret(reader io.Reader, writer io.Writer, label string, tty TerminalReader) (string, error) {
	_, _ = fmt.Fprintf(writer, "%s: ", label)

	if tty != nil {
		secret, err := tty.ReadPassword()
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(secret), nil
	}

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
