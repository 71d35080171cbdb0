package gate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

var (
	ErrNotResolved = errors.New("not provided by host")
	ErrNoTerminal  = errors.New("no terminal available for prompt")
)

const defaultShell = "/bin/sh"

// EnvSession reads the attempt from the environment pam_exec or an sshd
// ForceCommand provides and prompts on the controlling terminal. pam_exec
// only has a terminal in tty contexts (sudo, su, console login); sshd runs
// PAM auth without one, so SSH logins go through ForceCommand instead.
type EnvSession struct {
	lookup   func(string) (string, bool)
	prompt   func(string) (string, error)
	terminal func() bool
}

func NewEnvSession() *EnvSession {
	return &EnvSession{lookup: os.LookupEnv, prompt: promptTerminal, terminal: terminalAvailable}
}

// HasTerminal reports whether PromptSecret can reach a human at all.
func (s *EnvSession) HasTerminal() bool {
	return s.terminal()
}

func (s *EnvSession) RemoteHost() (string, error) {
	if host := s.get("PAM_RHOST"); host != "" {
		return host, nil
	}
	// SSH_CONNECTION / SSH_CLIENT start with the client address.
	for _, name := range []string{"SSH_CONNECTION", "SSH_CLIENT"} {
		if fields := strings.Fields(s.get(name)); len(fields) > 0 {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("remote host: %w", ErrNotResolved)
}

func (s *EnvSession) User() (string, error) {
	for _, name := range []string{"PAM_USER", "USER"} {
		if user := s.get(name); user != "" {
			return user, nil
		}
	}
	return "", fmt.Errorf("user: %w", ErrNotResolved)
}

func (s *EnvSession) Service() (string, error) {
	if service := s.get("PAM_SERVICE"); service != "" {
		return service, nil
	}
	// Under ForceCommand there is no PAM service; sshd set up the session.
	if s.get("SSH_CONNECTION") != "" || s.get("SSH_CLIENT") != "" {
		return "sshd", nil
	}
	return "", fmt.Errorf("service: %w", ErrNotResolved)
}

func (s *EnvSession) Getenv(name string) (string, bool) {
	return s.lookup(name)
}

func (s *EnvSession) PromptSecret(prompt string) (string, error) {
	return s.prompt(prompt)
}

// LoginCommand is what a ForceCommand session runs once the gate allows it:
// the requested remote command through the user's shell, or a login shell.
func (s *EnvSession) LoginCommand() (string, []string) {
	shell := s.get("SHELL")
	if shell == "" {
		shell = defaultShell
	}
	if command := s.get("SSH_ORIGINAL_COMMAND"); command != "" {
		return shell, []string{filepath.Base(shell), "-c", command}
	}
	return shell, []string{"-" + filepath.Base(shell)}
}

func (s *EnvSession) get(name string) string {
	value, _ := s.lookup(name)
	return strings.TrimSpace(value)
}

func promptTerminal(prompt string) (string, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err == nil {
		defer tty.Close()
		return readSecret(tty, int(tty.Fd()), prompt)
	}

	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return "", ErrNoTerminal
	}
	return readSecret(os.Stderr, stdin, prompt)
}

func terminalAvailable() bool {
	if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		_ = tty.Close()
		return true
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func readSecret(out io.Writer, fd int, prompt string) (string, error) {
	if _, err := io.WriteString(out, prompt); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	secret, err := term.ReadPassword(fd)
	_, _ = io.WriteString(out, "\n")
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	return string(secret), nil
}
