package gate

import "context"

const (
	unknown        = "unknown"
	sudoService    = "sudo"
	sudoCommandEnv = "SUDO_COMMAND"
	codePrompt     = "Verification Code: "
)

// Session is the host's view of one authentication event.
type Session interface {
	RemoteHost() (string, error)
	User() (string, error)
	Service() (string, error)
	Getenv(name string) (string, bool)
	// PromptSecret asks the human for input without echoing it.
	PromptSecret(prompt string) (string, error)
}

// Module is the contract a host authentication stack loads.
type Module interface {
	Authenticate(ctx context.Context, session Session) Outcome
	SetCredentials(session Session) Outcome
}

// LoginAttempt is what the gate knows about the caller. It lives for one
// Authenticate call.
type LoginAttempt struct {
	Username string
	Address  string
	Service  string
	Command  *string
}

func resolve(get func() (string, error)) string {
	value, err := get()
	if err != nil || value == "" {
		return unknown
	}
	return value
}

func newLoginAttempt(session Session) LoginAttempt {
	attempt := LoginAttempt{
		Address:  resolve(session.RemoteHost),
		Username: resolve(session.User),
		Service:  resolve(session.Service),
	}
	if attempt.Service == sudoService {
		if command, ok := session.Getenv(sudoCommandEnv); ok {
			attempt.Command = &command
		}
	}
	return attempt
}
