package gate

// Outcome is the gate's verdict for one login attempt. The host maps it to
// its own continue / reject / abort result.
type Outcome int

const (
	Allow Outcome = iota
	Deny
	ServiceError
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case ServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// ExitCode is the status a process-based host (pam_exec, ForceCommand)
// expects.
func (o Outcome) ExitCode() int {
	switch o {
	case Allow:
		return 0
	case Deny:
		return 1
	default:
		return 2
	}
}
