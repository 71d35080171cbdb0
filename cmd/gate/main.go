package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"login-gate/internal/auth"
	"login-gate/internal/challenge"
	"login-gate/internal/gate"
	"login-gate/internal/observability"
)

const defaultEnvFile = "/etc/login-gate/gate.env"

type config struct {
	ServiceURL   string
	Timeout      time.Duration
	SharedSecret string
	SentryDSN    string
	LogLevel     observability.Level
}

var (
	envFile      string
	serviceURL   string
	timeout      time.Duration
	sharedSecret string
)

// hostSession is the gate.Session the binary runs against, plus what the
// host binding needs before prompting and after allowing.
type hostSession interface {
	gate.Session
	HasTerminal() bool
	LoginCommand() (string, []string)
}

var (
	openSession = func() hostSession { return gate.NewEnvSession() }
	execShell   = syscall.Exec
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if rec := recover(); rec != nil {
			code = gate.ServiceError.ExitCode()
		}
	}()

	outcome := gate.ServiceError
	if err := newRootCmd(&outcome).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "login-gate:", err)
		return gate.ServiceError.ExitCode()
	}
	return outcome.ExitCode()
}

func newRootCmd(outcome *gate.Outcome) *cobra.Command {
	authenticate := func(cmd *cobra.Command, args []string) error {
		var err error
		*outcome, err = runAuth(cmd, openSession())
		return err
	}

	rootCmd := &cobra.Command{
		Use:   "login-gate",
		Short: "Second-factor gate for PAM logins",
		Long: "Sends a one-time code to the configured Telegram recipients and asks for it on the terminal.\n\n" +
			"pam_exec mode (auth required pam_exec.so stdout /usr/local/bin/login-gate) only works where PAM\n" +
			"runs with a controlling terminal: sudo, su and console login. sshd runs PAM auth without a\n" +
			"terminal, so for SSH use ForceCommand mode instead (sshd_config: ForceCommand /usr/local/bin/login-gate session).\n" +
			"Without a terminal the gate exits with a service error and places no ban.\n\n" +
			"Exit status: 0 allow, 1 deny, 2 service error.",
		RunE:          authenticate,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "file with GATE_* settings (optional)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service-url", "", "notification service base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "bound for each call to the notification service (default 5s)")
	rootCmd.PersistentFlags().StringVar(&sharedSecret, "shared-secret", "", "secret for signing service requests")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "auth",
		Short: "Authenticate the current PAM session (default)",
		RunE:  authenticate,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "session",
		Short: "sshd ForceCommand: authenticate, then run the login shell or the requested command",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			*outcome, err = runSession(cmd, openSession())
			return err
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "setcred",
		Short: "Credential setup hook; always succeeds",
		Run: func(cmd *cobra.Command, args []string) {
			*outcome = gate.New(nil, nil, nil).SetCredentials(gate.NewEnvSession())
		},
	})
	return rootCmd
}

func runAuth(cmd *cobra.Command, session hostSession) (gate.Outcome, error) {
	logger := observability.NewLoggerTo(os.Stderr).With(map[string]any{"component": "gate"})

	if !session.HasTerminal() {
		logger.Error("no_terminal", map[string]any{
			"error": gate.ErrNoTerminal.Error(),
			"hint":  "use 'login-gate session' as the sshd ForceCommand",
		})
		return gate.ServiceError, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return gate.ServiceError, err
	}
	logger = logger.WithLevel(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, "gate"); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}
	defer observability.FlushSentry()

	client := gate.NewClient(cfg.ServiceURL, cfg.Timeout)
	if cfg.SharedSecret != "" {
		hostname, _ := os.Hostname()
		client.WithSigner(auth.NewSigner(cfg.SharedSecret), hostname)
	}

	g := gate.New(client, challenge.New(), logger)
	outcome := g.Authenticate(context.Background(), session)
	g.Wait()
	return outcome, nil
}

// runSession gates an SSH session from ForceCommand and, once allowed,
// replaces itself with the user's shell.
func runSession(cmd *cobra.Command, session hostSession) (gate.Outcome, error) {
	outcome, err := runAuth(cmd, session)
	if err != nil || outcome != gate.Allow {
		return outcome, err
	}
	path, argv := session.LoginCommand()
	if err := execShell(path, argv, os.Environ()); err != nil {
		return gate.ServiceError, fmt.Errorf("exec %s: %w", path, err)
	}
	return outcome, nil
}

// loadConfig layers the env file, the process environment and explicit flags,
// later sources winning.
func loadConfig(cmd *cobra.Command) (config, error) {
	values := map[string]string{}
	if envFile != "" {
		fileValues, err := godotenv.Read(envFile)
		if err != nil && (cmd.Flags().Changed("env-file") || !os.IsNotExist(err)) {
			return config{}, fmt.Errorf("read env file: %w", err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	for _, name := range []string{"GATE_SERVICE_URL", "GATE_TIMEOUT_SECONDS", "GATE_SHARED_SECRET", "GATE_LOG_LEVEL", "SENTRY_DSN"} {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			values[name] = v
		}
	}

	cfg := config{
		ServiceURL:   valueOr(values, "GATE_SERVICE_URL", "http://localhost:8080"),
		Timeout:      gate.DefaultTimeout,
		SharedSecret: strings.TrimSpace(values["GATE_SHARED_SECRET"]),
		SentryDSN:    strings.TrimSpace(values["SENTRY_DSN"]),
	}
	if raw := strings.TrimSpace(values["GATE_TIMEOUT_SECONDS"]); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return config{}, fmt.Errorf("invalid GATE_TIMEOUT_SECONDS: %q", raw)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	}
	level, err := observability.ParseLevel(values["GATE_LOG_LEVEL"])
	if err != nil {
		return config{}, fmt.Errorf("invalid GATE_LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cmd.Flags().Changed("service-url") {
		cfg.ServiceURL = serviceURL
	}
	if cmd.Flags().Changed("timeout") && timeout > 0 {
		cfg.Timeout = timeout
	}
	if cmd.Flags().Changed("shared-secret") {
		cfg.SharedSecret = sharedSecret
	}
	return cfg, nil
}

func valueOr(values map[string]string, name, fallback string) string {
	if v := strings.TrimSpace(values[name]); v != "" {
		return v
	}
	return fallback
}
