package gate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-gate/internal/auth"
	"login-gate/internal/ban"
	"login-gate/internal/challenge"
	"login-gate/internal/notify"
	"login-gate/internal/observability"
)

type fakeSession struct {
	host    string
	user    string
	service string
	env     map[string]string
	prompt  func() (string, error)
	prompts int
}

func (s *fakeSession) RemoteHost() (string, error) { return orErr(s.host) }
func (s *fakeSession) User() (string, error)       { return orErr(s.user) }
func (s *fakeSession) Service() (string, error)    { return orErr(s.service) }

func (s *fakeSession) Getenv(name string) (string, bool) {
	v, ok := s.env[name]
	return v, ok
}

func (s *fakeSession) PromptSecret(string) (string, error) {
	s.prompts++
	if s.prompt == nil {
		return "", errors.New("no input")
	}
	return s.prompt()
}

func orErr(v string) (string, error) {
	if v == "" {
		return "", ErrNotResolved
	}
	return v, nil
}

func answer(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(_ context.Context, _ int64, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

var codePattern = regexp.MustCompile("Verification Code:\\* `(\\d{6})`")

func (r *recordingSender) lastCode() (string, error) {
	texts := r.texts()
	if len(texts) == 0 {
		return "", errors.New("nothing sent")
	}
	m := codePattern.FindStringSubmatch(texts[len(texts)-1])
	if m == nil {
		return "", errors.New("no code in message")
	}
	return m[1], nil
}

type countingGenerator struct {
	calls atomic.Int32
	code  string
}

func (c *countingGenerator) generate() string {
	c.calls.Add(1)
	return c.code
}

type stack struct {
	store  *ban.MemoryStore
	sender *recordingSender
	server *httptest.Server

	mu  sync.Mutex
	now time.Time
}

func (s *stack) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *stack) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func newStack(t *testing.T, cfg notify.Config, secret string) *stack {
	t.Helper()

	s := &stack{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	s.store = ban.NewMemoryStore(s.clock)
	s.sender = &recordingSender{}
	if cfg.Recipients == nil {
		cfg.Recipients = []int64{42}
	}

	service := notify.NewService(s.store, s.sender, observability.NewLoggerTo(io.Discard), cfg)
	service.WithClock(s.clock)

	mux := http.NewServeMux()
	notify.NewHandler(service).Register(mux, func(h http.Handler) http.Handler {
		return auth.Middleware(secret, h)
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func newTestGate(backend Backend, generate challenge.Generator) *Gate {
	return New(backend, generate, observability.NewLoggerTo(io.Discard))
}

func sshSession(host string, prompt func() (string, error)) *fakeSession {
	return &fakeSession{host: host, user: "alice", service: "sshd", prompt: prompt}
}

func TestAuthenticate_CorrectCodeAllowsWithoutBan(t *testing.T) {
	s := newStack(t, notify.Config{}, "")
	g := newTestGate(NewClient(s.server.URL, time.Second), challenge.New())

	outcome := g.Authenticate(context.Background(), sshSession("203.0.113.20", s.sender.lastCode))
	g.Wait()

	assert.Equal(t, Allow, outcome)
	assert.Len(t, s.sender.texts(), 1)
	assert.Equal(t, 0, s.store.Len())
}

func TestAuthenticate_WrongCodeDeniesAndBans(t *testing.T) {
	s := newStack(t, notify.Config{}, "")
	gen := &countingGenerator{code: "482913"}
	g := newTestGate(NewClient(s.server.URL, time.Second), gen.generate)

	outcome := g.Authenticate(context.Background(), sshSession("203.0.113.21", answer("482914")))
	g.Wait()
	assert.Equal(t, Deny, outcome)

	records, err := s.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "203.0.113.21", records[0].Address)
	assert.True(t, records[0].ExpiresAt.Equal(s.clock().Add(15*time.Minute)))

	// Retry inside the window: denied before any code is generated or sent.
	retry := sshSession("203.0.113.21", answer("482913"))
	outcome = g.Authenticate(context.Background(), retry)
	assert.Equal(t, Deny, outcome)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Len(t, s.sender.texts(), 1)
	assert.Equal(t, 0, retry.prompts)

	// After the window the address may try again.
	s.advance(15 * time.Minute)
	outcome = g.Authenticate(context.Background(), sshSession("203.0.113.21", answer("482913")))
	assert.Equal(t, Allow, outcome)
}

func TestAuthenticate_DebugLogsNeverCarryTheCode(t *testing.T) {
	s := newStack(t, notify.Config{}, "")
	var logs bytes.Buffer
	logger := observability.NewLoggerTo(&logs).WithLevel(observability.LevelDebug)
	g := New(NewClient(s.server.URL, time.Second), challenge.Fixed("482913"), logger)

	outcome := g.Authenticate(context.Background(), sshSession("203.0.113.29", answer("482914")))
	g.Wait()

	assert.Equal(t, Deny, outcome)
	assert.Contains(t, logs.String(), `"gate_ban_clear"`)
	assert.Contains(t, logs.String(), `"gate_code_sent"`)
	assert.Contains(t, logs.String(), `"gate_code_mismatch"`)
	assert.NotContains(t, logs.String(), `"482913"`)
	assert.NotContains(t, logs.String(), `"482914"`)
}

func TestAuthenticate_InputComparison(t *testing.T) {
	cases := []struct {
		name  string
		input func() (string, error)
		want  Outcome
	}{
		{"exact", answer("482913"), Allow},
		{"surrounding whitespace", answer(" 482913 \n"), Allow},
		{"off by one", answer("482914"), Deny},
		{"prefix", answer("48291"), Deny},
		{"empty", answer(""), Deny},
		{"prompt error", nil, Deny},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{}
			g := newTestGate(backend, challenge.Fixed("482913"))

			outcome := g.Authenticate(context.Background(), sshSession("10.9.9.9", tc.input))
			g.Wait()

			assert.Equal(t, tc.want, outcome)
			if tc.want == Deny {
				assert.Equal(t, []string{"10.9.9.9"}, backend.reported())
			} else {
				assert.Empty(t, backend.reported())
			}
		})
	}
}

func TestAuthenticate_FailOpenWhenServiceUnreachable(t *testing.T) {
	s := newStack(t, notify.Config{}, "")
	url := s.server.URL
	s.server.Close()

	session := sshSession("203.0.113.22", answer("nope"))
	g := newTestGate(NewClient(url, time.Second), challenge.Fixed("111111"))

	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))
	assert.Equal(t, 0, session.prompts)
}

func TestAuthenticate_FailOpenOnTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer slow.Close()

	g := newTestGate(NewClient(slow.URL, 50*time.Millisecond), challenge.Fixed("111111"))
	assert.Equal(t, Allow, g.Authenticate(context.Background(), sshSession("203.0.113.23", nil)))
}

func TestAuthenticate_FailOpenWhenNotifyUnreachable(t *testing.T) {
	backend := &fakeBackend{notifyErr: ErrUnavailable}
	session := sshSession("203.0.113.24", answer("000000"))
	g := newTestGate(backend, challenge.Fixed("111111"))

	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))
	assert.Equal(t, 0, session.prompts)
}

func TestAuthenticate_DeliveryFailedIsFailOpen(t *testing.T) {
	s := newStack(t, notify.Config{Recipients: []int64{}, RequireDelivery: true}, "")
	session := sshSession("203.0.113.25", answer("000000"))
	g := newTestGate(NewClient(s.server.URL, time.Second), challenge.Fixed("111111"))

	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))
	assert.Equal(t, 0, session.prompts)
}

func TestAuthenticate_NotifyForbiddenDenies(t *testing.T) {
	backend := &fakeBackend{notifyErr: notify.ErrBanned}
	session := sshSession("203.0.113.26", answer("111111"))
	g := newTestGate(backend, challenge.Fixed("111111"))

	assert.Equal(t, Deny, g.Authenticate(context.Background(), session))
	assert.Equal(t, 0, session.prompts)
	assert.Empty(t, backend.reported())
}

func TestAuthenticate_UnexpectedStatusStillPrompts(t *testing.T) {
	s := newStack(t, notify.Config{}, "s3cret")
	session := sshSession("203.0.113.27", answer("111111"))
	// No signer: the service answers 401, which is neither a ban nor an outage.
	g := newTestGate(NewClient(s.server.URL, time.Second), challenge.Fixed("111111"))

	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))
	assert.Equal(t, 1, session.prompts)
	assert.Empty(t, s.sender.texts())
}

func TestAuthenticate_SignedRequests(t *testing.T) {
	s := newStack(t, notify.Config{}, "s3cret")
	client := NewClient(s.server.URL, time.Second).WithSigner(auth.NewSigner("s3cret"), "host-a")
	g := newTestGate(client, challenge.Fixed("111111"))

	assert.Equal(t, Deny, g.Authenticate(context.Background(), sshSession("203.0.113.28", answer("222222"))))
	g.Wait()

	banned, err := s.store.Active(context.Background(), "203.0.113.28")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Len(t, s.sender.texts(), 1)
}

func TestAuthenticate_SudoCommandIsForwarded(t *testing.T) {
	s := newStack(t, notify.Config{}, "")
	g := newTestGate(NewClient(s.server.URL, time.Second), challenge.Fixed("333333"))

	session := &fakeSession{
		host:    "192.0.2.50",
		user:    "bob",
		service: "sudo",
		env:     map[string]string{"SUDO_COMMAND": "/usr/bin/systemctl restart nginx"},
		prompt:  answer("333333"),
	}
	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))

	texts := s.sender.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "/usr/bin/systemctl restart nginx")
}

func TestAuthenticate_NonSudoNeverSendsCommand(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGate(backend, challenge.Fixed("333333"))

	session := &fakeSession{
		host:    "192.0.2.51",
		user:    "bob",
		service: "sshd",
		env:     map[string]string{"SUDO_COMMAND": "/bin/true"},
		prompt:  answer("333333"),
	}
	assert.Equal(t, Allow, g.Authenticate(context.Background(), session))

	require.Len(t, backend.notified(), 1)
	assert.Nil(t, backend.notified()[0].Command)
}

func TestAuthenticate_UnresolvedFieldsBecomeUnknown(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGate(backend, challenge.Fixed("333333"))

	assert.Equal(t, Deny, g.Authenticate(context.Background(), &fakeSession{}))
	g.Wait()

	require.Len(t, backend.notified(), 1)
	n := backend.notified()[0]
	assert.Equal(t, "unknown", n.Address)
	assert.Equal(t, "unknown", n.Username)
	assert.Equal(t, "unknown", n.Service)
	assert.Equal(t, []string{"unknown"}, backend.checked())
	assert.Equal(t, []string{"unknown"}, backend.reported())
}

func TestAuthenticate_ReportFailureErrorIsIgnored(t *testing.T) {
	backend := &fakeBackend{reportErr: ErrUnavailable}
	g := newTestGate(backend, challenge.Fixed("333333"))

	assert.Equal(t, Deny, g.Authenticate(context.Background(), sshSession("10.0.0.3", answer("1"))))
	g.Wait()
}

func TestAuthenticate_PanicBecomesServiceError(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGate(backend, func() string { panic("rng exploded") })

	assert.Equal(t, ServiceError, g.Authenticate(context.Background(), sshSession("10.0.0.4", answer("1"))))

	panicky := &fakeSession{host: "10.0.0.5", prompt: func() (string, error) { panic("conversation failed") }}
	g = newTestGate(backend, challenge.Fixed("1"))
	assert.Equal(t, ServiceError, g.Authenticate(context.Background(), panicky))
}

func TestSetCredentials(t *testing.T) {
	g := newTestGate(&fakeBackend{}, nil)
	assert.Equal(t, Allow, g.SetCredentials(&fakeSession{}))
}

type fakeBackend struct {
	mu        sync.Mutex
	checkErr  error
	notifyErr error
	reportErr error
	checks    []string
	notes     []notify.Notification
	reports   []string
}

func (f *fakeBackend) CheckBan(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, address)
	return f.checkErr
}

func (f *fakeBackend) Notify(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return f.notifyErr
}

func (f *fakeBackend) ReportFail(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, address)
	return f.reportErr
}

func (f *fakeBackend) checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checks...)
}

func (f *fakeBackend) notified() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Notification(nil), f.notes...)
}

func (f *fakeBackend) reported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reports...)
}
