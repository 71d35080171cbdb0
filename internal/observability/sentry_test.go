package observability

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubEvent(t *testing.T) {
	event := &sentry.Event{
		Request: &sentry.Request{
			URL:     "http://127.0.0.1:8080/notify",
			Method:  "POST",
			Data:    `{"address":"192.0.2.1","code":"771204"}`,
			Cookies: "session=abc",
			Headers: map[string]string{
				"authorization": "Bearer eyJhbGciOi",
				"Content-Type":  "application/json",
			},
		},
		Extra: map[string]any{"code": "771204", "address": "192.0.2.1"},
	}

	out := scrubEvent(event)
	require.NotNil(t, out)
	assert.Empty(t, out.Request.Data)
	assert.Empty(t, out.Request.Cookies)
	assert.Equal(t, redacted, out.Request.Headers["authorization"])
	assert.Equal(t, "application/json", out.Request.Headers["Content-Type"])
	assert.Equal(t, redacted, out.Extra["code"])
	assert.Equal(t, "192.0.2.1", out.Extra["address"])

	assert.Nil(t, scrubEvent(nil))
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry("", "test"))
}
