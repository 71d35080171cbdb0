package observability

import (
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Request headers that carry gate or admin credentials.
var scrubbedHeaders = []string{"Authorization", "Cookie"}

func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentryOptions(dsn, environment))
}

func sentryOptions(dsn, environment string) sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return scrubEvent(event)
		},
	}
}

// scrubEvent keeps verification codes and credentials out of Sentry. A
// /notify body holds the live code, so request bodies never leave the host.
func scrubEvent(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.Request != nil {
		event.Request.Data = ""
		event.Request.Cookies = ""
		for name := range event.Request.Headers {
			for _, scrubbed := range scrubbedHeaders {
				if strings.EqualFold(name, scrubbed) {
					event.Request.Headers[name] = redacted
				}
			}
		}
	}
	for key := range event.Extra {
		if redactedKeys[strings.ToLower(key)] {
			event.Extra[key] = redacted
		}
	}
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CapturePanic reports a recovered panic value with its stack.
func CapturePanic(message string, rec any, stack []byte) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetExtra("panic", rec)
		scope.SetExtra("stack", string(stack))
		sentry.CaptureMessage(message)
	})
}
