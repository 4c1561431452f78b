package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at: above every standard
// level so that audit records are never filtered out.
const Level = zerolog.Level(20)

const levelName = "audit"

// Entry is the audit record for one bridge request: who asked, what CRM
// operation it mapped to and how it ended.
type Entry struct {
	Method    string
	Path      string
	UserAgent string
	SourceIP  string
	Caller    string
	Status    int
	Error     string

	Operation   string
	EntityType  string
	EntityID    string
	ResultCount int
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	request := NewOptionalEvent(nil).
		Str("method", e.Method).
		Str("path", e.Path).
		Str("userAgent", e.UserAgent).
		Str("sourceIP", e.SourceIP).
		Str("caller", e.Caller).
		Int("status", e.Status)
	request.Set(ev, "request")

	operation := NewOptionalEvent(nil).
		Str("name", e.Operation).
		Str("entityType", e.EntityType).
		Str("entityID", e.EntityID).
		Int("resultCount", e.ResultCount)
	operation.Set(ev, "crm")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}
}

// End returns a function that writes the entry, including any panic in
// progress. It must be deferred directly so that recover sees the panic.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			if e.Error != "" {
				msg = e.Error + "; " + msg
			}
			e.Error = msg
		}

		zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg(levelName)

		if r != nil {
			panic(r)
		}
	}
}

type key struct{}

// Context returns ctx carrying an audit entry, creating the entry if ctx
// has none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the audit entry for ctx. Outside the middleware the entry is
// detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for every request it wraps. The caller is
// identified by callerHeader when present.
func Middleware(callerHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.Begin(r)
			if callerHeader != "" {
				entry.Caller = strings.TrimSpace(r.Header.Get(callerHeader))
			}
			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status into the entry.
type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
	wrote bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wrote {
		s.entry.Status = status
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func init() {
	marshal := zerolog.LevelFieldMarshalFunc
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == Level {
			return levelName
		}
		return marshal(l)
	}
}
