package passwordless

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/emailpassword"
	"github.com/nocturneauth/authengine/internal/ratelimit"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/session"
	"github.com/nocturneauth/authengine/internal/store"
	"github.com/nocturneauth/authengine/internal/store/memory"
)

func newTestEngine(t *testing.T, notifier notify.Notifier) *engine.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e, err := engine.New(engine.Options{
		Env:      engine.EnvDevelopment,
		DB:       memory.New(func() string { return "id" }),
		Hasher:   security.NewHasher(security.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8}),
		Sessions: session.NewService(session.NewRedisStore(client), time.Hour),
	},
		emailpassword.New(emailpassword.Config{VerificationCodeTTL: time.Hour, PasswordResetCodeTTL: time.Hour}, notify.NoopNotifier{}),
		New(Config{MagicLinkTTL: time.Hour, CodeTTL: time.Hour, MaxAttempts: 3}, notifier),
	)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return e
}

func TestPlugin_MagicLink_FullFlow(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "ivy@example.com", "password": "correct horse battery staple",
	})

	send := e.ExecuteStep(context.Background(), "passwordless", "send-magic-link", engine.Input{
		"identifier": "ivy@example.com", "provider": "email",
	})
	if !send.Success {
		t.Fatalf("expected send-magic-link to succeed, got %+v", send)
	}
	if len(recorder.MagicLinks) != 1 {
		t.Fatalf("expected exactly one magic link to be sent, got %d", len(recorder.MagicLinks))
	}
	tok := recorder.MagicLinks[0].Token

	verify := e.ExecuteStep(context.Background(), "passwordless", "verify-magic-link", engine.Input{"token": tok})
	if !verify.Success {
		t.Fatalf("expected verify-magic-link to succeed, got %+v", verify)
	}
	if verify.Token == "" {
		t.Fatal("expected verify-magic-link to return a session token")
	}

	replay := e.ExecuteStep(context.Background(), "passwordless", "verify-magic-link", engine.Input{"token": tok})
	if replay.Success {
		t.Fatal("expected a used magic link to be rejected on replay")
	}
}

func TestPlugin_SendMagicLink_UnknownIdentifierStillSucceeds(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)

	out := e.ExecuteStep(context.Background(), "passwordless", "send-magic-link", engine.Input{
		"identifier": "ghost@example.com", "provider": "email",
	})
	if !out.Success {
		t.Fatalf("expected anti-enumeration success response, got %+v", out)
	}
	if len(recorder.MagicLinks) != 0 {
		t.Fatal("expected no magic link to be sent for an unknown identifier")
	}
}

func TestPlugin_VerifyMagicLink_UnknownTokenRejected(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	out := e.ExecuteStep(context.Background(), "passwordless", "verify-magic-link", engine.Input{"token": "does-not-exist"})
	if out.Success {
		t.Fatal("expected an unknown token to be rejected")
	}
}

func TestPlugin_Code_FullFlow(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "jack@example.com", "password": "correct horse battery staple",
	})

	send := e.ExecuteStep(context.Background(), "passwordless", "send-code", engine.Input{
		"destination": "jack@example.com", "destination_type": "email", "purpose": "login",
	})
	if !send.Success {
		t.Fatalf("expected send-code to succeed, got %+v", send)
	}
	if len(recorder.Codes) != 1 {
		t.Fatalf("expected exactly one code to be sent, got %d", len(recorder.Codes))
	}
	code := recorder.Codes[0].Code

	verify := e.ExecuteStep(context.Background(), "passwordless", "verify-code", engine.Input{
		"destination": "jack@example.com", "code": code,
	})
	if !verify.Success {
		t.Fatalf("expected verify-code to succeed, got %+v", verify)
	}
}

func TestPlugin_VerifyCode_WrongCodeIncrementsAttempts(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "kara@example.com", "password": "correct horse battery staple",
	})
	e.ExecuteStep(context.Background(), "passwordless", "send-code", engine.Input{
		"destination": "kara@example.com", "destination_type": "email", "purpose": "login",
	})

	out := e.ExecuteStep(context.Background(), "passwordless", "verify-code", engine.Input{
		"destination": "kara@example.com", "code": "000000",
	})
	if out.Success {
		t.Fatal("expected wrong code to fail")
	}

	rec, ok, err := e.DB().FindFirst(context.Background(), TableVerificationCodes, store.Query{Where: store.Eq("destination", "kara@example.com")})
	if err != nil || !ok {
		t.Fatalf("expected the verification code row to exist: ok=%v err=%v", ok, err)
	}
	if rec["attempts"] != 1 {
		t.Fatalf("expected attempts to be incremented to 1, got %v", rec["attempts"])
	}
}

func TestPlugin_SendCode_UnknownDestinationStillSucceeds(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	out := e.ExecuteStep(context.Background(), "passwordless", "send-code", engine.Input{
		"destination": "ghost@example.com", "destination_type": "email",
	})
	if !out.Success {
		t.Fatalf("expected anti-enumeration success response, got %+v", out)
	}
	if len(recorder.Codes) != 0 {
		t.Fatal("expected no code to be sent for an unknown destination")
	}
}

func TestPlugin_SendCode_RespectsProcessWideNotifyLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	recorder := &notify.RecordingNotifier{}
	e, err := engine.New(engine.Options{
		Env:           engine.EnvDevelopment,
		DB:            memory.New(func() string { return "id" }),
		Hasher:        security.NewHasher(security.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8}),
		Sessions:      session.NewService(session.NewRedisStore(client), time.Hour),
		NotifyLimiter: ratelimit.New(1, 1),
	},
		emailpassword.New(emailpassword.Config{VerificationCodeTTL: time.Hour, PasswordResetCodeTTL: time.Hour}, notify.NoopNotifier{}),
		New(Config{MagicLinkTTL: time.Hour, CodeTTL: time.Hour, MaxAttempts: 3}, recorder),
	)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	first := e.ExecuteStep(context.Background(), "passwordless", "send-code", engine.Input{
		"destination": "flood@example.com", "destination_type": "email",
	})
	if !first.Success {
		t.Fatalf("expected the first send to succeed, got %+v", first)
	}
	second := e.ExecuteStep(context.Background(), "passwordless", "send-code", engine.Input{
		"destination": "flood@example.com", "destination_type": "email",
	})
	if second.Success {
		t.Fatal("expected the process-wide notify limiter to throttle the second send")
	}
	if second.Error == nil || second.Error.Code != "rate_limited" {
		t.Fatalf("expected a rate_limited error, got %+v", second.Error)
	}
}
