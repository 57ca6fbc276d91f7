package anonymous

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/plugins/emailpassword"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/session"
	"github.com/nocturneauth/authengine/internal/store/memory"
)

func newTestEngine(t *testing.T, cfg Config) *engine.Engine {
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
		New(cfg),
	)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return e
}

func defaultConfig() Config {
	return Config{
		SessionTTL:               time.Hour,
		MaxGuestsPerFingerprint:  2,
		MaxSessionExtensions:     1,
		AllowedConversionPlugins: []string{"emailpassword"},
		ConversionTargets: map[string]ConversionTarget{
			"emailpassword": {Step: "register"},
		},
	}
}

func TestPlugin_CreateGuest(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	out := e.ExecuteStep(context.Background(), "anonymous", "create-guest", engine.Input{
		"user_agent": "test-agent", "signals": map[string]any{"screen": "1920x1080"},
	})
	if !out.Success {
		t.Fatalf("expected create-guest to succeed, got %+v", out)
	}
	if out.Token == "" || out.Subject == nil || !out.Subject.IsGuest {
		t.Fatalf("expected a guest subject and token, got %+v", out)
	}
}

func TestPlugin_CreateGuest_FingerprintRateLimited(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	input := engine.Input{"fingerprint_hash": "same-device"}
	e.ExecuteStep(context.Background(), "anonymous", "create-guest", input)
	e.ExecuteStep(context.Background(), "anonymous", "create-guest", input)
	out := e.ExecuteStep(context.Background(), "anonymous", "create-guest", input)
	if out.Success {
		t.Fatal("expected the third guest from the same fingerprint to be rate-limited")
	}
}

func TestPlugin_ExtendGuest_BoundedByMaxExtensions(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	create := e.ExecuteStep(context.Background(), "anonymous", "create-guest", engine.Input{"fingerprint_hash": "device-a"})
	tok := create.Token

	first := e.ExecuteStep(context.Background(), "anonymous", "extend-guest", engine.Input{"token": tok})
	if !first.Success {
		t.Fatalf("expected first extension to succeed, got %+v", first)
	}

	second := e.ExecuteStep(context.Background(), "anonymous", "extend-guest", engine.Input{"token": first.Token})
	if second.Success {
		t.Fatal("expected second extension to exceed the configured limit")
	}
}

func TestPlugin_ConvertGuest_DisallowedTargetRejected(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	create := e.ExecuteStep(context.Background(), "anonymous", "create-guest", engine.Input{"fingerprint_hash": "device-b"})

	out := e.ExecuteStep(context.Background(), "anonymous", "convert-guest", engine.Input{
		"token": create.Token, "target_plugin": "phonepassword",
	})
	if out.Success {
		t.Fatal("expected conversion to a non-allow-listed plugin to fail")
	}
}

func TestPlugin_ConvertGuest_ToEmailPassword(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	create := e.ExecuteStep(context.Background(), "anonymous", "create-guest", engine.Input{"fingerprint_hash": "device-c"})

	out := e.ExecuteStep(context.Background(), "anonymous", "convert-guest", engine.Input{
		"token":         create.Token,
		"target_plugin": "emailpassword",
		"payload": map[string]any{
			"email": "newly-converted@example.com", "password": "correct horse battery staple",
		},
	})
	if !out.Success {
		t.Fatalf("expected conversion to succeed, got %+v", out)
	}
	if out.Subject == nil || out.Subject.ID == create.Subject.ID {
		t.Fatalf("expected conversion to produce a distinct permanent subject, got %+v", out)
	}

	login := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "newly-converted@example.com", "password": "correct horse battery staple",
	})
	if !login.Success {
		t.Fatalf("expected login with the converted identity to succeed, got %+v", login)
	}
}

func TestPlugin_ConvertGuest_FailedTargetLeavesGuestUsable(t *testing.T) {
	e := newTestEngine(t, defaultConfig())
	create := e.ExecuteStep(context.Background(), "anonymous", "create-guest", engine.Input{"fingerprint_hash": "device-d"})

	out := e.ExecuteStep(context.Background(), "anonymous", "convert-guest", engine.Input{
		"token":         create.Token,
		"target_plugin": "emailpassword",
		"payload":       map[string]any{"email": "", "password": ""},
	})
	if out.Success {
		t.Fatal("expected conversion with an invalid payload to fail")
	}

	extend := e.ExecuteStep(context.Background(), "anonymous", "extend-guest", engine.Input{"token": create.Token})
	if !extend.Success {
		t.Fatalf("expected the original guest session to remain usable after a failed conversion, got %+v", extend)
	}
}
