package emailpassword

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/alicebob/miniredis/v2"

	"github.com/nocturneauth/authengine/internal/engine"
	"github.com/nocturneauth/authengine/internal/notify"
	"github.com/nocturneauth/authengine/internal/security"
	"github.com/nocturneauth/authengine/internal/session"
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

	sessions := session.NewService(session.NewRedisStore(client), time.Hour)
	db := memory.New(func() string { return newTestID() })
	hasher := security.NewHasher(security.Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: 16, SaltLen: 8})

	e, err := engine.New(engine.Options{
		Env:      engine.EnvDevelopment,
		DB:       db,
		Hasher:   hasher,
		Sessions: sessions,
	}, New(Config{
		VerificationCodeTTL:      time.Hour,
		PasswordResetCodeTTL:     time.Hour,
		RequireEmailVerification: false,
		LoginOnRegister:          true,
	}, notifier))
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return e
}

var idCounter int

func newTestID() string {
	idCounter++
	return "id-" + time.Now().Format("150405.000000") + "-" + string(rune('a'+idCounter%26))
}

func TestPlugin_RegisterAndLogin(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})

	out := e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "Alice@Example.com", "password": "correct horse battery staple",
	})
	if !out.Success {
		t.Fatalf("expected register to succeed, got %+v", out)
	}
	if out.Token == "" {
		t.Fatal("expected register to return a session token")
	}

	loginOut := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "alice@example.com", "password": "correct horse battery staple",
	})
	if !loginOut.Success {
		t.Fatalf("expected login with the normalized email to succeed, got %+v", loginOut)
	}
}

func TestPlugin_Login_WrongPassword(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "bob@example.com", "password": "correct horse battery staple",
	})

	out := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "bob@example.com", "password": "wrong-password",
	})
	if out.Success {
		t.Fatal("expected login with wrong password to fail")
	}
}

func TestPlugin_Login_UnknownEmailSameErrorAsWrongPassword(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "carol@example.com", "password": "correct horse battery staple",
	})

	wrongPw := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "carol@example.com", "password": "wrong",
	})
	unknown := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "doesnotexist@example.com", "password": "wrong",
	})
	if wrongPw.Status != unknown.Status || wrongPw.Error.Code != unknown.Error.Code {
		t.Fatalf("expected identical error shape for unknown email vs wrong password, got %+v vs %+v", wrongPw, unknown)
	}
}

func TestPlugin_Register_DuplicateEmailRejected(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "dave@example.com", "password": "correct horse battery staple",
	})
	out := e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "dave@example.com", "password": "another password entirely",
	})
	if out.Success {
		t.Fatal("expected duplicate email registration to fail")
	}
}

func TestPlugin_ChangePassword(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	reg := e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "erin@example.com", "password": "original password here",
	})
	subjectID := reg.Subject.ID

	out := e.ExecuteStep(context.Background(), "emailpassword", "change-password", engine.Input{
		"subject_id": subjectID, "current_password": "original password here", "new_password": "brand new password",
	})
	if !out.Success {
		t.Fatalf("expected change-password to succeed, got %+v", out)
	}

	login := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "erin@example.com", "password": "brand new password",
	})
	if !login.Success {
		t.Fatalf("expected login with the new password to succeed, got %+v", login)
	}
}

func TestPlugin_SendResetPassword_AntiEnumeration(t *testing.T) {
	e := newTestEngine(t, notify.NoopNotifier{})
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "frank@example.com", "password": "correct horse battery staple",
	})

	known := e.ExecuteStep(context.Background(), "emailpassword", "send-reset-password", engine.Input{"email": "frank@example.com"})
	unknown := e.ExecuteStep(context.Background(), "emailpassword", "send-reset-password", engine.Input{"email": "ghost@example.com"})
	if known.Status != unknown.Status || known.Success != unknown.Success {
		t.Fatalf("expected identical response regardless of whether the email exists, got %+v vs %+v", known, unknown)
	}
}

func TestPlugin_ResetPassword_FullFlow(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "gina@example.com", "password": "original password here",
	})
	e.ExecuteStep(context.Background(), "emailpassword", "send-reset-password", engine.Input{"email": "gina@example.com"})

	if len(recorder.Codes) != 1 {
		t.Fatalf("expected exactly one reset code to be sent, got %d", len(recorder.Codes))
	}
	code := recorder.Codes[0].Code

	out := e.ExecuteStep(context.Background(), "emailpassword", "reset-password", engine.Input{
		"email": "gina@example.com", "code": code, "new_password": "freshly reset password",
	})
	if !out.Success {
		t.Fatalf("expected reset-password to succeed, got %+v", out)
	}

	login := e.ExecuteStep(context.Background(), "emailpassword", "login", engine.Input{
		"email": "gina@example.com", "password": "freshly reset password",
	})
	if !login.Success {
		t.Fatalf("expected login with the reset password to succeed, got %+v", login)
	}
}

func TestPlugin_ResetPassword_WrongCodeRejected(t *testing.T) {
	recorder := &notify.RecordingNotifier{}
	e := newTestEngine(t, recorder)
	e.ExecuteStep(context.Background(), "emailpassword", "register", engine.Input{
		"email": "hank@example.com", "password": "original password here",
	})
	e.ExecuteStep(context.Background(), "emailpassword", "send-reset-password", engine.Input{"email": "hank@example.com"})

	out := e.ExecuteStep(context.Background(), "emailpassword", "reset-password", engine.Input{
		"email": "hank@example.com", "code": "000000", "new_password": "does not matter",
	})
	if out.Success {
		t.Fatal("expected reset-password with the wrong code to fail")
	}
}
