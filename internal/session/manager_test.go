package session

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/airfi/airfi-guest-portal/internal/access"
	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/auth"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
	"github.com/airfi/airfi-guest-portal/internal/router"
)

type staticRoster []roster.Row

func (r staticRoster) Fetch(context.Context, bool) []roster.Row { return r }

type spyVerifier struct {
	Verifier
	calls int
}

func (s *spyVerifier) Verify(ctx context.Context, mobile, secret string) (*auth.Admission, error) {
	s.calls++
	return s.Verifier.Verify(ctx, mobile, secret)
}

type recordingObserver struct{ events []string }

func (o *recordingObserver) Login(outcome, reason string) {
	o.events = append(o.events, outcome+":"+reason)
}

type fixture struct {
	store    *db.DB
	stub     *router.Stub
	verifier *spyVerifier
	tokens   *auth.TokenService
	observer *recordingObserver
	manager  *Manager
}

func newFixture(t *testing.T, policy auth.UnavailablePolicy, rows ...roster.Row) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "portal.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	keys, err := auth.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:    store,
		stub:     router.NewStub(),
		verifier: &spyVerifier{Verifier: auth.NewVerifier(store, staticRoster(rows), policy, nil)},
		tokens:   auth.NewTokenService(keys, "", time.Hour),
		observer: &recordingObserver{},
	}
	ctrl := access.NewController(f.stub, store, nil, nil)
	f.manager = NewManager(f.verifier, ctrl, store, f.tokens, f.observer, nil)
	return f
}

var jane = roster.Row{Name: "Jane", MobileNumber: "9876543210", Room: "R0"}

func janeLogin(room string) LoginRequest {
	return LoginRequest{
		MobileNumber: "9876543210",
		Secret:       room,
		MACAddress:   "aa:bb:cc:dd:ee:ff",
		IPAddress:    "10.5.50.2",
		LinkLogin:    "http://10.5.50.1/login",
		LinkOrig:     "http://example.com/",
	}
}

func TestLoginAdmitsRosterGuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)

	out, err := f.manager.Login(ctx, janeLogin("r 0"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if out.State != StateSessionRecorded || !out.Admitted() {
		t.Fatalf("state = %q", out.State)
	}

	identity, err := f.store.GetIdentityByMobile(ctx, "9876543210")
	if err != nil {
		t.Fatalf("guest identity not created: %v", err)
	}
	if identity.UserType != db.KindGuest {
		t.Errorf("user_type = %q, want guest", identity.UserType)
	}

	rec, err := f.store.LatestOpenSession(ctx, identity.ID)
	if err != nil {
		t.Fatalf("no open session: %v", err)
	}
	if rec.LogoutTime != nil || rec.MACAddress != "AA:BB:CC:DD:EE:FF" || rec.IPAddress != "10.5.50.2" {
		t.Errorf("session = %+v", rec)
	}

	u, err := url.Parse(out.RedirectURL)
	if err != nil {
		t.Fatalf("redirect URL %q: %v", out.RedirectURL, err)
	}
	q := u.Query()
	if u.Host != "10.5.50.1" || q.Get("username") != "9876543210" || q.Get("password") != "r 0" || q.Get("dst") != "http://example.com/" {
		t.Errorf("redirect URL = %s", out.RedirectURL)
	}
	if pw, ok := f.stub.Password("9876543210"); !ok || pw != "r 0" {
		t.Errorf("hotspot user password = %q, %v", pw, ok)
	}

	claims, err := f.tokens.Verify(out.Token)
	if err != nil || claims.SessionID != rec.ID {
		t.Errorf("token claims = %+v, %v", claims, err)
	}
}

func TestLoginRejectsMismatchedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)

	out, err := f.manager.Login(ctx, janeLogin("R1"))
	if !apperror.Is(err, apperror.KindInvalidCredentials) {
		t.Fatalf("err = %v, want InvalidCredentials", err)
	}
	if out.State != StateRejected || out.Admitted() || out.Session != nil {
		t.Errorf("outcome = %+v", out)
	}
	if n, _ := f.store.CountSessions(ctx); n != 0 {
		t.Errorf("rejected login recorded %d sessions", n)
	}
	if _, err := f.store.GetIdentityByMobile(ctx, "9876543210"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("rejected login created an identity: %v", err)
	}
}

func TestLoginBlockedDeviceSkipsVerifier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)
	if err := f.store.BlockDevice(ctx, &db.BlockedDevice{MACAddress: "AA:BB:CC:DD:EE:FF", Reason: "test"}); err != nil {
		t.Fatal(err)
	}

	out, err := f.manager.Login(ctx, janeLogin("R0"))
	if !apperror.Is(err, apperror.KindAccountBlocked) {
		t.Fatalf("err = %v, want AccountBlocked", err)
	}
	if out.Reason != apperror.KindAccountBlocked {
		t.Errorf("reason = %q", out.Reason)
	}
	if f.verifier.calls != 0 {
		t.Errorf("verifier called %d times, want 0", f.verifier.calls)
	}
}

func TestLoginAccessFailedKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)
	f.stub.SetErr(errors.New("from RouterOS device: invalid user name or password (6)"))

	out, err := f.manager.Login(ctx, janeLogin("R0"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if out.State != StateAccessFailed || !out.Admitted() {
		t.Fatalf("state = %q", out.State)
	}
	if !apperror.Is(out.AccessErr, apperror.KindRouterAuthFailed) {
		t.Errorf("access err = %v", out.AccessErr)
	}
	if out.RedirectURL != "" {
		t.Errorf("no redirect expected on access failure, got %q", out.RedirectURL)
	}
	if n, _ := f.store.CountSessions(ctx); n != 1 {
		t.Errorf("sessions = %d, want 1 audit record", n)
	}
	if len(f.observer.events) != 1 || f.observer.events[0] != "access_failed:router_auth_failed" {
		t.Errorf("observed %v", f.observer.events)
	}
}

func TestLoginRosterUnavailableAdmitPolicy(t *testing.T) {
	f := newFixture(t, auth.AdmitWhenUnavailable)

	out, err := f.manager.Login(context.Background(), janeLogin("R0"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if out.State != StateSessionRecorded || out.Source != auth.SourceFallback {
		t.Errorf("outcome = %+v", out)
	}
}

func TestLogoutClosesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)

	out, err := f.manager.Login(ctx, janeLogin("R0"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.manager.Logout(ctx, out.Token)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !res.Closed || res.Disconnected != 1 || res.SessionID != out.Session.ID {
		t.Errorf("logout = %+v", res)
	}
	rec, _ := f.store.GetSession(ctx, out.Session.ID)
	if rec.LogoutTime == nil {
		t.Error("logout time not set")
	}
	if active, _ := f.stub.ActiveSessions(ctx); len(active) != 0 {
		t.Errorf("hotspot sessions left: %+v", active)
	}

	// A second logout is a no-op.
	res, err = f.manager.Logout(ctx, out.Token)
	if err != nil || res.Closed {
		t.Errorf("second logout = %+v, %v", res, err)
	}

	if _, err := f.manager.Logout(ctx, "not-a-token"); !apperror.Is(err, apperror.KindInvalidInput) {
		t.Errorf("bad token: err = %v", err)
	}
}

func TestLogoutToleratesRouterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.RejectWhenUnavailable, jane)
	if _, err := f.manager.Login(ctx, janeLogin("R0")); err != nil {
		t.Fatal(err)
	}
	f.stub.SetErr(context.DeadlineExceeded)

	res, err := f.manager.LogoutMobile(ctx, "+9876543210")
	if err != nil {
		t.Fatalf("LogoutMobile: %v", err)
	}
	if !res.Closed || res.Disconnected != 0 {
		t.Errorf("logout = %+v", res)
	}
}

func TestTrafficFor(t *testing.T) {
	ended := []router.ActiveSession{
		{MACAddress: "11:11:11:11:11:11", BytesIn: 1, BytesOut: 2},
		{MACAddress: "AA:BB:CC:DD:EE:FF", BytesIn: 10, BytesOut: 20},
	}
	if in, out := trafficFor(ended, "AA:BB:CC:DD:EE:FF"); in != 10 || out != 20 {
		t.Errorf("matched = %d/%d", in, out)
	}
	if in, out := trafficFor(ended, ""); in != 11 || out != 22 {
		t.Errorf("summed = %d/%d", in, out)
	}
}
