package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/db"
	"github.com/airfi/airfi-guest-portal/internal/roster"
)

type fakeRoster struct {
	rows  []roster.Row
	calls int
}

func (f *fakeRoster) Fetch(context.Context, bool) []roster.Row {
	f.calls++
	return f.rows
}

var janeRoster = []roster.Row{
	{Name: "Jane", MobileNumber: "9876543210", Room: "R0"},
	{Name: "Ali", MobileNumber: "+919000000001", Room: "2 dorm"},
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "portal.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVerifyGuestAgainstRoster(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := &fakeRoster{rows: janeRoster}
	v := NewVerifier(store, r, RejectWhenUnavailable, nil)

	for _, room := range []string{"r 0", "R0", " r0 "} {
		adm, err := v.Verify(ctx, "9876543210", room)
		if err != nil {
			t.Fatalf("Verify(%q): %v", room, err)
		}
		if adm.Source != SourceRoster || !adm.Identity.IsGuest() {
			t.Errorf("Verify(%q) = %+v", room, adm)
		}
	}

	id, err := store.GetIdentityByMobile(ctx, "9876543210")
	if err != nil {
		t.Fatalf("guest not created: %v", err)
	}
	if id.UserType != db.KindGuest || id.RoomNumber != "R0" || id.LastLogin == nil {
		t.Errorf("guest identity = %+v", id)
	}
}

func TestVerifyGuestFirstLoginReportsCreation(t *testing.T) {
	v := NewVerifier(newTestStore(t), &fakeRoster{rows: janeRoster}, RejectWhenUnavailable, nil)

	first, err := v.Verify(context.Background(), "+919000000001", "DORMITORY2")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !first.Created || first.Guest != "Ali" {
		t.Errorf("first admission = %+v", first)
	}
	second, err := v.Verify(context.Background(), "919000000001", "2dorm")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if second.Created {
		t.Error("second login should reuse the identity")
	}
}

func TestVerifyRejections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	inactive := &db.Identity{MobileNumber: "9111111111", Password: "secret", UserType: db.KindStaff}
	if err := store.CreateIdentity(ctx, inactive); err != nil {
		t.Fatal(err)
	}
	v := NewVerifier(store, &fakeRoster{rows: janeRoster}, RejectWhenUnavailable, nil)

	tests := []struct {
		name, mobile, secret string
		want                 apperror.Kind
	}{
		{"empty mobile", "", "R0", apperror.KindMissingInput},
		{"empty room", "9876543210", "  ", apperror.KindMissingInput},
		{"wrong room", "9876543210", "R1", apperror.KindInvalidCredentials},
		{"unknown mobile", "9000000000", "R0", apperror.KindInvalidCredentials},
		{"inactive staff", "9111111111", "secret", apperror.KindAccountInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.mobile, tt.secret)
			if got := apperror.KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (err %v)", got, tt.want, err)
			}
		})
	}

	if _, err := store.GetIdentityByMobile(ctx, "9000000000"); err == nil {
		t.Error("rejection must not create an identity")
	}
}

func TestVerifyPrivilegedSkipsRoster(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	hashed, err := HashPassword("family-pass")
	if err != nil {
		t.Fatal(err)
	}
	users := []*db.Identity{
		{MobileNumber: "9222222222", Password: hashed, UserType: db.KindFamily, IsActive: true},
		{MobileNumber: "9333333333", Password: "legacy", UserType: db.KindStaff, IsActive: true},
	}
	for _, u := range users {
		if err := store.CreateIdentity(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	r := &fakeRoster{}
	v := NewVerifier(store, r, RejectWhenUnavailable, nil)

	if adm, err := v.Verify(ctx, "9222222222", "family-pass"); err != nil || adm.Source != SourceDirectory {
		t.Errorf("hashed password: adm=%+v err=%v", adm, err)
	}
	if _, err := v.Verify(ctx, "+9333333333", "legacy"); err != nil {
		t.Errorf("plaintext password: %v", err)
	}
	if _, err := v.Verify(ctx, "9333333333", "wrong"); !apperror.Is(err, apperror.KindInvalidCredentials) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := v.Verify(ctx, "9222222222", " family-pass "); !apperror.Is(err, apperror.KindInvalidCredentials) {
		t.Errorf("padded password must not match: err = %v", err)
	}
	if r.calls != 0 {
		t.Errorf("roster fetched %d times on the privileged path", r.calls)
	}
}

func TestVerifyRosterUnavailablePolicy(t *testing.T) {
	ctx := context.Background()

	reject := NewVerifier(newTestStore(t), &fakeRoster{}, RejectWhenUnavailable, nil)
	if _, err := reject.Verify(ctx, "9876543210", "R0"); !apperror.Is(err, apperror.KindRosterUnavailable) {
		t.Errorf("reject policy: err = %v", err)
	}

	store := newTestStore(t)
	admit := NewVerifier(store, &fakeRoster{}, AdmitWhenUnavailable, nil)
	adm, err := admit.Verify(ctx, "9876543210", "r 0")
	if err != nil {
		t.Fatalf("admit policy: %v", err)
	}
	if adm.Source != SourceFallback || !adm.Created {
		t.Errorf("admission = %+v", adm)
	}

	if p := NewVerifier(store, &fakeRoster{}, "sometimes", nil).Policy(); p != RejectWhenUnavailable {
		t.Errorf("unknown policy resolved to %q", p)
	}
}

func TestVerifyRecordsRoomDrift(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := &fakeRoster{rows: janeRoster}
	v := NewVerifier(store, r, RejectWhenUnavailable, nil)
	if _, err := v.Verify(ctx, "9876543210", "R0"); err != nil {
		t.Fatal(err)
	}

	r.rows = []roster.Row{{Name: "Jane", MobileNumber: "9876543210", Room: "F3"}}
	if _, err := v.Verify(ctx, "9876543210", "f 3"); err != nil {
		t.Fatal(err)
	}
	id, _ := store.GetIdentityByMobile(ctx, "9876543210")
	if id.RoomNumber != "F3" {
		t.Errorf("room = %q, want F3", id.RoomNumber)
	}
}
