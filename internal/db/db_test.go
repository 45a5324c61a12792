package db

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "portal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIdentityLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	id := &Identity{MobileNumber: "9876543210", RoomNumber: "R0", UserType: KindGuest, IsActive: true}
	if err := store.CreateIdentity(ctx, id); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if id.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	dup := &Identity{MobileNumber: "9876543210", UserType: KindStaff}
	if err := store.CreateIdentity(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert: err = %v, want ErrDuplicate", err)
	}

	got, err := store.GetIdentityByMobile(ctx, "9876543210")
	if err != nil {
		t.Fatalf("GetIdentityByMobile: %v", err)
	}
	if got.RoomNumber != "R0" || !got.IsActive || !got.IsGuest() || got.LastLogin != nil {
		t.Errorf("unexpected identity %+v", got)
	}

	if err := store.TouchLogin(ctx, id.ID, "R2"); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}
	got, _ = store.GetIdentity(ctx, id.ID)
	if got.RoomNumber != "R2" || got.LastLogin == nil {
		t.Errorf("after TouchLogin: room=%q last_login=%v", got.RoomNumber, got.LastLogin)
	}

	if err := store.SetIdentityActive(ctx, id.ID, false); err != nil {
		t.Fatalf("SetIdentityActive: %v", err)
	}
	got, _ = store.GetIdentity(ctx, id.ID)
	if got.IsActive {
		t.Error("identity should be inactive")
	}

	if _, err := store.GetIdentityByMobile(ctx, "0000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing identity: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIdentityCascadesToSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	id := &Identity{MobileNumber: "9123456780", UserType: KindStaff, Password: "x", IsActive: true}
	if err := store.CreateIdentity(ctx, id); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := store.CreateSession(ctx, &Session{IdentityID: id.ID, MACAddress: "AA:BB:CC:DD:EE:FF"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.DeleteIdentity(ctx, id.ID); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	if n, _ := store.CountSessions(ctx); n != 0 {
		t.Errorf("sessions left after delete: %d", n)
	}
	if err := store.DeleteIdentity(ctx, id.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestSessionOpenAndClose(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	id := &Identity{MobileNumber: "9876543210", UserType: KindGuest, IsActive: true}
	if err := store.CreateIdentity(ctx, id); err != nil {
		t.Fatal(err)
	}
	s := &Session{IdentityID: id.ID, IPAddress: "10.5.50.2", MACAddress: "AA:BB:CC:DD:EE:FF"}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	open, err := store.LatestOpenSession(ctx, id.ID)
	if err != nil {
		t.Fatalf("LatestOpenSession: %v", err)
	}
	if open.ID != s.ID || open.LogoutTime != nil {
		t.Errorf("open session = %+v", open)
	}

	if err := store.CloseSession(ctx, s.ID, 1024, 2048); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := store.CloseSession(ctx, s.ID, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("closing twice: err = %v, want ErrNotFound", err)
	}

	closed, _ := store.GetSession(ctx, s.ID)
	if closed.LogoutTime == nil || closed.BytesIn != 1024 || closed.BytesOut != 2048 {
		t.Errorf("closed session = %+v", closed)
	}
	if _, err := store.LatestOpenSession(ctx, id.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("no open session expected, err = %v", err)
	}

	views, err := store.ListSessions(ctx, 5)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(views) != 1 || views[0].MobileNumber != "9876543210" {
		t.Errorf("ListSessions = %+v", views)
	}
}

func TestBlockDeviceUpsertsSingleRecord(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	first := &BlockedDevice{MACAddress: "aa:bb:cc:dd:ee:ff", MobileNumber: "9876543210", Reason: "first", BlockedBy: "admin"}
	if err := store.BlockDevice(ctx, first); err != nil {
		t.Fatalf("BlockDevice: %v", err)
	}
	if err := store.UnblockDevice(ctx, first.ID); err != nil {
		t.Fatalf("UnblockDevice: %v", err)
	}
	if blocked, _ := store.IsDeviceBlocked(ctx, "AA:BB:CC:DD:EE:FF"); blocked {
		t.Fatal("device should be unblocked")
	}

	second := &BlockedDevice{MACAddress: "AA-BB-CC-DD-EE-FF", Reason: "second", BlockedBy: "ops"}
	if err := store.BlockDevice(ctx, second); err != nil {
		t.Fatalf("BlockDevice again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-block created a new row: %d != %d", second.ID, first.ID)
	}

	devices, err := store.ListBlockedDevices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AA:BB:CC:DD:EE:FF second ops"}
	var got []string
	for _, d := range devices {
		got = append(got, d.MACAddress+" "+d.Reason+" "+d.BlockedBy)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blocked devices (-want +got):\n%s", diff)
	}
	if n, _ := store.CountActiveBlocks(ctx); n != 1 {
		t.Errorf("CountActiveBlocks = %d, want 1", n)
	}
}

func TestUnblockMobile(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	for _, mac := range []string{"AA:AA:AA:AA:AA:01", "AA:AA:AA:AA:AA:02"} {
		if err := store.BlockDevice(ctx, &BlockedDevice{MACAddress: mac, MobileNumber: "9000000001"}); err != nil {
			t.Fatal(err)
		}
	}
	macs, err := store.UnblockMobile(ctx, "9000000001")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(macs)
	if diff := cmp.Diff([]string{"AA:AA:AA:AA:AA:01", "AA:AA:AA:AA:AA:02"}, macs); diff != "" {
		t.Errorf("released MACs (-want +got):\n%s", diff)
	}
	if macs, err := store.UnblockMobile(ctx, "9000000001"); err != nil || len(macs) != 0 {
		t.Errorf("second UnblockMobile = %v, %v", macs, err)
	}
}

func TestBlockDeviceCanonicalizesMAC(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	for _, mac := range []string{"aabbccddeeff", "aabb.ccdd.eeff", "aa-bb-cc-dd-ee-ff"} {
		d := &BlockedDevice{MACAddress: mac}
		if err := store.BlockDevice(ctx, d); err != nil {
			t.Fatal(err)
		}
		if d.MACAddress != "AA:BB:CC:DD:EE:FF" {
			t.Errorf("BlockDevice(%q) stored %q", mac, d.MACAddress)
		}
		if blocked, err := store.IsDeviceBlocked(ctx, mac); err != nil || !blocked {
			t.Errorf("IsDeviceBlocked(%q) = %v, %v", mac, blocked, err)
		}
	}
	if n, _ := store.CountActiveBlocks(ctx); n != 1 {
		t.Errorf("CountActiveBlocks = %d, want 1", n)
	}
}
