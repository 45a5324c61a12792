package router

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/airfi/airfi-guest-portal/internal/apperror"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperror.Kind
	}{
		{"deadline", context.DeadlineExceeded, apperror.KindRouterConnectTimeout},
		{"net timeout", timeoutErr{}, apperror.KindRouterConnectTimeout},
		{"dial refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, apperror.KindRouterConnectTimeout},
		{"routeros login", errors.New("from RouterOS device: invalid user name or password (6)"), apperror.KindRouterAuthFailed},
		{"ssh auth", errors.New("ssh: handshake failed: ssh: unable to authenticate"), apperror.KindRouterAuthFailed},
		{"device error", errors.New("from RouterOS device: no such command"), apperror.KindRouterAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if kind := apperror.KindOf(got); kind != tt.want {
				t.Errorf("kind = %q, want %q", kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the cause")
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
	already := apperror.New(apperror.KindRouterAuthFailed, "")
	if got := Classify(already); got != error(already) {
		t.Error("router errors should pass through unchanged")
	}
}

func TestCanonicalMAC(t *testing.T) {
	for in, want := range map[string]string{
		"aa:bb:cc:dd:ee:ff": "AA:BB:CC:DD:EE:FF",
		"AA-BB-CC-DD-EE-FF": "AA:BB:CC:DD:EE:FF",
		"aabb.ccdd.eeff":    "AA:BB:CC:DD:EE:FF",
		"":                  "",
	} {
		if got := CanonicalMAC(in); got != want {
			t.Errorf("CanonicalMAC(%q) = %q, want %q", in, got, want)
		}
	}
}

// fakeAPI replays canned replies keyed by command word and records every
// sentence it receives.
type fakeAPI struct {
	replies map[string][]map[string]string
	failOn  string
	sent    [][]string
	closed  int
	dialErr error
	dialled int
}

func (f *fakeAPI) run(sentence ...string) ([]map[string]string, error) {
	f.sent = append(f.sent, sentence)
	if f.failOn != "" && sentence[0] == f.failOn {
		return nil, errors.New("from RouterOS device: failure: " + f.failOn)
	}
	return f.replies[sentence[0]], nil
}

func (f *fakeAPI) close() { f.closed++ }

func (f *fakeAPI) commands() []string {
	var out []string
	for _, s := range f.sent {
		out = append(out, strings.Join(s, " "))
	}
	return out
}

func newFakeMikroTik(api *fakeAPI) *MikroTik {
	m := NewMikroTik(MikroTikConfig{Host: "192.0.2.1", BlockList: "blocked"}, nil)
	m.dial = func(context.Context) (apiConn, error) {
		api.dialled++
		if api.dialErr != nil {
			return nil, api.dialErr
		}
		return api, nil
	}
	return m
}

func TestMikroTikActiveSessions(t *testing.T) {
	api := &fakeAPI{replies: map[string][]map[string]string{
		"/ip/hotspot/active/print": {{
			".id": "*1A", "user": "9876543210", "address": "10.5.50.2",
			"mac-address": "aa:bb:cc:dd:ee:ff", "uptime": "5m", "bytes-in": "1200", "bytes-out": "3400",
		}},
	}}
	m := newFakeMikroTik(api)

	got, err := m.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	want := []ActiveSession{{
		ID: "*1A", User: "9876543210", Address: "10.5.50.2",
		MACAddress: "AA:BB:CC:DD:EE:FF", Uptime: "5m", BytesIn: 1200, BytesOut: 3400,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions (-want +got):\n%s", diff)
	}
	if api.closed != 1 {
		t.Errorf("connection closed %d times, want 1", api.closed)
	}
}

func TestMikroTikEnsureUser(t *testing.T) {
	api := &fakeAPI{replies: map[string][]map[string]string{}}
	m := newFakeMikroTik(api)

	if err := m.EnsureUser(context.Background(), "9876543210", "R0", Client{}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	want := []string{
		"/ip/hotspot/user/print ?name=9876543210",
		"/ip/hotspot/user/add =name=9876543210 =password=R0 =profile=default",
	}
	if diff := cmp.Diff(want, api.commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}

	// Existing user with the same password: lookup only.
	api.sent = nil
	api.replies["/ip/hotspot/user/print"] = []map[string]string{{".id": "*7", "name": "9876543210", "password": "R0"}}
	if err := m.EnsureUser(context.Background(), "9876543210", "R0", Client{}); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 {
		t.Errorf("commands = %v, want lookup only", api.commands())
	}

	// Changed password is reset.
	api.sent = nil
	if err := m.EnsureUser(context.Background(), "9876543210", "F2", Client{}); err != nil {
		t.Fatal(err)
	}
	if got := api.commands()[1]; got != "/ip/hotspot/user/set =.id=*7 =password=F2" {
		t.Errorf("set command = %q", got)
	}
}

func TestMikroTikBlockIsIdempotent(t *testing.T) {
	api := &fakeAPI{replies: map[string][]map[string]string{}}
	m := newFakeMikroTik(api)
	entry := BlockEntry{MACAddress: "aa:bb:cc:dd:ee:ff", Address: "10.5.50.2", Comment: "blocked"}

	if err := m.Block(context.Background(), entry); err != nil {
		t.Fatalf("Block: %v", err)
	}
	want := []string{
		"/ip/hotspot/ip-binding/print ?mac-address=AA:BB:CC:DD:EE:FF",
		"/ip/hotspot/ip-binding/add =mac-address=AA:BB:CC:DD:EE:FF =type=blocked =comment=blocked",
		"/ip/firewall/address-list/print ?list=blocked ?address=10.5.50.2",
		"/ip/firewall/address-list/add =list=blocked =address=10.5.50.2 =comment=AA:BB:CC:DD:EE:FF",
	}
	if diff := cmp.Diff(want, api.commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}

	api.sent = nil
	api.replies["/ip/hotspot/ip-binding/print"] = []map[string]string{{".id": "*3"}}
	api.replies["/ip/firewall/address-list/print"] = []map[string]string{{".id": "*4"}}
	if err := m.Block(context.Background(), entry); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 2 {
		t.Errorf("second block should only look up, got %v", api.commands())
	}
}

func TestMikroTikFailuresAreClassifiedAndReleased(t *testing.T) {
	api := &fakeAPI{failOn: "/ip/hotspot/active/remove"}
	m := newFakeMikroTik(api)

	err := m.Disconnect(context.Background(), "*1")
	if !apperror.Is(err, apperror.KindRouterAPIError) {
		t.Fatalf("err = %v, want RouterApiError", err)
	}
	if api.closed != 1 {
		t.Errorf("connection not released after failure")
	}

	api.dialErr = &net.OpError{Op: "dial", Err: timeoutErr{}}
	if err := m.TestConnection(context.Background()); !apperror.Is(err, apperror.KindRouterConnectTimeout) {
		t.Errorf("dial failure: err = %v", err)
	}

	// The next call dials again.
	api.dialErr = nil
	if err := m.TestConnection(context.Background()); err != nil {
		t.Errorf("reconnect: %v", err)
	}
	if api.dialled != 3 {
		t.Errorf("dialled %d times, want 3", api.dialled)
	}
}

func newFakeOpenWrt(t *testing.T, outputs map[string]string) (*OpenWrt, *[]string) {
	t.Helper()
	c, err := NewOpenWrt(OpenWrtConfig{Address: "192.0.2.1", Username: "root", Password: "pw", AuthTimeout: 3600}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var cmds []string
	c.run = func(_ context.Context, cmd string) (string, error) {
		cmds = append(cmds, cmd)
		for prefix, out := range outputs {
			if strings.HasPrefix(cmd, prefix) {
				return out, nil
			}
		}
		return "", nil
	}
	return c, &cmds
}

func TestOpenWrtRequiresAuthMethod(t *testing.T) {
	if _, err := NewOpenWrt(OpenWrtConfig{Address: "192.0.2.1"}, nil); err == nil {
		t.Error("expected an error without password or key")
	}
}

func TestOpenWrtGrantAndList(t *testing.T) {
	c, cmds := newFakeOpenWrt(t, map[string]string{
		"ndsctl auth": "Client AA:BB:CC:DD:EE:FF authenticated",
		"ndsctl json": `{"client_list_length":"2","clients":{
			"aa:bb:cc:dd:ee:ff":{"ip":"10.0.0.5","mac":"aa:bb:cc:dd:ee:ff","state":"Authenticated","duration":90,"downloaded":"4","uploaded":2},
			"11:22:33:44:55:66":{"ip":"10.0.0.6","mac":"11:22:33:44:55:66","state":"Preauthenticated"}}}`,
	})
	ctx := context.Background()

	if err := c.EnsureUser(ctx, "9876543210", "R0", Client{MACAddress: "AA-BB-CC-DD-EE-FF"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if (*cmds)[0] != "ndsctl auth aa:bb:cc:dd:ee:ff 3600" {
		t.Errorf("auth command = %q", (*cmds)[0])
	}

	sessions, err := c.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	want := []ActiveSession{{
		ID: "aa:bb:cc:dd:ee:ff", User: "9876543210", Address: "10.0.0.5",
		MACAddress: "AA:BB:CC:DD:EE:FF", Uptime: "1m30s", BytesIn: 2048, BytesOut: 4096,
	}}
	if diff := cmp.Diff(want, sessions); diff != "" {
		t.Errorf("sessions (-want +got):\n%s", diff)
	}
}

func TestOpenWrtClientNotConnected(t *testing.T) {
	c, _ := newFakeOpenWrt(t, map[string]string{"ndsctl auth": "Client not found"})
	err := c.EnsureUser(context.Background(), "9876543210", "R0", Client{MACAddress: "aa:bb:cc:dd:ee:ff"})
	if !apperror.IsRouter(err) {
		t.Errorf("err = %v, want a router error", err)
	}
	if err := c.EnsureUser(context.Background(), "9876543210", "R0", Client{}); !apperror.IsRouter(err) {
		t.Errorf("missing MAC: err = %v", err)
	}
}

func TestStubRouter(t *testing.T) {
	ctx := context.Background()
	s := NewStub()

	if err := s.EnsureUser(ctx, "9876543210", "R0", Client{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "10.0.0.2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureUser(ctx, "9876543210", "R0", Client{MACAddress: "AA:BB:CC:DD:EE:FF"}); err != nil {
		t.Fatal(err)
	}
	active, _ := s.ActiveSessions(ctx)
	if len(active) != 1 || active[0].User != "9876543210" {
		t.Fatalf("active = %+v", active)
	}
	if err := s.Disconnect(ctx, active[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(ctx, active[0].ID); !apperror.IsRouter(err) {
		t.Errorf("disconnecting twice: err = %v", err)
	}

	s.SetErr(context.DeadlineExceeded)
	if _, err := s.ActiveSessions(ctx); !apperror.Is(err, apperror.KindRouterConnectTimeout) {
		t.Errorf("err = %v", err)
	}
}
