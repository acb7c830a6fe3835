package fake_test

import (
	"context"
	"testing"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/fake"
)

func TestNewClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	client, b := fake.NewClient(
		fake.WithAccount("jane@parish.org", "pw", chms.RoleUser),
		fake.WithAnnouncements(chms.Announcement{ID: "a1", Title: "Harvest service"}),
		fake.WithEvents(chms.Event{ID: "e1", Title: "Youth camp"}),
	)
	defer b.Close()

	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}

	res, err := client.Auth().Login(ctx, "jane@parish.org", "pw")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if !res.Success {
		t.Fatalf("Login failed: %s", res.Message)
	}

	page, err := client.Announcements().List(ctx, chms.ListOptions{})
	if err != nil {
		t.Fatalf("List announcements error: %v", err)
	}
	if len(page.Announcements) != 1 || page.Announcements[0].Title != "Harvest service" {
		t.Errorf("announcements = %+v", page.Announcements)
	}

	eventPage, err := client.Events().List(ctx, chms.ListOptions{})
	if err != nil {
		t.Fatalf("List events error: %v", err)
	}
	if len(eventPage.Events) != 1 {
		t.Errorf("events = %+v", eventPage.Events)
	}
}

func TestNewClient_ExpiredTokenIsTransparent(t *testing.T) {
	ctx := context.Background()
	client, b := fake.NewClient(
		fake.WithAccount("jane@parish.org", "pw", chms.RoleUser),
		fake.WithAnnouncements(chms.Announcement{ID: "a1", Title: "Harvest service"}),
	)
	defer b.Close()

	res, _ := client.Auth().Login(ctx, "jane@parish.org", "pw")
	if !res.Success {
		t.Fatal("login failed")
	}

	// Simulate server-side token invalidation between calls.
	b.ExpireToken(res.Tokens.AccessToken)

	page, err := client.Announcements().List(ctx, chms.ListOptions{})
	if err != nil {
		t.Fatalf("List after token expiry: %v", err)
	}
	if len(page.Announcements) != 1 {
		t.Errorf("announcements = %+v", page.Announcements)
	}
	if _, refreshes, _ := b.Calls(); refreshes != 1 {
		t.Errorf("backend saw %d refreshes, want 1", refreshes)
	}
}

func TestConnectivity(t *testing.T) {
	ctx := context.Background()
	c := fake.NewConnectivity(true)
	if !c.Online(ctx) {
		t.Error("should start online")
	}
	c.SetOnline(false)
	if c.Online(ctx) {
		t.Error("should be offline after SetOnline(false)")
	}
}

func TestBackend_CallCounts(t *testing.T) {
	ctx := context.Background()
	client, b := fake.NewClient(fake.WithAccount("jane@parish.org", "pw", chms.RoleUser))
	defer b.Close()

	_, _ = client.Auth().Login(ctx, "jane@parish.org", "wrong")
	_, _ = client.Auth().Login(ctx, "jane@parish.org", "pw")
	_ = client.Auth().Logout(ctx)

	logins, refreshes, logouts := b.Calls()
	if logins != 2 || refreshes != 0 || logouts != 1 {
		t.Errorf("calls = login:%d refresh:%d logout:%d, want 2/0/1", logins, refreshes, logouts)
	}
}
