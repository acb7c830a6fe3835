package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/apierr"
	"github.com/parishkit/chms-go/events"
	"github.com/parishkit/chms-go/fake"
	"github.com/parishkit/chms-go/session"
	"github.com/parishkit/chms-go/store"
)

func newService(t *testing.T, opts ...fake.Option) *events.Service {
	t.Helper()
	opts = append(opts, fake.WithAccount("jane@parish.org", "pw", chms.RoleUser))
	b := fake.NewBackend(opts...)
	t.Cleanup(b.Close)

	svc := session.New(session.Config{BaseURL: b.URL()}, store.NewMem())
	if res, _ := svc.Login(context.Background(), "jane@parish.org", "pw"); !res.Success {
		t.Fatalf("login failed: %s", res.Message)
	}
	return events.New(svc.HTTP())
}

func TestList(t *testing.T) {
	s := newService(t, fake.WithEvents(
		chms.Event{ID: "e1", Title: "Youth camp", StartsAt: time.Now().Add(48 * time.Hour)},
	))

	page, err := s.List(context.Background(), chms.ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Title != "Youth camp" {
		t.Errorf("page = %+v", page)
	}
}

func TestGet(t *testing.T) {
	s := newService(t, fake.WithEvents(chms.Event{ID: "e1", Title: "Youth camp"}))

	e, err := s.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if e.Title != "Youth camp" {
		t.Errorf("Title = %q", e.Title)
	}

	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, apierr.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(context.Background(), ""); err == nil {
		t.Error("Get with empty id should error")
	}
}

func TestRSVP(t *testing.T) {
	s := newService(t, fake.WithEvents(chms.Event{ID: "e1", Title: "Youth camp"}))

	if err := s.RSVP(context.Background(), "e1", true); err != nil {
		t.Fatalf("RSVP error: %v", err)
	}
	if err := s.RSVP(context.Background(), "", true); err == nil {
		t.Error("RSVP with empty id should error")
	}
}
