// Package events provides the church-events service over the shared
// authenticated HTTP client.
package events

import (
	"context"
	"fmt"
	"net/http"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/rest"
)

// Service implements chms.EventService.
type Service struct {
	rest *rest.Client
}

// compile-time check
var _ chms.EventService = (*Service)(nil)

// New creates the service on top of the shared client (session.Service.HTTP()).
func New(c *rest.Client) *Service {
	return &Service{rest: c}
}

// List returns one page of events.
func (s *Service) List(ctx context.Context, opts chms.ListOptions) (*chms.EventPage, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	path := fmt.Sprintf("/api/events?page=%d&limit=%d", opts.Page, opts.Limit)
	env, err := s.rest.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	page := &chms.EventPage{}
	if err := env.DecodeData(page); err != nil {
		return nil, fmt.Errorf("events: decode page: %w", err)
	}
	return page, nil
}

// Get returns one event by ID.
func (s *Service) Get(ctx context.Context, id string) (*chms.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("events: id cannot be empty")
	}

	env, err := s.rest.Do(ctx, http.MethodGet, "/api/events/"+id, nil)
	if err != nil {
		return nil, err
	}

	e := &chms.Event{}
	if err := env.DecodeData(e); err != nil {
		return nil, fmt.Errorf("events: decode event: %w", err)
	}
	return e, nil
}

// RSVP records attendance for the current user.
func (s *Service) RSVP(ctx context.Context, id string, attending bool) error {
	if id == "" {
		return fmt.Errorf("events: id cannot be empty")
	}

	_, err := s.rest.Do(ctx, http.MethodPost, "/api/events/"+id+"/rsvp",
		map[string]bool{"attending": attending})
	return err
}
