// Package announce provides the announcements service over the shared
// authenticated HTTP client.
package announce

import (
	"context"
	"fmt"
	"net/http"

	chms "github.com/parishkit/chms-go"
	"github.com/parishkit/chms-go/rest"
)

// Service implements chms.AnnouncementService.
type Service struct {
	rest *rest.Client
}

// compile-time check
var _ chms.AnnouncementService = (*Service)(nil)

// New creates the service on top of the shared client (session.Service.HTTP()).
func New(c *rest.Client) *Service {
	return &Service{rest: c}
}

// List returns one page of announcements.
func (s *Service) List(ctx context.Context, opts chms.ListOptions) (*chms.AnnouncementPage, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	path := fmt.Sprintf("/api/announcements?page=%d&limit=%d", opts.Page, opts.Limit)
	env, err := s.rest.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	page := &chms.AnnouncementPage{}
	if err := env.DecodeData(page); err != nil {
		return nil, fmt.Errorf("announce: decode page: %w", err)
	}
	return page, nil
}

// Get returns one announcement by ID.
func (s *Service) Get(ctx context.Context, id string) (*chms.Announcement, error) {
	if id == "" {
		return nil, fmt.Errorf("announce: id cannot be empty")
	}

	env, err := s.rest.Do(ctx, http.MethodGet, "/api/announcements/"+id, nil)
	if err != nil {
		return nil, err
	}

	a := &chms.Announcement{}
	if err := env.DecodeData(a); err != nil {
		return nil, fmt.Errorf("announce: decode announcement: %w", err)
	}
	return a, nil
}

// Create publishes a new announcement. Admin-only server-side.
func (s *Service) Create(ctx context.Context, title, content string) (*chms.Announcement, error) {
	if title == "" {
		return nil, fmt.Errorf("announce: title cannot be empty")
	}

	env, err := s.rest.Do(ctx, http.MethodPost, "/api/announcements",
		map[string]string{"title": title, "content": content})
	if err != nil {
		return nil, err
	}

	a := &chms.Announcement{}
	if err := env.DecodeData(a); err != nil {
		return nil, fmt.Errorf("announce: decode announcement: %w", err)
	}
	return a, nil
}

// Update applies a partial update. Admin-only server-side.
func (s *Service) Update(ctx context.Context, id string, upd chms.AnnouncementUpdate) (*chms.Announcement, error) {
	if id == "" {
		return nil, fmt.Errorf("announce: id cannot be empty")
	}

	env, err := s.rest.Do(ctx, http.MethodPut, "/api/announcements/"+id, upd)
	if err != nil {
		return nil, err
	}

	a := &chms.Announcement{}
	if err := env.DecodeData(a); err != nil {
		return nil, fmt.Errorf("announce: decode announcement: %w", err)
	}
	return a, nil
}

// Delete removes an announcement. Admin-only server-side.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("announce: id cannot be empty")
	}

	_, err := s.rest.Do(ctx, http.MethodDelete, "/api/announcements/"+id, nil)
	return err
}
