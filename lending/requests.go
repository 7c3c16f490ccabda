package lending

import (
	"context"
	"sort"
	"strings"
)

// RequestFilter narrows the tool-request listings. Zero value matches everything.
type RequestFilter struct {
	Search string
	Status RequestStatus
}

// AddToolRequest posts an open "looking for" listing on behalf of the current user.
func (s *Store) AddToolRequest(ctx context.Context, title, description string) (ToolRequest, error) {
	s.mu.Lock()
	user, ok := s.currentUser()
	if !ok {
		s.mu.Unlock()
		return ToolRequest{}, &Error{Kind: KindNotAuthenticated, Msg: "please sign in to create a request"}
	}
	req := ToolRequest{
		ID:                    s.newID(),
		UserID:                user.ID,
		RequesterName:         user.Name,
		RequesterNeighborhood: user.Neighborhood,
		Title:                 strings.TrimSpace(title),
		Description:           strings.TrimSpace(description),
		Status:                RequestOpen,
		CreatedAt:             s.now(),
	}
	if err := validateStruct(req); err != nil {
		s.mu.Unlock()
		return ToolRequest{}, err
	}
	epoch := s.epoch
	s.mu.Unlock()

	err := s.commit(ctx, "add tool request", epoch,
		func(p Persister) error { return p.InsertToolRequest(ctx, req) },
		func(p Persister) error { return p.DeleteToolRequest(ctx, req.ID) },
		func() error {
			s.requests = append(s.requests, req)
			return nil
		})
	if err != nil {
		return ToolRequest{}, err
	}
	s.notify(ChangeRequests)
	return req, nil
}

// ToolRequests returns matching listings, newest first.
func (s *Store) ToolRequests(f RequestFilter) []ToolRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(f.Search)
	var out []ToolRequest
	for _, r := range s.requests {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Title), q) &&
			!strings.Contains(strings.ToLower(r.Description), q) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
