package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Service applies the privacy rule on top of a Store
type Service struct {
	store   Store
	checker rbac.Checker
	logger  *logrus.Logger
}

// NewService creates a new calendar service
func NewService(store Store, checker rbac.Checker, logger *logrus.Logger) *Service {
	return &Service{store: store, checker: checker, logger: logger}
}

// Viewer loads the caller's effective permissions and admin flag
func (s *Service) Viewer(ctx context.Context, userID, firmID string) (Viewer, error) {
	isAdmin, err := s.checker.IsFirmAdmin(ctx, userID, firmID)
	if err != nil {
		return Viewer{}, err
	}
	perms, err := s.checker.EffectivePermissions(ctx, userID, firmID)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{UserID: userID, IsAdmin: isAdmin, Perms: perms}, nil
}

// Create stores a new entry on behalf of userID
func (s *Service) Create(ctx context.Context, userID, firmID string, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	v, err := s.Viewer(ctx, userID, firmID)
	if err != nil {
		return err
	}
	if !CanCreate(v, e.Kind, e.Scope) {
		return ErrForbidden
	}

	e.ID = ""
	e.FirmID = firmID
	e.CreatedBy = userID
	return s.store.Create(ctx, e)
}

// Get returns the entry if the caller may see it. Hidden entries are
// reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, firmID, id string) (*Entry, error) {
	e, _, err := s.load(ctx, userID, firmID, id)
	return e, err
}

func (s *Service) load(ctx context.Context, userID, firmID, id string) (*Entry, Access, error) {
	e, err := s.store.Get(ctx, firmID, id)
	if err != nil {
		return nil, AccessNone, err
	}
	v, err := s.Viewer(ctx, userID, firmID)
	if err != nil {
		return nil, AccessNone, err
	}
	access := Evaluate(v, e)
	if access == AccessNone {
		s.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"firm_id":  firmID,
			"entry_id": id,
		}).Debug("calendar entry hidden from caller")
		return nil, AccessNone, ErrNotFound
	}
	return e, access, nil
}

// List returns every entry the caller may see, ordered by start time
func (s *Service) List(ctx context.Context, userID, firmID string, opts ListOptions) ([]*Entry, error) {
	v, err := s.Viewer(ctx, userID, firmID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, firmID, userID, opts)
	if err != nil {
		return nil, err
	}

	visible := make([]*Entry, 0, len(candidates))
	for _, e := range candidates {
		if CanView(v, e) {
			visible = append(visible, e)
		}
	}
	return visible, nil
}

// Patch applies a partial update. The raw body decides which fields the
// caller is touching, so an assignee sending {"status": "done"} passes
// while {"status": "done", "title": "x"} fails with ErrStatusOnly.
func (s *Service) Patch(ctx context.Context, userID, firmID, id string, raw map[string]json.RawMessage) (*Entry, error) {
	e, access, err := s.load(ctx, userID, firmID, id)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(raw))
	for k := range raw {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	if err := CheckPatch(access, fields); err != nil {
		return nil, err
	}

	patch, err := DecodePatch(raw)
	if err != nil {
		return nil, err
	}
	patch.Apply(e)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to patch calendar entry: %w", err)
	}
	return e, nil
}

// Delete removes the entry. Only full access may delete.
func (s *Service) Delete(ctx context.Context, userID, firmID, id string) error {
	_, access, err := s.load(ctx, userID, firmID, id)
	if err != nil {
		return err
	}
	if access != AccessFull {
		return ErrForbidden
	}
	return s.store.Delete(ctx, firmID, id)
}
