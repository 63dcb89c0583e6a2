// Package store provides the in-memory state of the widget: the loaded project,
// the signed-in user and the issue filters. It groups issues into columns and
// supports optimistic moves with rollback.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/h0rv/bugbox/internal/domain"
)

var (
	// ErrNoProject indicates no project has been set in the store.
	ErrNoProject = errors.New("no project set")
	// ErrIssueNotFound indicates the requested issue does not exist.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrInvalidGroup indicates a group ID that is not part of the project.
	ErrInvalidGroup = errors.New("invalid group ID")
)

// Filters narrow the issues shown to the user.
type Filters struct {
	// CurrentPageOnly keeps issues reported from the current page.
	CurrentPageOnly bool
	// GroupID keeps issues in one group; empty keeps all.
	GroupID string
}

// Column is a group with the IDs of its issues, in fetch order.
type Column struct {
	Group    domain.Group
	IssueIDs []string
}

// Store manages the in-memory state of the selected project.
type Store struct {
	// Project metadata and groups; issues live in the map below
	meta   domain.ProjectMeta
	groups []domain.Group
	loaded bool

	user    *domain.User
	pageURL string
	filters Filters

	// Issue storage
	issues map[string]*domain.Issue // ID -> Issue
	order  []string                 // IDs in fetch order

	// Rollback state for optimistic updates
	rollbackIssue *domain.Issue
}

// New creates an empty Store. The current-page filter starts enabled.
func New() *Store {
	return &Store{
		issues:  make(map[string]*domain.Issue),
		filters: Filters{CurrentPageOnly: true},
	}
}

// SetProject replaces the project and all of its issues.
func (s *Store) SetProject(p *domain.Project) {
	s.issues = make(map[string]*domain.Issue)
	s.order = nil
	s.rollbackIssue = nil

	if p == nil {
		s.meta, s.groups, s.loaded = domain.ProjectMeta{}, nil, false
		return
	}

	s.meta = p.Meta
	s.groups = append([]domain.Group(nil), p.Groups...)
	s.loaded = true
	for _, is := range p.Issues {
		s.put(is)
	}

	if s.filters.GroupID != "" && !s.hasGroup(s.filters.GroupID) {
		s.filters.GroupID = ""
	}
}

// GetProject returns a snapshot of the current project, or nil if not set.
func (s *Store) GetProject() *domain.Project {
	if !s.loaded {
		return nil
	}
	return &domain.Project{
		Meta:   s.meta,
		Groups: s.Groups(),
		Issues: s.Issues(),
	}
}

// SetUser sets the signed-in user.
func (s *Store) SetUser(u *domain.User) {
	s.user = u
}

// GetUser returns the signed-in user, or nil.
func (s *Store) GetUser() *domain.User {
	return s.user
}

// SetPageURL sets the URL of the page the widget is reporting from.
func (s *Store) SetPageURL(u string) {
	s.pageURL = u
}

// GetPageURL returns the current page URL.
func (s *Store) GetPageURL() string {
	return s.pageURL
}

// SetFilters replaces the active filters.
func (s *Store) SetFilters(f Filters) {
	s.filters = f
}

// GetFilters returns the active filters.
func (s *Store) GetFilters() Filters {
	return s.filters
}

// Groups returns the project groups in order.
func (s *Store) Groups() []domain.Group {
	groups := make([]domain.Group, len(s.groups))
	copy(groups, s.groups)
	return groups
}

// Issues returns all issues in fetch order.
func (s *Store) Issues() []*domain.Issue {
	issues := make([]*domain.Issue, 0, len(s.order))
	for _, id := range s.order {
		issues = append(issues, s.issues[id])
	}
	return issues
}

// GetIssue retrieves an issue by ID, returning ErrIssueNotFound if not found.
func (s *Store) GetIssue(id string) (*domain.Issue, error) {
	is, ok := s.issues[id]
	if !ok {
		return nil, ErrIssueNotFound
	}
	return is, nil
}

// VisibleIssues returns the issues passing the active filters, in fetch order.
func (s *Store) VisibleIssues() []*domain.Issue {
	var visible []*domain.Issue
	for _, id := range s.order {
		is := s.issues[id]
		if s.filters.CurrentPageOnly && !s.onCurrentPage(is) {
			continue
		}
		if s.filters.GroupID != "" && is.GroupID != s.filters.GroupID {
			continue
		}
		visible = append(visible, is)
	}
	return visible
}

// onCurrentPage reports whether the issue was reported from the current page.
// Without a page URL every issue matches.
func (s *Store) onCurrentPage(is *domain.Issue) bool {
	page := strings.TrimSpace(s.pageURL)
	if page == "" {
		return true
	}
	return is.Meta.URL != "" && strings.Contains(is.Meta.URL, page)
}

// Columns returns one column per group, in group order, holding the IDs of the
// visible issues in that group. Issues whose group is unknown are dropped.
func (s *Store) Columns() []Column {
	cols := make([]Column, len(s.groups))
	index := make(map[string]int, len(s.groups))
	for i, g := range s.groups {
		cols[i] = Column{Group: g, IssueIDs: []string{}}
		index[g.ID] = i
	}

	for _, is := range s.VisibleIssues() {
		if i, ok := index[is.GroupID]; ok {
			cols[i].IssueIDs = append(cols[i].IssueIDs, is.ID)
		}
	}
	return cols
}

// AddIssue stores a newly created issue. An issue with the same ID is replaced.
func (s *Store) AddIssue(is *domain.Issue) {
	if is == nil {
		return
	}
	if g, ok := s.group(is.GroupID); ok && is.Group.Name == "" {
		is = is.WithGroup(g)
	}
	s.put(is)
}

// MoveIssue performs an optimistic move of an issue to another group.
// The previous state is saved for RollbackMove.
func (s *Store) MoveIssue(id, groupID string) error {
	if !s.loaded {
		return ErrNoProject
	}
	is, ok := s.issues[id]
	if !ok {
		return ErrIssueNotFound
	}
	g, ok := s.group(groupID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidGroup, groupID)
	}

	s.rollbackIssue = is
	s.issues[id] = is.WithGroup(g)
	return nil
}

// RollbackMove reverts the last MoveIssue.
// This should be called when the backend rejects the move.
func (s *Store) RollbackMove() error {
	if s.rollbackIssue == nil {
		return errors.New("no rollback state available")
	}

	s.issues[s.rollbackIssue.ID] = s.rollbackIssue
	s.rollbackIssue = nil
	return nil
}

// CommitMove discards the rollback state after the backend accepted a move.
func (s *Store) CommitMove() {
	s.rollbackIssue = nil
}

// Reset completely resets the store to its initial state.
func (s *Store) Reset() {
	*s = *New()
}

func (s *Store) put(is *domain.Issue) {
	if _, exists := s.issues[is.ID]; !exists {
		s.order = append(s.order, is.ID)
	}
	s.issues[is.ID] = is
}

func (s *Store) group(id string) (domain.Group, bool) {
	for _, g := range s.groups {
		if g.ID == id {
			return g, true
		}
	}
	return domain.Group{}, false
}

func (s *Store) hasGroup(id string) bool {
	_, ok := s.group(id)
	return ok
}
