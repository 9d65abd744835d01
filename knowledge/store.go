package knowledge

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/kb-chat/extract"
)

// Persister mirrors store mutations into durable storage. Implementations
// must be safe for concurrent use. A nil Persister keeps the store purely
// in-memory.
type Persister interface {
	LoadGroups(ctx context.Context) ([]Group, string, error)
	SaveGroup(ctx context.Context, group Group) error
	DeleteGroup(ctx context.Context, groupID string) error
	SaveActiveGroup(ctx context.Context, groupID string) error
	AddURL(ctx context.Context, groupID string, u KnowledgeURL) error
	RemoveURL(ctx context.Context, groupID, rawURL string) error
	AddDocument(ctx context.Context, groupID string, doc Document) error
	RemoveDocument(ctx context.Context, groupID, docID string) error
}

// Store owns all knowledge groups and mediates every mutation. Exactly one
// group is active at any time; the active pointer always resolves to a
// group present in the collection.
type Store struct {
	mu            sync.RWMutex
	groups        []*Group
	activeGroupID string

	extractor      extract.Extractor
	persister      Persister
	logger         *log.Logger
	onMutate       func()
	onActiveChange func()
}

// NewStore builds a store seeded with one active group named "Default".
// When a persister is supplied and holds previously saved groups, those
// replace the seed.
func NewStore(ctx context.Context, extractor extract.Extractor, persister Persister, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	s := &Store{
		extractor: extractor,
		persister: persister,
		logger:    logger,
	}

	if persister != nil {
		groups, activeID, err := persister.LoadGroups(ctx)
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 {
			for i := range groups {
				g := groups[i]
				s.groups = append(s.groups, &g)
			}
			s.activeGroupID = activeID
			if s.findGroup(activeID) == nil {
				s.activeGroupID = s.groups[0].ID
			}
			return s, nil
		}
	}

	seed := Group{ID: uuid.NewString(), Name: "Default"}
	s.groups = []*Group{&seed}
	s.activeGroupID = seed.ID
	if persister != nil {
		if err := persister.SaveGroup(ctx, seed); err != nil {
			return nil, err
		}
		if err := persister.SaveActiveGroup(ctx, seed.ID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OnMutate registers a callback invoked after every successful mutation,
// outside the store lock. Used to re-derive suggestions.
func (s *Store) OnMutate(fn func()) {
	s.mu.Lock()
	s.onMutate = fn
	s.mu.Unlock()
}

// OnActiveChange registers a callback invoked whenever the active pointer
// moves, outside the store lock. That covers both explicit switches and
// deletion of the active group.
func (s *Store) OnActiveChange(fn func()) {
	s.mu.Lock()
	s.onActiveChange = fn
	s.mu.Unlock()
}

// Groups returns a snapshot of all groups in creation order.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, copyGroup(g))
	}
	return out
}

// ActiveGroup returns a snapshot of the active group. ok is false only if
// the active pointer fails to resolve, which signals an internal
// inconsistency; callers must then behave as if no group were active.
func (s *Store) ActiveGroup() (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.findGroup(s.activeGroupID)
	if g == nil {
		return Group{}, false
	}
	return copyGroup(g), true
}

// ActiveGroupID returns the id of the active group.
func (s *Store) ActiveGroupID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeGroupID
}

// CreateGroup appends a new empty group. The new group does not become
// active.
func (s *Store) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, validationErrorf(CodeEmptyName, "group name cannot be empty")
	}

	g := Group{ID: uuid.NewString(), Name: name}

	s.mu.Lock()
	s.groups = append(s.groups, &g)
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.SaveGroup(ctx, g) })
	s.notify()
	return copyGroup(&g), nil
}

// RenameGroup updates a group's display name.
func (s *Store) RenameGroup(ctx context.Context, groupID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationErrorf(CodeEmptyName, "group name cannot be empty")
	}

	s.mu.Lock()
	g := s.findGroup(groupID)
	if g == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	g.Name = name
	snapshot := copyGroup(g)
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.SaveGroup(ctx, snapshot) })
	s.notify()
	return nil
}

// DeleteGroup removes a group. The last remaining group cannot be deleted.
// Deleting the active group moves the active pointer to the first remaining
// group so the pointer always resolves.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	if s.findGroup(groupID) == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	if len(s.groups) == 1 {
		s.mu.Unlock()
		return validationErrorf(CodeLastGroup, "cannot delete the last group")
	}

	kept := s.groups[:0]
	for _, g := range s.groups {
		if g.ID != groupID {
			kept = append(kept, g)
		}
	}
	s.groups = kept

	activeChanged := false
	if s.activeGroupID == groupID {
		s.activeGroupID = s.groups[0].ID
		activeChanged = true
	}
	activeID := s.activeGroupID
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.DeleteGroup(ctx, groupID) })
	if activeChanged {
		s.persist(ctx, func(p Persister) error { return p.SaveActiveGroup(ctx, activeID) })
		s.notifyActiveChange()
	}
	s.notify()
	return nil
}

// SetActiveGroup moves the active pointer. Unknown ids leave the pointer
// unchanged and report CodeInvalidGroup.
func (s *Store) SetActiveGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	if s.findGroup(groupID) == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	s.activeGroupID = groupID
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.SaveActiveGroup(ctx, groupID) })
	s.notifyActiveChange()
	s.notify()
	return nil
}

// AddURL validates and appends a URL to a group. The title defaults to the
// raw URL. Duplicates and capacity overflows are rejected without mutation.
func (s *Store) AddURL(ctx context.Context, groupID, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return validationErrorf(CodeInvalidURL, "url cannot be empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return validationErrorf(CodeInvalidURL, "%q is not an absolute http(s) url", rawURL)
	}

	entry := KnowledgeURL{URL: rawURL, Title: rawURL}

	s.mu.Lock()
	g := s.findGroup(groupID)
	if g == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	if len(g.URLs) >= MaxURLs {
		s.mu.Unlock()
		return validationErrorf(CodeURLCapacity, "group already holds %d urls", MaxURLs)
	}
	for _, u := range g.URLs {
		if u.URL == rawURL {
			s.mu.Unlock()
			return validationErrorf(CodeDuplicateURL, "%q is already in the group", rawURL)
		}
	}
	g.URLs = append(g.URLs, entry)
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.AddURL(ctx, groupID, entry) })
	s.notify()
	return nil
}

// RemoveURL deletes a URL from a group, preserving the order of the
// remaining entries. Removing an absent URL is a no-op.
func (s *Store) RemoveURL(ctx context.Context, groupID, rawURL string) error {
	s.mu.Lock()
	g := s.findGroup(groupID)
	if g == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}

	removed := false
	kept := g.URLs[:0]
	for _, u := range g.URLs {
		if u.URL == rawURL {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	g.URLs = kept
	s.mu.Unlock()

	if !removed {
		return nil
	}

	s.persist(ctx, func(p Persister) error { return p.RemoveURL(ctx, groupID, rawURL) })
	s.notify()
	return nil
}

// AddDocument extracts text from the uploaded file and appends the result
// to the group. Capacity is checked before extraction runs so a full group
// never pays for decoding. Extraction failures leave the store unchanged.
func (s *Store) AddDocument(ctx context.Context, groupID, filename string, data []byte) (Document, error) {
	s.mu.RLock()
	g := s.findGroup(groupID)
	if g == nil {
		s.mu.RUnlock()
		return Document{}, validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	if len(g.Documents) >= MaxDocuments {
		s.mu.RUnlock()
		return Document{}, validationErrorf(CodeDocumentCapacity, "group already holds %d documents", MaxDocuments)
	}
	s.mu.RUnlock()

	// Extraction runs outside the lock; it can take a while for large
	// files.
	content, err := s.extractor.Extract(ctx, filename, data)
	if err != nil {
		return Document{}, err
	}

	doc := Document{ID: uuid.NewString(), Name: filename, Content: content}

	s.mu.Lock()
	g = s.findGroup(groupID)
	if g == nil {
		s.mu.Unlock()
		return Document{}, validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}
	if len(g.Documents) >= MaxDocuments {
		s.mu.Unlock()
		return Document{}, validationErrorf(CodeDocumentCapacity, "group already holds %d documents", MaxDocuments)
	}
	g.Documents = append(g.Documents, doc)
	s.mu.Unlock()

	s.persist(ctx, func(p Persister) error { return p.AddDocument(ctx, groupID, doc) })
	s.notify()
	return doc, nil
}

// RemoveDocument deletes a document by id. Removing an absent id is a
// no-op.
func (s *Store) RemoveDocument(ctx context.Context, groupID, docID string) error {
	s.mu.Lock()
	g := s.findGroup(groupID)
	if g == nil {
		s.mu.Unlock()
		return validationErrorf(CodeInvalidGroup, "unknown group %q", groupID)
	}

	removed := false
	kept := g.Documents[:0]
	for _, d := range g.Documents {
		if d.ID == docID {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	g.Documents = kept
	s.mu.Unlock()

	if !removed {
		return nil
	}

	s.persist(ctx, func(p Persister) error { return p.RemoveDocument(ctx, groupID, docID) })
	s.notify()
	return nil
}

func (s *Store) findGroup(groupID string) *Group {
	for _, g := range s.groups {
		if g.ID == groupID {
			return g
		}
	}
	return nil
}

// persist mirrors a successful in-memory mutation. The in-memory store is
// authoritative; a failed mirror write is logged, not rolled back.
func (s *Store) persist(ctx context.Context, op func(Persister) error) {
	if s.persister == nil {
		return
	}
	if err := op(s.persister); err != nil {
		s.logger.Printf("knowledge persistence error: %v", err)
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onMutate
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *Store) notifyActiveChange() {
	s.mu.RLock()
	fn := s.onActiveChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func copyGroup(g *Group) Group {
	out := Group{ID: g.ID, Name: g.Name}
	out.URLs = append([]KnowledgeURL(nil), g.URLs...)
	out.Documents = append([]Document(nil), g.Documents...)
	return out
}
