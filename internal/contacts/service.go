package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Repository is the persistence contract for contacts.
//
// FindByNormalizedNumber matches contacts whose phone_normalized or
// mobile_normalized equals the candidate exactly.
type Repository interface {
	FindByNormalizedNumber(ctx context.Context, number string) ([]Contact, error)
	GetByID(ctx context.Context, id string) (Contact, error)
	Create(ctx context.Context, c Contact) (Contact, error)
	Update(ctx context.Context, c Contact) error
	Delete(ctx context.Context, id string) error
}

var ErrNotFound = errors.New("contacts: not found")

// Service resolves phone numbers to contacts.
//
// Lookups run on every AMI event, so results are cached per
// (number, country) pair. Any contact mutation flushes the cache; going
// through Service for writes is what keeps the cache honest.
type Service struct {
	repo  Repository
	log   *slog.Logger
	cache *cache
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:  repo,
		log:   log,
		cache: newCache(),
		clock: time.Now,
	}
}

// Normalize is the package-level Normalize; kept on Service so callers hold
// a single dependency.
func (s *Service) Normalize(number, country string) string {
	return Normalize(number, country)
}

// ResolveByNumber resolves a raw caller/dialed number to a contact.
//
// Candidates are tried in order until one matches:
//  1. "+" + stripped number
//  2. stripped number
//  3. E.164 form (when it differs from the first two)
//
// Junk inputs ("unknown", "s", fewer than 7 digits) short-circuit to no
// match without touching the repository.
func (s *Service) ResolveByNumber(ctx context.Context, number, country string) (Match, error) {
	stripped := StripNumber(number)
	if stripped == "" || strings.Contains(stripped, "unknown") || stripped == "s" || len(stripped) < 7 {
		return Match{}, nil
	}

	key := stripped + "|" + country
	if m, ok := s.cache.get(key); ok {
		return m, nil
	}

	m, err := s.resolve(ctx, stripped, country)
	if err != nil {
		return Match{}, err
	}
	s.cache.set(key, m)
	return m, nil
}

func (s *Service) resolve(ctx context.Context, stripped, country string) (Match, error) {
	numberPlus := "+" + stripped

	if m, err := s.matchOne(ctx, numberPlus); err != nil || m.Found() {
		return m, err
	}
	if m, err := s.matchOne(ctx, stripped); err != nil || m.Found() {
		return m, err
	}
	e164 := formatE164(stripped, country)
	if e164 != "" && e164 != stripped && e164 != numberPlus {
		return s.matchOne(ctx, e164)
	}
	return Match{}, nil
}

// matchOne applies the ambiguity policy to the contacts matching number.
//
// One contact wins outright. Several contacts sharing exactly one parent
// organization resolve to that organization. Several contacts across several
// organizations are too ambiguous to guess; precision beats recall here.
func (s *Service) matchOne(ctx context.Context, number string) (Match, error) {
	found, err := s.repo.FindByNormalizedNumber(ctx, number)
	if err != nil {
		return Match{}, fmt.Errorf("contacts: lookup %q: %w", number, err)
	}
	if len(found) == 0 {
		return Match{}, nil
	}
	if len(found) == 1 {
		return Match{ID: found[0].ID, Name: found[0].Name}, nil
	}

	parents := distinctParents(found)
	switch {
	case len(parents) == 0:
		s.log.Warn("many contacts for number", "number", number, "count", len(found))
		return Match{ID: found[0].ID, Name: found[0].Name}, nil
	case len(parents) > 1:
		s.log.Warn("many contacts across different organizations for number", "number", number)
		return Match{}, nil
	}

	// Exactly one parent organization among the matches.
	withParent := contactsOfParent(found, parents[0])
	if len(found) == 2 && len(withParent) == 1 {
		return Match{ID: withParent[0].ID, Name: withParent[0].Name}, nil
	}
	if len(withParent) > 1 {
		org, err := s.repo.GetByID(ctx, parents[0])
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Match{}, nil
			}
			return Match{}, fmt.Errorf("contacts: parent %q: %w", parents[0], err)
		}
		return Match{ID: org.ID, Name: org.Name}, nil
	}

	// Three or more contacts where only one carries the parent: no single
	// credible target.
	s.log.Warn("ambiguous contacts for number", "number", number, "count", len(found))
	return Match{}, nil
}

// AutoCreate creates a contact named after the caller ID number.
// Used for inbound calls from unknown numbers when enabled in config.
func (s *Service) AutoCreate(ctx context.Context, number, country string) (Contact, error) {
	c := Contact{
		Name:    number,
		Phone:   number,
		Country: country,
	}
	created, err := s.Create(ctx, c)
	if err != nil {
		return Contact{}, err
	}
	s.log.Info("auto created contact", "contact_id", created.ID, "number", number)
	return created, nil
}

// Create stores a contact with recomputed normalized numbers and flushes
// the lookup cache.
func (s *Service) Create(ctx context.Context, c Contact) (Contact, error) {
	s.applyNormalized(&c)
	now := s.clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return Contact{}, err
	}
	s.cache.flush()
	return created, nil
}

// Update stores a contact with recomputed normalized numbers and flushes
// the lookup cache.
func (s *Service) Update(ctx context.Context, c Contact) error {
	s.applyNormalized(&c)
	c.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.cache.flush()
	return nil
}

// Delete removes a contact and flushes the lookup cache.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.flush()
	return nil
}

// Get returns a contact by id.
func (s *Service) Get(ctx context.Context, id string) (Contact, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) applyNormalized(c *Contact) {
	c.PhoneNormalized = ""
	c.MobileNormalized = ""
	if c.Phone != "" {
		c.PhoneNormalized = Normalize(c.Phone, c.Country)
	}
	if c.Mobile != "" {
		c.MobileNormalized = Normalize(c.Mobile, c.Country)
	}
}

func distinctParents(found []Contact) []string {
	seen := map[string]bool{}
	var parents []string
	for _, c := range found {
		if c.ParentID == "" || seen[c.ParentID] {
			continue
		}
		seen[c.ParentID] = true
		parents = append(parents, c.ParentID)
	}
	return parents
}

func contactsOfParent(found []Contact, parentID string) []Contact {
	var out []Contact
	for _, c := range found {
		if c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out
}

// cache wraps go-cache with the small surface the service needs.
type cache struct {
	c *gocache.Cache
}

func newCache() *cache {
	return &cache{c: gocache.New(10*time.Minute, 30*time.Minute)}
}

func (c *cache) get(key string) (Match, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return Match{}, false
	}
	m, ok := v.(Match)
	return m, ok
}

func (c *cache) set(key string, m Match) {
	c.c.Set(key, m, gocache.DefaultExpiration)
}

func (c *cache) flush() {
	c.c.Flush()
}
