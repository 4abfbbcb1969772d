// Package memory is an in-process implementation of the broadcast repositories.
// It honours the same compare-and-swap contract as the Postgres repositories and
// backs STORE_DRIVER=memory and the lifecycle tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// requestRecord guards one request. Transitions take mu for writing; offer
// inserts hold it for reading so offers from different providers proceed together,
// and offersMu serialises only the per-provider uniqueness check.
type requestRecord struct {
	mu         sync.RWMutex
	req        domain.ServiceRequest
	recipients []domain.Recipient

	offersMu   sync.Mutex
	offers     []domain.ProviderOffer
	byProvider map[string]struct{}
}

// Store holds every entity in memory.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*requestRecord
	offers   sync.Map // offer id -> domain.ProviderOffer

	dirMu     sync.RWMutex
	providers map[string]domain.Provider
	endpoints map[string]domain.DeliveryEndpoint // by id
	tokens    map[string]string                  // token -> endpoint id
}

func NewStore() *Store {
	return &Store{
		requests:  make(map[string]*requestRecord),
		providers: make(map[string]domain.Provider),
		endpoints: make(map[string]domain.DeliveryEndpoint),
		tokens:    make(map[string]string),
	}
}

func (s *Store) Requests() *RequestRepository { return &RequestRepository{s: s} }
func (s *Store) Offers() *OfferRepository { return &OfferRepository{s: s} }
func (s *Store) Providers() *ProviderDirectory { return &ProviderDirectory{s: s} }
func (s *Store) Endpoints() *EndpointDirectory { return &EndpointDirectory{s: s} }

func (s *Store) record(id string) (*requestRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.requests[id]
	return rec, ok
}

// RequestRepository implements domain.RequestRepository.
type RequestRepository struct{ s *Store }

func (r *RequestRepository) CreateWithRecipients(_ context.Context, req *domain.ServiceRequest, recipients []domain.Recipient) error {
	rec := &requestRecord{
		req:        *req,
		recipients: append([]domain.Recipient(nil), recipients...),
		byProvider: make(map[string]struct{}),
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.requests[req.ID]; exists {
		return fmt.Errorf("request %s already exists: %w", req.ID, domain.ErrInvalidInput)
	}
	r.s.requests[req.ID] = rec
	return nil
}

func (r *RequestRepository) GetByID(_ context.Context, id string) (*domain.ServiceRequest, error) {
	rec, ok := r.s.record(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	req := rec.req
	return &req, nil
}

func (r *RequestRepository) ListByRequester(_ context.Context, requesterID string, limit int) ([]domain.ServiceRequest, error) {
	return r.s.collect(limit, func(rec *requestRecord) bool {
		return rec.req.RequesterID == requesterID
	}), nil
}

func (r *RequestRepository) ListPendingForProvider(_ context.Context, providerID string, limit int) ([]domain.ServiceRequest, error) {
	return r.s.collect(limit, func(rec *requestRecord) bool {
		if rec.req.Status != domain.StatusPending {
			return false
		}
		for _, rc := range rec.recipients {
			if rc.ProviderID == providerID {
				return true
			}
		}
		return false
	}), nil
}

// collect returns copies of matching requests, newest first.
func (s *Store) collect(limit int, match func(*requestRecord) bool) []domain.ServiceRequest {
	s.mu.RLock()
	recs := make([]*requestRecord, 0, len(s.requests))
	for _, rec := range s.requests {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]domain.ServiceRequest, 0)
	for _, rec := range recs {
		rec.mu.RLock()
		if match(rec) {
			out = append(out, rec.req)
		}
		rec.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *RequestRepository) Recipients(_ context.Context, requestID string) ([]domain.Recipient, error) {
	rec, ok := r.s.record(requestID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return append([]domain.Recipient(nil), rec.recipients...), nil
}

func (r *RequestRepository) IsRecipient(_ context.Context, requestID, providerID string) (bool, error) {
	rec, ok := r.s.record(requestID)
	if !ok {
		return false, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	for _, rc := range rec.recipients {
		if rc.ProviderID == providerID {
			return true, nil
		}
	}
	return false, nil
}

func (r *RequestRepository) TransitionFromPending(_ context.Context, id string, to domain.RequestStatus, assignedProviderID string, at time.Time) (*domain.ServiceRequest, error) {
	if to == domain.StatusPending || (to == domain.StatusAccepted) != (assignedProviderID != "") {
		return nil, fmt.Errorf("transition to %s with provider %q: %w", to, assignedProviderID, domain.ErrInvalidInput)
	}
	rec, ok := r.s.record(id)
	if !ok {
		return nil, domain.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.req.Status != domain.StatusPending {
		return nil, domain.ErrRequestClosed
	}
	rec.req.Status = to
	rec.req.AssignedProviderID = assignedProviderID
	rec.req.UpdatedAt = at
	req := rec.req
	return &req, nil
}

// CloseIfAllRejected holds the write lock, so no offer insert is in flight while
// the offers are inspected.
func (r *RequestRepository) CloseIfAllRejected(_ context.Context, id string, at time.Time) (*domain.ServiceRequest, bool, error) {
	rec, ok := r.s.record(id)
	if !ok {
		return nil, false, domain.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.req.Status != domain.StatusPending || len(rec.recipients) == 0 {
		return nil, false, nil
	}
	rejected := make(map[string]bool, len(rec.offers))
	for _, o := range rec.offers {
		if o.Kind != domain.OfferRejected {
			return nil, false, nil
		}
		rejected[o.ProviderID] = true
	}
	for _, rc := range rec.recipients {
		if !rejected[rc.ProviderID] {
			return nil, false, nil
		}
	}

	rec.req.Status = domain.StatusRejected
	rec.req.UpdatedAt = at
	req := rec.req
	return &req, true, nil
}

// OfferRepository implements domain.OfferRepository.
type OfferRepository struct{ s *Store }

func (o *OfferRepository) Create(_ context.Context, offer *domain.ProviderOffer) error {
	rec, ok := o.s.record(offer.RequestID)
	if !ok {
		return domain.ErrNotFound
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.req.Status != domain.StatusPending {
		return domain.ErrRequestClosed
	}

	rec.offersMu.Lock()
	defer rec.offersMu.Unlock()
	if _, dup := rec.byProvider[offer.ProviderID]; dup {
		return domain.ErrDuplicateOffer
	}
	rec.byProvider[offer.ProviderID] = struct{}{}
	rec.offers = append(rec.offers, *offer)
	o.s.offers.Store(offer.ID, *offer)
	return nil
}

func (o *OfferRepository) GetByID(_ context.Context, id string) (*domain.ProviderOffer, error) {
	v, ok := o.s.offers.Load(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	offer := v.(domain.ProviderOffer)
	return &offer, nil
}

func (o *OfferRepository) ListByRequest(_ context.Context, requestID string) ([]domain.ProviderOffer, error) {
	rec, ok := o.s.record(requestID)
	if !ok {
		return []domain.ProviderOffer{}, nil
	}
	rec.offersMu.Lock()
	defer rec.offersMu.Unlock()
	return append([]domain.ProviderOffer{}, rec.offers...), nil
}

func (o *OfferRepository) StatsForProvider(_ context.Context, providerID string) (domain.ProviderStats, error) {
	o.s.mu.RLock()
	records := make([]*requestRecord, 0, len(o.s.requests))
	for _, rec := range o.s.requests {
		records = append(records, rec)
	}
	o.s.mu.RUnlock()

	var st domain.ProviderStats
	for _, rec := range records {
		rec.mu.RLock()
		notified := false
		for _, rc := range rec.recipients {
			if rc.ProviderID == providerID {
				notified = true
				break
			}
		}
		created := rec.req.CreatedAt
		rec.offersMu.Lock()
		for _, off := range rec.offers {
			if off.ProviderID != providerID {
				continue
			}
			if notified {
				st.Responded++
			}
			switch off.Kind {
			case domain.OfferAccepted:
				st.Accepted++
			case domain.OfferRejected:
				st.Rejected++
			case domain.OfferSubstitute:
				st.Substituted++
			}
			if d := off.CreatedAt.Sub(created); d >= 0 {
				st.TimedOffers++
				st.ResponseTime += d
			}
		}
		rec.offersMu.Unlock()
		rec.mu.RUnlock()
		if notified {
			st.Notified++
		}
	}
	return st, nil
}

// ProviderDirectory implements domain.ProviderDirectory.
type ProviderDirectory struct{ s *Store }

func (p *ProviderDirectory) ListActive(_ context.Context) ([]domain.Provider, error) {
	p.s.dirMu.RLock()
	defer p.s.dirMu.RUnlock()
	out := make([]domain.Provider, 0, len(p.s.providers))
	for _, pr := range p.s.providers {
		if pr.Active {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *ProviderDirectory) GetByID(_ context.Context, id string) (*domain.Provider, error) {
	p.s.dirMu.RLock()
	defer p.s.dirMu.RUnlock()
	pr, ok := p.s.providers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &pr, nil
}

func (p *ProviderDirectory) Upsert(_ context.Context, pr *domain.Provider) error {
	p.s.dirMu.Lock()
	defer p.s.dirMu.Unlock()
	p.s.providers[pr.ID] = *pr
	return nil
}

// EndpointDirectory implements domain.EndpointDirectory.
type EndpointDirectory struct{ s *Store }

func (e *EndpointDirectory) ListActive(_ context.Context, owner domain.RecipientKey) ([]domain.DeliveryEndpoint, error) {
	e.s.dirMu.RLock()
	defer e.s.dirMu.RUnlock()
	out := make([]domain.DeliveryEndpoint, 0)
	for _, ep := range e.s.endpoints {
		if ep.Owner == owner && ep.Active {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (e *EndpointDirectory) Register(_ context.Context, ep *domain.DeliveryEndpoint) (*domain.DeliveryEndpoint, error) {
	e.s.dirMu.Lock()
	defer e.s.dirMu.Unlock()

	now := ep.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if id, ok := e.s.tokens[ep.Token]; ok {
		existing := e.s.endpoints[id]
		existing.Owner = ep.Owner
		existing.Platform = ep.Platform
		existing.Active = true
		existing.UpdatedAt = now
		e.s.endpoints[id] = existing
		return &existing, nil
	}

	stored := *ep
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Active = true
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	e.s.endpoints[stored.ID] = stored
	e.s.tokens[stored.Token] = stored.ID
	return &stored, nil
}

func (e *EndpointDirectory) DeactivateToken(_ context.Context, token string) error {
	e.s.dirMu.Lock()
	defer e.s.dirMu.Unlock()
	id, ok := e.s.tokens[token]
	if !ok {
		return nil
	}
	ep := e.s.endpoints[id]
	ep.Active = false
	ep.UpdatedAt = time.Now().UTC()
	e.s.endpoints[id] = ep
	return nil
}

func (e *EndpointDirectory) Deactivate(_ context.Context, owner domain.RecipientKey, id string) error {
	e.s.dirMu.Lock()
	defer e.s.dirMu.Unlock()
	ep, ok := e.s.endpoints[id]
	if !ok || ep.Owner != owner {
		return domain.ErrNotFound
	}
	ep.Active = false
	ep.UpdatedAt = time.Now().UTC()
	e.s.endpoints[id] = ep
	return nil
}

var (
	_ domain.RequestRepository = (*RequestRepository)(nil)
	_ domain.OfferRepository   = (*OfferRepository)(nil)
	_ domain.ProviderDirectory = (*ProviderDirectory)(nil)
	_ domain.EndpointDirectory = (*EndpointDirectory)(nil)
)
