package domain

import "time"

// RequestStatus is the lifecycle state of a ServiceRequest.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusAccepted  RequestStatus = "ACCEPTED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

// OfferKind is a provider's answer to a request.
type OfferKind string

const (
	OfferAccepted   OfferKind = "ACCEPTED"
	OfferSubstitute OfferKind = "SUBSTITUTE"
	OfferRejected   OfferKind = "REJECTED"
)

// Valid reports whether k is one of the known kinds.
func (k OfferKind) Valid() bool {
	switch k {
	case OfferAccepted, OfferSubstitute, OfferRejected:
		return true
	}
	return false
}

// Selectable reports whether a requester may pick an offer of this kind.
func (k OfferKind) Selectable() bool {
	return k == OfferAccepted || k == OfferSubstitute
}

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RequestPayload describes what the requester is asking for.
type RequestPayload struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
	ImageRef string `json:"image_ref,omitempty"` // reference into external file storage
}

// ServiceRequest is a requester's broadcast to nearby providers.
// AssignedProviderID is set if and only if Status is ACCEPTED.
type ServiceRequest struct {
	ID                 string         `json:"id"`
	RequesterID        string         `json:"requester_id"`
	RequesterName      string         `json:"requester_name,omitempty"`
	Origin             Coordinate     `json:"origin"`
	RadiusKm           float64        `json:"radius_km"`
	Payload            RequestPayload `json:"payload"`
	Status             RequestStatus  `json:"status"`
	AssignedProviderID string         `json:"assigned_provider_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// OfferPayload is the optional content of a provider's answer.
type OfferPayload struct {
	Message         string `json:"message,omitempty"`
	SubstituteName  string `json:"substitute_name,omitempty"`
	SubstitutePrice string `json:"substitute_price,omitempty"`
	AudioRef        string `json:"audio_ref,omitempty"`
}

// ProviderOffer is immutable once created. At most one exists per (RequestID, ProviderID).
type ProviderOffer struct {
	ID           string       `json:"id"`
	RequestID    string       `json:"request_id"`
	ProviderID   string       `json:"provider_id"`
	ProviderName string       `json:"provider_name,omitempty"`
	Kind         OfferKind    `json:"kind"`
	Payload      OfferPayload `json:"payload"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ProviderStats are the raw response counters behind a provider's analytics.
// Responded counts only requests the provider was notified about; the kind
// counters cover every offer it made.
type ProviderStats struct {
	Notified    int
	Responded   int
	Accepted    int
	Rejected    int
	Substituted int
	// TimedOffers is the number of offers created no earlier than their request,
	// and ResponseTime their summed delay.
	TimedOffers  int
	ResponseTime time.Duration
}

// Provider is read from the provider directory. Only active providers are matched.
type Provider struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Location Coordinate `json:"location"`
	Active   bool       `json:"active"`
}

// Recipient is a provider that was notified about a request, with its distance at creation time.
type Recipient struct {
	ProviderID string  `json:"provider_id"`
	DistanceKm float64 `json:"distance_km"`
}

// DeliveryEndpoint is a push token bound to a recipient.
type DeliveryEndpoint struct {
	ID        string       `json:"id"`
	Owner     RecipientKey `json:"-"`
	Token     string       `json:"token"`
	Platform  string       `json:"platform"` // android | ios
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
