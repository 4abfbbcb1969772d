package http

import (
	"time"

	"github.com/medping/golang_services/internal/broadcast_service/app"
	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string      `json:"status"` // success | error
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// CreateRequestDTO is a requester's broadcast.
// Pointers on coordinates keep 0 distinguishable from missing.
type CreateRequestDTO struct {
	Lat      *float64 `json:"lat" validate:"required,latitude"`
	Lng      *float64 `json:"lng" validate:"required,longitude"`
	RadiusKm float64  `json:"radius_km" validate:"required,gt=0"`
	Quantity int      `json:"quantity" validate:"required,min=1,max=1000"`
	Note     string   `json:"note,omitempty" validate:"max=1000"`
	ImageRef string   `json:"image_ref,omitempty" validate:"omitempty,max=512"`
}

type CreateRequestResponseDTO struct {
	RequestID   string               `json:"request_id"`
	Status      domain.RequestStatus `json:"status"`
	NearbyCount int                  `json:"nearby_count"`
}

// SubmitOfferDTO is a provider's answer to a request.
type SubmitOfferDTO struct {
	Kind            string `json:"kind" validate:"required,oneof=ACCEPTED SUBSTITUTE REJECTED"`
	Message         string `json:"message,omitempty" validate:"max=1000"`
	SubstituteName  string `json:"substitute_name,omitempty" validate:"max=200"`
	SubstitutePrice string `json:"substitute_price,omitempty" validate:"omitempty,numeric,max=20"`
	AudioRef        string `json:"audio_ref,omitempty" validate:"omitempty,max=512"`
}

type SubmitOfferResponseDTO struct {
	OfferID string `json:"offer_id"`
}

type SelectOfferResponseDTO struct {
	RequestID  string `json:"request_id"`
	ProviderID string `json:"provider_id"`
}

type CancelRequestResponseDTO struct {
	Status domain.RequestStatus `json:"status"`
}

// RequestDTO is a ServiceRequest as returned to clients.
type RequestDTO struct {
	ID                 string               `json:"id"`
	RequesterID        string               `json:"requester_id"`
	RequesterName      string               `json:"requester_name,omitempty"`
	Lat                float64              `json:"lat"`
	Lng                float64              `json:"lng"`
	RadiusKm           float64              `json:"radius_km"`
	Quantity           int                  `json:"quantity"`
	Note               string               `json:"note,omitempty"`
	ImageRef           string               `json:"image_ref,omitempty"`
	Status             domain.RequestStatus `json:"status"`
	AssignedProviderID string               `json:"assigned_provider_id,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

func toRequestDTO(r domain.ServiceRequest) RequestDTO {
	return RequestDTO{
		ID:                 r.ID,
		RequesterID:        r.RequesterID,
		RequesterName:      r.RequesterName,
		Lat:                r.Origin.Lat,
		Lng:                r.Origin.Lng,
		RadiusKm:           r.RadiusKm,
		Quantity:           r.Payload.Quantity,
		Note:               r.Payload.Note,
		ImageRef:           r.Payload.ImageRef,
		Status:             r.Status,
		AssignedProviderID: r.AssignedProviderID,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toRequestDTOs(rs []domain.ServiceRequest) []RequestDTO {
	out := make([]RequestDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestDTO(r))
	}
	return out
}

type OfferDTO struct {
	ID              string           `json:"id"`
	RequestID       string           `json:"request_id"`
	ProviderID      string           `json:"provider_id"`
	ProviderName    string           `json:"provider_name,omitempty"`
	Kind            domain.OfferKind `json:"kind"`
	Message         string           `json:"message,omitempty"`
	SubstituteName  string           `json:"substitute_name,omitempty"`
	SubstitutePrice string           `json:"substitute_price,omitempty"`
	AudioRef        string           `json:"audio_ref,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func toOfferDTOs(offers []domain.ProviderOffer) []OfferDTO {
	out := make([]OfferDTO, 0, len(offers))
	for _, o := range offers {
		out = append(out, OfferDTO{
			ID:              o.ID,
			RequestID:       o.RequestID,
			ProviderID:      o.ProviderID,
			ProviderName:    o.ProviderName,
			Kind:            o.Kind,
			Message:         o.Payload.Message,
			SubstituteName:  o.Payload.SubstituteName,
			SubstitutePrice: o.Payload.SubstitutePrice,
			AudioRef:        o.Payload.AudioRef,
			CreatedAt:       o.CreatedAt,
		})
	}
	return out
}

type RequestDetailDTO struct {
	Request RequestDTO `json:"request"`
	Offers  []OfferDTO `json:"offers"`
}

// UpdateProfileDTO is a provider reporting its name, location and availability.
type UpdateProfileDTO struct {
	Name   string   `json:"name" validate:"max=200"`
	Lat    *float64 `json:"lat" validate:"required,latitude"`
	Lng    *float64 `json:"lng" validate:"required,longitude"`
	Active *bool    `json:"active" validate:"required"`
}

type RegisterDeviceDTO struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=android ios"`
}

type DeviceDTO struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDeviceDTO(ep domain.DeliveryEndpoint) DeviceDTO {
	return DeviceDTO{ID: ep.ID, Platform: ep.Platform, Active: ep.Active, CreatedAt: ep.CreatedAt, UpdatedAt: ep.UpdatedAt}
}

// ProviderAnalyticsDTO groups the provider's response analytics.
type ProviderAnalyticsDTO struct {
	ResponseRate struct {
		TotalRequests int     `json:"total_requests"`
		Responded     int     `json:"responded"`
		Rate          float64 `json:"rate"`
	} `json:"response_rate"`
	AvgResponseTime struct {
		AvgMinutes float64 `json:"avg_minutes"`
		Benchmark  string  `json:"benchmark"`
	} `json:"avg_response_time"`
	ResponseBreakdown struct {
		Accepted    int `json:"accepted"`
		Rejected    int `json:"rejected"`
		Substituted int `json:"substituted"`
	} `json:"response_breakdown"`
}

func toProviderAnalyticsDTO(a *app.ProviderAnalytics) ProviderAnalyticsDTO {
	var dto ProviderAnalyticsDTO
	dto.ResponseRate.TotalRequests = a.Notified
	dto.ResponseRate.Responded = a.Responded
	dto.ResponseRate.Rate = a.ResponseRate
	dto.AvgResponseTime.AvgMinutes = a.AvgResponseMinutes
	dto.AvgResponseTime.Benchmark = a.Benchmark
	dto.ResponseBreakdown.Accepted = a.Accepted
	dto.ResponseBreakdown.Rejected = a.Rejected
	dto.ResponseBreakdown.Substituted = a.Substituted
	return dto
}
