package http

import (
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/medping/golang_services/internal/broadcast_service/app"
	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/middleware"
)

// NewValidator reports field errors under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler serves the request, offer, profile and device endpoints.
type Handler struct {
	manager  *app.LifecycleManager
	devices  *app.DeviceService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewHandler(manager *app.LifecycleManager, devices *app.DeviceService, logger *slog.Logger, validate *validator.Validate) *Handler {
	return &Handler{
		manager:  manager,
		devices:  devices,
		logger:   logger.With("component", "http_handler"),
		validate: validate,
	}
}

// RegisterRoutes mounts the authenticated API. The caller applies the authenticator.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(domain.RoleRequester, h.logger))
		r.Post("/requests", h.CreateRequest)
		r.Get("/requests", h.ListMyRequests)
		r.Get("/requests/{requestID}/offers", h.ListOffers)
		r.Post("/requests/{requestID}/cancel", h.CancelRequest)
		r.Post("/offers/{offerID}/select", h.SelectOffer)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(domain.RoleProvider, h.logger))
		r.Post("/requests/{requestID}/offers", h.SubmitOffer)
		r.Get("/provider/requests", h.ListProviderInbox)
		r.Put("/provider/profile", h.UpdateProviderProfile)
		r.Get("/provider/analytics", h.ProviderAnalytics)
	})

	// Either role.
	r.Get("/requests/{requestID}", h.GetRequest)
	r.Get("/devices", h.ListDevices)
	r.Post("/devices", h.RegisterDevice)
	r.Delete("/devices/{endpointID}", h.UnregisterDevice)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "Identity not found in context")
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or missing token", nil)
	}
	return id, ok
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var dto CreateRequestDTO
	if !h.decodeAndValidate(w, r, &dto) {
		return
	}

	res, err := h.manager.CreateRequest(r.Context(), caller, app.CreateRequestInput{
		Origin:   domain.Coordinate{Lat: *dto.Lat, Lng: *dto.Lng},
		RadiusKm: dto.RadiusKm,
		Payload:  domain.RequestPayload{Quantity: dto.Quantity, Note: dto.Note, ImageRef: dto.ImageRef},
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	message := "Request sent to " + strconv.Itoa(res.NearbyCount()) + " nearby pharmacies"
	switch res.NearbyCount() {
	case 0:
		message = "Request created, but no pharmacy is within range right now"
	case 1:
		message = "Request sent to 1 nearby pharmacy"
	}
	respondSuccess(w, http.StatusCreated, message, CreateRequestResponseDTO{
		RequestID:   res.Request.ID,
		Status:      res.Request.Status,
		NearbyCount: res.NearbyCount(),
	})
}

func (h *Handler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var dto SubmitOfferDTO
	if !h.decodeAndValidate(w, r, &dto) {
		return
	}

	offer, err := h.manager.SubmitOffer(r.Context(), caller, app.SubmitOfferInput{
		RequestID: chi.URLParam(r, "requestID"),
		Kind:      domain.OfferKind(dto.Kind),
		Payload: domain.OfferPayload{
			Message:         dto.Message,
			SubstituteName:  dto.SubstituteName,
			SubstitutePrice: dto.SubstitutePrice,
			AudioRef:        dto.AudioRef,
		},
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Response recorded", SubmitOfferResponseDTO{OfferID: offer.ID})
}

func (h *Handler) SelectOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	res, err := h.manager.SelectOffer(r.Context(), caller, chi.URLParam(r, "offerID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Offer selected", SelectOfferResponseDTO{
		RequestID:  res.Request.ID,
		ProviderID: res.Offer.ProviderID,
	})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, err := h.manager.CancelRequest(r.Context(), caller, chi.URLParam(r, "requestID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Request cancelled", CancelRequestResponseDTO{Status: req.Status})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	detail, err := h.manager.GetRequest(r.Context(), caller, chi.URLParam(r, "requestID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Request retrieved", RequestDetailDTO{
		Request: toRequestDTO(*detail.Request),
		Offers:  toOfferDTOs(detail.Offers),
	})
}

func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	offers, err := h.manager.ListOffers(r.Context(), caller, chi.URLParam(r, "requestID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Offers retrieved", toOfferDTOs(offers))
}

func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	reqs, err := h.manager.ListMyRequests(r.Context(), caller, queryLimit(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Requests retrieved", toRequestDTOs(reqs))
}

func (h *Handler) ListProviderInbox(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	reqs, err := h.manager.ListProviderInbox(r.Context(), caller, queryLimit(r))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Pending requests retrieved", toRequestDTOs(reqs))
}

func (h *Handler) ProviderAnalytics(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	a, err := h.manager.ProviderAnalytics(r.Context(), caller)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Analytics retrieved", toProviderAnalyticsDTO(a))
}

func (h *Handler) UpdateProviderProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var dto UpdateProfileDTO
	if !h.decodeAndValidate(w, r, &dto) {
		return
	}
	p, err := h.manager.UpdateProviderProfile(r.Context(), caller, app.ProviderProfile{
		Name:     dto.Name,
		Location: domain.Coordinate{Lat: *dto.Lat, Lng: *dto.Lng},
		Active:   *dto.Active,
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Profile updated", p)
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var dto RegisterDeviceDTO
	if !h.decodeAndValidate(w, r, &dto) {
		return
	}
	ep, err := h.devices.RegisterDevice(r.Context(), caller, dto.Token, dto.Platform)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, "Device registered", toDeviceDTO(*ep))
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	eps, err := h.devices.ListDevices(r.Context(), caller)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	out := make([]DeviceDTO, 0, len(eps))
	for _, ep := range eps {
		out = append(out, toDeviceDTO(ep))
	}
	respondSuccess(w, http.StatusOK, "Devices retrieved", out)
}

func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.devices.UnregisterDevice(r.Context(), caller, chi.URLParam(r, "endpointID")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, "Device unregistered", nil)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
