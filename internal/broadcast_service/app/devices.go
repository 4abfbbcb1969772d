package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

// DeviceService binds push tokens to the calling identity.
type DeviceService struct {
	endpoints domain.EndpointDirectory
	logger    *slog.Logger
	now       func() time.Time
}

func NewDeviceService(endpoints domain.EndpointDirectory, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		endpoints: endpoints,
		logger:    logger.With("component", "device_registry"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDevice upserts the token for the caller. A token that previously
// belonged to someone else moves to the caller.
func (s *DeviceService) RegisterDevice(ctx context.Context, caller domain.Identity, token, platform string) (*domain.DeliveryEndpoint, error) {
	token = strings.TrimSpace(token)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if platform != "android" && platform != "ios" {
		return nil, fmt.Errorf("%w: platform must be android or ios", domain.ErrInvalidInput)
	}

	now := s.now()
	ep, err := s.endpoints.Register(ctx, &domain.DeliveryEndpoint{
		ID:        uuid.NewString(),
		Owner:     caller.Key(),
		Token:     token,
		Platform:  platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to register device", "owner", caller.Key(), "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "Device registered", "owner", caller.Key(), "endpoint_id", ep.ID, "platform", ep.Platform)
	return ep, nil
}

// UnregisterDevice deactivates one of the caller's endpoints.
func (s *DeviceService) UnregisterDevice(ctx context.Context, caller domain.Identity, endpointID string) error {
	if err := s.endpoints.Deactivate(ctx, caller.Key(), endpointID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Device unregistered", "owner", caller.Key(), "endpoint_id", endpointID)
	return nil
}

// ListDevices returns the caller's active endpoints.
func (s *DeviceService) ListDevices(ctx context.Context, caller domain.Identity) ([]domain.DeliveryEndpoint, error) {
	return s.endpoints.ListActive(ctx, caller.Key())
}
