package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tracklab/api/internal/service"
	"github.com/tracklab/api/pkg/response"
)

// TrackHandler serves finished tracks.
type TrackHandler struct {
	svc *service.GenerationService
}

func NewTrackHandler(svc *service.GenerationService) *TrackHandler {
	return &TrackHandler{svc: svc}
}

// Get handles GET /api/tracks/:trackId.
func (h *TrackHandler) Get(c *fiber.Ctx) error {
	track, err := h.svc.GetTrack(c.Context(), c.Params("trackId"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, track)
}

// List handles GET /api/tracks with limit/offset pagination.
func (h *TrackHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	tracks, err := h.svc.ListTracks(c.Context(), limit, offset)
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"tracks": tracks, "count": len(tracks)})
}
