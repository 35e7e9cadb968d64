package attendance

import (
	"github.com/gin-gonic/gin"

	"github.com/arts-tech-lab/backend/pkg/response"
)

// Handler handles GET /activities/:id/attendance.
type Handler struct {
	repo *Repository
}

// NewHandler creates an attendance handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetByActivity handles GET /activities/:id/attendance (lab staff: session rows + peak count).
func (h *Handler) GetByActivity(c *gin.Context) {
	activityID := c.Param("id")
	list, err := h.repo.ListByActivity(c.Request.Context(), activityID)
	if err != nil {
		response.Internal(c, "failed to list attendance")
		return
	}
	peak, err := h.repo.GetPeak(c.Request.Context(), activityID)
	if err != nil {
		response.Internal(c, "failed to load peak count")
		return
	}
	response.OK(c, gin.H{"attendance": list, "peak_participants": peak})
}
