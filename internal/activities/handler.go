package activities

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arts-tech-lab/backend/internal/middleware"
	"github.com/arts-tech-lab/backend/internal/models"
	"github.com/arts-tech-lab/backend/pkg/response"
)

// CreateRequest is the body for POST /activities.
type CreateRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Questions   []QuestionRequest `json:"questions"`
}

// QuestionRequest is one question in CreateRequest.
type QuestionRequest struct {
	Prompt  string   `json:"prompt" binding:"required"`
	Kind    string   `json:"kind"`
	Options []string `json:"options"`
}

// Handler handles activity HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an activities handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /activities.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list activities")
		return
	}
	response.OK(c, gin.H{"activities": list})
}

// GetByID handles GET /activities/:id, including the question list.
func (h *Handler) GetByID(c *gin.Context) {
	id := c.Param("id")
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "activity not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load activity")
		return
	}
	questions, err := h.repo.ListQuestions(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load questions")
		return
	}
	response.OK(c, gin.H{"activity": a, "questions": questions})
}

// Create handles POST /activities (lab staff only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	a := &models.Activity{
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   &userID,
	}
	questions := make([]models.ActivityQuestion, 0, len(req.Questions))
	for _, q := range req.Questions {
		kind := models.QuestionKind(q.Kind)
		if kind == "" {
			kind = models.QuestionChoice
		}
		opts := q.Options
		if opts == nil {
			opts = []string{}
		}
		questions = append(questions, models.ActivityQuestion{Prompt: q.Prompt, Kind: kind, Options: opts})
	}
	if err := h.repo.Create(c.Request.Context(), a, questions); err != nil {
		response.Internal(c, "failed to create activity")
		return
	}
	response.Created(c, gin.H{"activity": a, "questions": questions})
}

// ToggleLive handles PATCH /activities/:id/live (lab staff only).
func (h *Handler) ToggleLive(c *gin.Context) {
	id := c.Param("id")
	live, err := h.repo.ToggleLive(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "activity not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to toggle live flag")
		return
	}
	response.OK(c, gin.H{"id": id, "live": live})
}
