package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"
	"github.com/SlavaLB/it-school/internal/handler/dto"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

type Handler struct {
	scheduler LessonScheduler
	tasks     TaskService
	clk       *clock.Clock
	validate  *validator.Validate
}

func NewHandler(scheduler LessonScheduler, tasks TaskService, clk *clock.Clock) *Handler {
	return &Handler{
		scheduler: scheduler,
		tasks:     tasks,
		clk:       clk,
		validate:  validator.New(),
	}
}

// CreateLesson is the onEventCreated boundary: the lesson catalogue calls
// it after committing the lesson. A failed submission answers 500 so the
// caller can roll back.
func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	startAt, err := h.clk.ParseStart(req.StartTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	taskID, err := h.scheduler.OnLessonCreated(ctx, domain.Lesson{
		Title:   req.Title,
		StartAt: startAt,
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("title", req.Title).Msg("Failed to schedule lesson reminder")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := dto.LessonScheduledResponse{
		TaskID:    taskID,
		Title:     req.Title,
		StartTime: startAt,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" {
		http.Error(w, "ID is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	status, err := h.tasks.Status(ctx, id)
	if err != nil {
		if err == domain.ErrNotFound {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id).Msg("Failed to get task status")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := dto.StatusResponse{
		ID:     id,
		Status: string(status),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" {
		http.Error(w, "ID is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if err := h.tasks.Cancel(ctx, id); err != nil {
		if err == domain.ErrNotFound || err == domain.ErrCannotCancel {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id).Msg("Failed to cancel task")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "task cancelled successfully"})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := h.tasks.List(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to list tasks")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var resp []dto.TaskResponse
	for _, t := range tasks {
		resp = append(resp, dto.FromDomain(t))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
