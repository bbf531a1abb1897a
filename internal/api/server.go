package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"channel-audit/internal/auth"
	"channel-audit/internal/config"
	"channel-audit/internal/models"
	"channel-audit/internal/store"
	"channel-audit/internal/telemetry"
)

// JobStore is the job persistence surface the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MergeJob(ctx context.Context, id string, patch store.JobPatch) error
	BumpUserJobs(ctx context.Context, email, jobID string) error
}

// UserStore is the account persistence surface the API needs.
type UserStore interface {
	CreateUser(ctx context.Context, p store.CreateUserParams) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	SetUserAvatar(ctx context.Context, id, url string) error
}

// Enqueuer hands a created job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Limiter throttles submissions per caller.
type Limiter interface {
	Allow(ctx context.Context, caller string) (bool, float64, error)
}

// AvatarStore persists a normalized profile image.
type AvatarStore interface {
	Store(ctx context.Context, userID string, data []byte) (string, error)
}

// Server wires HTTP handlers for submission, polling, and accounts.
type Server struct {
	cfg      config.Config
	jobs     JobStore
	users    UserStore
	queue    Enqueuer
	limiter  Limiter
	tokens   *auth.JWTManager
	avatars  AvatarStore
	validate *validator.Validate
}

// New constructs the API server. limiter and avatars may be nil, which
// disables the respective feature.
func New(cfg config.Config, jobs JobStore, users UserStore, q Enqueuer, limiter Limiter, tokens *auth.JWTManager, avatars AvatarStore) *Server {
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		users:    users,
		queue:    q,
		limiter:  limiter,
		tokens:   tokens,
		avatars:  avatars,
		validate: validator.New(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/submit", s.handleSubmit)
	r.Get("/job/{jobID}", s.handleJobStatus)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/users/me", s.handleMe)
	r.Post("/users/me/avatar", s.handleAvatarUpload)
	return r
}

type submitRequest struct {
	Email          string   `json:"email" validate:"required,email"`
	ChannelName    string   `json:"channelName" validate:"required"`
	Services       []string `json:"services"`
	IdempotencyKey string   `json:"idempotencyKey"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "email and channelName are required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), req.Email)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, reused, err := s.jobs.CreateJob(r.Context(), store.CreateJobParams{
		Email:          req.Email,
		ChannelName:    req.ChannelName,
		Services:       req.Services,
		IdempotencyKey: req.IdempotencyKey,
		IdempotencyTTL: s.cfg.IdempotencyTTL,
	})
	if err != nil {
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	if !reused {
		// Counter bump is best-effort; submissions from unknown
		// emails are still accepted.
		if err := s.jobs.BumpUserJobs(r.Context(), req.Email, job.ID); err != nil {
			log.Printf("bump user jobs for %s: %v", req.Email, err)
		}

		if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
			msg := "failed to enqueue job"
			kind := "store"
			failed := models.StatusFailed
			_ = s.jobs.MergeJob(r.Context(), job.ID, store.JobPatch{
				Status:    &failed,
				Error:     &msg,
				ErrorKind: &kind,
			})
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		telemetry.SubmitCounter.Inc()
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID})
}

type jobStatusResponse struct {
	JobID       string         `json:"jobId"`
	Status      string         `json:"status"`
	Error       *string        `json:"error,omitempty"`
	ErrorKind   *string        `json:"errorKind,omitempty"`
	ChannelID   *string        `json:"channelId,omitempty"`
	ChannelName string         `json:"channelName"`
	Videos      []models.Video `json:"videos,omitempty"`
	AIReport    *models.Report `json:"aiReport,omitempty"`
}

// handleJobStatus is a read-only projection of the job record; no
// business logic happens here.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get job status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Error:       job.Error,
		ErrorKind:   job.ErrorKind,
		ChannelID:   job.ChannelID,
		ChannelName: job.ChannelName,
		Videos:      job.Videos,
		AIReport:    job.Report,
	})
}

type registerRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Username string  `json:"username" validate:"required,min=3,max=30"`
	Password string  `json:"password" validate:"required,min=8"`
	FullName *string `json:"fullName"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID         string  `json:"userId"`
	Email      string  `json:"email"`
	Username   string  `json:"username"`
	FullName   *string `json:"fullName,omitempty"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	Plan       string  `json:"plan"`
	TotalJobs  int     `json:"totalJobs"`
	ActiveJobs int     `json:"activeJobs"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		FullName:   u.FullName,
		AvatarURL:  u.AvatarURL,
		Plan:       u.Plan,
		TotalJobs:  u.TotalJobs,
		ActiveJobs: u.ActiveJobs,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "invalid registration fields", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}

	user, err := s.users.CreateUser(r.Context(), store.CreateUserParams{
		Email:        req.Email,
		Username:     req.Username,
		FullName:     req.FullName,
		PasswordHash: hash,
	})
	if err != nil {
		http.Error(w, "email or username already registered", http.StatusConflict)
		return
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: toUserResponse(user)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if s.avatars == nil {
		http.Error(w, "avatar storage not configured", http.StatusNotImplemented)
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		http.Error(w, "avatar file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.AvatarMaxBytes+1))
	if err != nil {
		http.Error(w, "failed to read avatar", http.StatusBadRequest)
		return
	}

	url, err := s.avatars.Store(r.Context(), user.ID, data)
	if err != nil {
		http.Error(w, "failed to store avatar", http.StatusBadRequest)
		return
	}
	if err := s.users.SetUserAvatar(r.Context(), user.ID, url); err != nil {
		http.Error(w, "failed to save avatar", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": url})
}

// authenticate resolves the Bearer token to a user, writing the error
// response itself on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return models.User{}, false
	}
	claims, err := s.tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return models.User{}, false
	}
	user, err := s.users.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
