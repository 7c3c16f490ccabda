// Package recordapi serves and consumes the two-operation user record API:
// GET /api/users and POST /api/users.
package recordapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"toolshare/lending"
)

// UserRepository is the storage behind the record API.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]lending.UserRecord, error)
	CreateUser(ctx context.Context, name, email string) (lending.UserRecord, error)
}

// CreateUserRequest is the POST /api/users body.
type CreateUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Metrics counts record API traffic.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the record API collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "toolshare",
			Subsystem: "record_api",
			Name:      "requests_total",
			Help:      "Record API requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "toolshare",
			Subsystem: "record_api",
			Name:      "request_duration_seconds",
			Help:      "Record API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handlers contains the HTTP handlers for the record API.
type Handlers struct {
	repo UserRepository
}

func NewHandlers(repo UserRepository) *Handlers {
	return &Handlers{repo: repo}
}

// NewRouter wires the handlers, request metrics and /metrics into a gin engine.
func NewRouter(repo UserRepository, reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if reg != nil {
		r.Use(NewMetrics(reg).middleware())
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	h := NewHandlers(repo)
	api := r.Group("/api")
	api.GET("/users", h.HandleListUsers)
	api.POST("/users", h.HandleCreateUser)
	return r
}

// HandleListUsers handles GET /api/users.
//
// Response:
//
//	200 OK: []lending.UserRecord
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleListUsers(c *gin.Context) {
	logger := slog.With("request_id", requestID(c), "handler", "HandleListUsers")
	users, err := h.repo.ListUsers(c.Request.Context())
	if err != nil {
		logger.Error("List users failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// HandleCreateUser handles POST /api/users.
//
// Request Body:
//
//	CreateUserRequest
//
// Response:
//
//	200 OK: lending.UserRecord
//	400 Bad Request: ErrorResponse
//	409 Conflict: ErrorResponse
//	500 Internal Server Error: ErrorResponse
func (h *Handlers) HandleCreateUser(c *gin.Context) {
	logger := slog.With("request_id", requestID(c), "handler", "HandleCreateUser")

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	u, err := h.repo.CreateUser(c.Request.Context(), req.Name, req.Email)
	if errors.Is(err, lending.ErrEmailExists) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		logger.Error("Create user failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	logger.Info("User created", "user_id", u.ID)
	c.JSON(http.StatusOK, u)
}

// requestID echoes the caller's X-Request-ID or mints one.
func requestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}
