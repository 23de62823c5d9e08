// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apitest runs an in-memory GenFlow backend for tests.
//
// The server speaks the same JSON API the console consumes, issues real
// HS256 JWTs, enforces bearer authentication and the ADMIN role on user
// and model management, and advances each prediction job one status per
// poll: QUEUED, then RUNNING, then COMPLETED.
//
// # Usage
//
//	srv := apitest.New(t)
//	srv.AddUser("admin@genflow.dev", "secret1", api.RoleAdmin)
//	client := api.New(api.Config{BaseURL: srv.URL()})
package apitest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

const userKey = "genflow_user"

type tokenClaims struct {
	jwt.RegisteredClaims

	// Gen is the revocation generation the token was issued in.
	Gen int `json:"gen"`
}

type account struct {
	user     api.User
	password string
}

// Server is a fake GenFlow backend.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Server struct {
	srv    *httptest.Server
	secret []byte

	mu          sync.Mutex
	nextID      int64
	accounts    map[int64]*account
	datasets    map[int64]api.Dataset
	prompts     map[int64]api.Prompt
	predictions map[int64]api.Prediction
	jobs        map[int64]api.PredictionJob
	models      map[int64]api.Model
	revoked     map[string]bool
	gen         int
	hits        map[string]int
	failNext    map[string]int
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret:      []byte("apitest-signing-key"),
		nextID:      1,
		accounts:    map[int64]*account{},
		datasets:    map[int64]api.Dataset{},
		prompts:     map[int64]api.Prompt{},
		predictions: map[int64]api.Prediction{},
		jobs:        map[int64]api.PredictionJob{},
		models:      map[int64]api.Model{},
		revoked:     map[string]bool{},
		hits:        map[string]int{},
		failNext:    map[string]int{},
	}
	s.srv = httptest.NewServer(s.Handler())
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the base URL to hand to api.Config.
func (s *Server) URL() string {
	return s.srv.URL
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("genflow-apitest"))
	r.Use(s.countHits())

	r.POST("/auth/login", s.login)
	r.POST("/auth/register", s.register)

	authed := r.Group("/", s.authMiddleware())
	authed.POST("/auth/logout", s.logout)
	authed.GET("/auth/me", s.me)

	authed.GET("/datasets", s.listDatasets)
	authed.GET("/datasets/:id", s.getDataset)
	authed.POST("/datasets", s.createDataset)
	authed.PUT("/datasets/:id", s.updateDataset)
	authed.DELETE("/datasets/:id", s.deleteDataset)

	authed.GET("/prompts", s.listPrompts)
	authed.GET("/prompts/dataset/:id", s.listPromptsByDataset)
	authed.GET("/prompts/:id", s.getPrompt)
	authed.POST("/prompts", s.createPrompt)
	authed.DELETE("/prompts/:id", s.deletePrompt)

	authed.GET("/predictions", s.listPredictions)
	authed.GET("/predictions/prompt/:id", s.listPredictionsByPrompt)
	authed.GET("/predictions/:id", s.getPrediction)
	authed.POST("/predictions", s.createPrediction)
	authed.GET("/prediction-jobs/:id", s.getJob)

	authed.GET("/users/me", s.me)
	authed.GET("/models", s.listModels)
	authed.GET("/models/:id", s.getModel)

	admin := authed.Group("/", s.requireAdmin())
	admin.GET("/users", s.listUsers)
	admin.GET("/users/:id", s.getUser)
	admin.POST("/users", s.createUser)
	admin.PUT("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)
	admin.POST("/models", s.createModel)
	admin.PUT("/models/:id", s.updateModel)
	admin.DELETE("/models/:id", s.deleteModel)

	return r
}

// =============================================================================
// Test Controls
// =============================================================================

// AddUser creates an account and returns it.
func (s *Server) AddUser(email, password string, role api.Role) api.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, "", role)
}

func (s *Server) addUserLocked(email, password, name string, role api.Role) api.User {
	id := s.allocLocked()
	enabled := true
	u := api.User{ID: id, Email: email, Name: name, Role: role, Enabled: &enabled, CreatedAt: now()}
	s.accounts[id] = &account{user: u, password: password}
	return u
}

// IssueToken signs a token for userID valid for ttl.
func (s *Server) IssueToken(userID int64, ttl time.Duration) string {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Gen: gen,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("apitest: sign token: %v", err))
	}
	return signed
}

// RevokeAll invalidates every token issued so far, as a server-side
// session expiry would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
}

// FailNext makes the next n requests to route ("GET /datasets") answer 503.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[route] = n
}

// Hits returns how many requests matched route, e.g. "GET /prompts/dataset/:id".
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) countHits() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Request.Method + " " + c.FullPath()
		s.mu.Lock()
		s.hits[route]++
		fail := s.failNext[route] > 0
		if fail {
			s.failNext[route]--
		}
		s.mu.Unlock()
		if fail {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "temporarily unavailable"})
			return
		}
		c.Next()
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
			return
		}
		user, err := s.authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c).Role != api.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "admin role required"})
			return
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *Server) authenticate(token string) (api.User, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return api.User{}, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return api.User{}, errors.New("invalid subject")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if claims.Gen < s.gen || s.revoked[token] {
		return api.User{}, errors.New("session expired")
	}
	acct, ok := s.accounts[id]
	if !ok {
		return api.User{}, errors.New("unknown user")
	}
	return acct.user, nil
}

func currentUser(c *gin.Context) api.User {
	v, _ := c.Get(userKey)
	u, _ := v.(api.User)
	return u
}

// =============================================================================
// Auth
// =============================================================================

func (s *Server) login(c *gin.Context) {
	var req api.LoginRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	var found *account
	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Email, req.Email) {
			found = a
			break
		}
	}
	s.mu.Unlock()
	if found == nil || found.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": s.IssueToken(found.user.ID, time.Hour),
		"user":  found.user,
	})
}

// register answers without a user object so clients must fall back to
// GET /auth/me.
func (s *Server) register(c *gin.Context) {
	var req api.RegisterRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.user.Email, req.Email) {
			s.mu.Unlock()
			c.JSON(http.StatusConflict, gin.H{"message": "Email already registered"})
			return
		}
	}
	u := s.addUserLocked(req.Email, req.Password, req.Name, api.RoleUser)
	s.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"accessToken": s.IssueToken(u.ID, time.Hour)})
}

func (s *Server) logout(c *gin.Context) {
	token := extractBearerToken(c)
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// =============================================================================
// Datasets
// =============================================================================

func (s *Server) listDatasets(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, sorted(s.datasets))
}

func (s *Server) getDataset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	d, found := s.datasets[id]
	s.mu.Unlock()
	respondFound(c, d, found, "Dataset not found")
}

func (s *Server) createDataset(c *gin.Context) {
	var req api.DatasetCreate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	d := api.Dataset{ID: s.allocLocked(), Name: req.Name, Description: req.Description, CreatedAt: now(), CreatedBy: currentUser(c).ID}
	s.datasets[d.ID] = d
	s.mu.Unlock()
	c.JSON(http.StatusCreated, d)
}

func (s *Server) updateDataset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req api.DatasetUpdate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	d, found := s.datasets[id]
	if found {
		if req.Name != nil {
			d.Name = *req.Name
		}
		if req.Description != nil {
			d.Description = *req.Description
		}
		d.UpdatedAt = now()
		s.datasets[id] = d
	}
	s.mu.Unlock()
	respondFound(c, d, found, "Dataset not found")
}

func (s *Server) deleteDataset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.datasets[id]
	delete(s.datasets, id)
	for pid, p := range s.prompts {
		if p.DatasetID != nil && *p.DatasetID == id {
			p.DatasetID = nil
			s.prompts[pid] = p
		}
	}
	s.mu.Unlock()
	respondDeleted(c, found, "Dataset not found")
}

// =============================================================================
// Prompts
// =============================================================================

func (s *Server) listPrompts(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, sorted(s.prompts))
}

func (s *Server) listPromptsByDataset(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Prompt{}
	for _, p := range sorted(s.prompts) {
		if p.DatasetID != nil && *p.DatasetID == id {
			out = append(out, p)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPrompt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.prompts[id]
	s.mu.Unlock()
	respondFound(c, p, found, "Prompt not found")
}

func (s *Server) createPrompt(c *gin.Context) {
	var req api.PromptCreate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	if req.DatasetID != nil {
		if _, ok := s.datasets[*req.DatasetID]; !ok {
			s.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Dataset does not exist"})
			return
		}
	}
	p := api.Prompt{ID: s.allocLocked(), Name: req.Name, Content: req.Content, DatasetID: req.DatasetID, CreatedAt: now(), CreatedBy: currentUser(c).ID}
	s.prompts[p.ID] = p
	s.mu.Unlock()
	c.JSON(http.StatusCreated, p)
}

func (s *Server) deletePrompt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.prompts[id]
	delete(s.prompts, id)
	s.mu.Unlock()
	respondDeleted(c, found, "Prompt not found")
}

// =============================================================================
// Predictions and Jobs
// =============================================================================

func (s *Server) listPredictions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, sorted(s.predictions))
}

func (s *Server) listPredictionsByPrompt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Prediction{}
	for _, p := range sorted(s.predictions) {
		if p.PromptID == id {
			out = append(out, p)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getPrediction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.predictions[id]
	s.mu.Unlock()
	respondFound(c, p, found, "Prediction not found")
}

func (s *Server) createPrediction(c *gin.Context) {
	var req api.PredictionCreate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	if _, ok := s.prompts[req.PromptID]; !ok {
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"message": "Prompt does not exist"})
		return
	}
	pred := api.Prediction{ID: s.allocLocked(), PromptID: req.PromptID, ModelID: req.ModelID, Status: api.StatusQueued, CreatedAt: now(), CreatedBy: currentUser(c).ID}
	job := api.PredictionJob{ID: s.allocLocked(), PredictionID: pred.ID, Status: api.StatusQueued, CreatedAt: now()}
	jobID := job.ID
	pred.JobID = &jobID
	s.predictions[pred.ID] = pred
	s.jobs[job.ID] = job
	s.mu.Unlock()
	c.JSON(http.StatusCreated, pred)
}

// getJob returns the job, then advances it one status.
func (s *Server) getJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	job, found := s.jobs[id]
	if found {
		s.jobs[id] = s.advanceLocked(job)
	}
	s.mu.Unlock()
	respondFound(c, job, found, "Job not found")
}

func (s *Server) advanceLocked(job api.PredictionJob) api.PredictionJob {
	switch job.Status {
	case api.StatusQueued:
		job.Status = api.StatusRunning
	case api.StatusRunning:
		job.Status = api.StatusCompleted
		job.Result = fmt.Sprintf("result of prediction %d", job.PredictionID)
		job.CompletedAt = now()
	default:
		return job
	}
	job.UpdatedAt = now()
	if pred, ok := s.predictions[job.PredictionID]; ok {
		pred.Status = job.Status
		pred.Result = job.Result
		pred.UpdatedAt = job.UpdatedAt
		s.predictions[pred.ID] = pred
	}
	return job
}

// =============================================================================
// Users
// =============================================================================

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]api.User, len(s.accounts))
	for id, a := range s.accounts {
		out[id] = a.user
	}
	c.JSON(http.StatusOK, sorted(out))
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	a, found := s.accounts[id]
	var u api.User
	if found {
		u = a.user
	}
	s.mu.Unlock()
	respondFound(c, u, found, "User not found")
}

func (s *Server) createUser(c *gin.Context) {
	var req api.UserCreate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	u := s.addUserLocked(req.Email, req.Password, req.Name, req.Role)
	if req.Enabled != nil {
		s.accounts[u.ID].user.Enabled = req.Enabled
		u.Enabled = req.Enabled
	}
	s.mu.Unlock()
	c.JSON(http.StatusCreated, u)
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req api.UserUpdate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	a, found := s.accounts[id]
	var u api.User
	if found {
		if req.Email != nil {
			a.user.Email = *req.Email
		}
		if req.Name != nil {
			a.user.Name = *req.Name
		}
		if req.Role != nil {
			a.user.Role = *req.Role
		}
		if req.Enabled != nil {
			a.user.Enabled = req.Enabled
		}
		a.user.UpdatedAt = now()
		u = a.user
	}
	s.mu.Unlock()
	respondFound(c, u, found, "User not found")
}

func (s *Server) deleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.accounts[id]
	delete(s.accounts, id)
	s.mu.Unlock()
	respondDeleted(c, found, "User not found")
}

// =============================================================================
// Models
// =============================================================================

func (s *Server) listModels(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, sorted(s.models))
}

func (s *Server) getModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	m, found := s.models[id]
	s.mu.Unlock()
	respondFound(c, m, found, "Model not found")
}

func (s *Server) createModel(c *gin.Context) {
	var req api.ModelCreate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	m := api.Model{ID: s.allocLocked(), Name: req.Name, Endpoint: req.Endpoint, Description: req.Description, Enabled: req.Enabled, CreatedAt: now()}
	s.models[m.ID] = m
	s.mu.Unlock()
	c.JSON(http.StatusCreated, m)
}

func (s *Server) updateModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req api.ModelUpdate
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	m, found := s.models[id]
	if found {
		if req.Name != nil {
			m.Name = *req.Name
		}
		if req.Endpoint != nil {
			m.Endpoint = *req.Endpoint
		}
		if req.Description != nil {
			m.Description = *req.Description
		}
		if req.Enabled != nil {
			m.Enabled = req.Enabled
		}
		m.UpdatedAt = now()
		s.models[id] = m
	}
	s.mu.Unlock()
	respondFound(c, m, found, "Model not found")
}

func (s *Server) deleteModel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.models[id]
	delete(s.models, id)
	s.mu.Unlock()
	respondDeleted(c, found, "Model not found")
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) allocLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// bind decodes the body and applies the same payload rules the client
// enforces. It writes a 400 and returns false on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Malformed request body"})
		return false
	}
	if err := api.Validate(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": api.Message(err)})
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func respondFound(c *gin.Context, v any, found bool, notFound string) {
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": notFound})
		return
	}
	c.JSON(http.StatusOK, v)
}

func respondDeleted(c *gin.Context, found bool, notFound string) {
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": notFound})
		return
	}
	c.Status(http.StatusNoContent)
}

func sorted[T any](m map[int64]T) []T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
