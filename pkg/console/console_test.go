// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package console

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/genflow-console/internal/apitest"
	"github.com/AleutianAI/genflow-console/pkg/access"
	"github.com/AleutianAI/genflow-console/pkg/api"
	"github.com/AleutianAI/genflow-console/pkg/jobs"
	"github.com/AleutianAI/genflow-console/pkg/resource"
	"github.com/AleutianAI/genflow-console/pkg/session"
)

const (
	adminEmail = "ada@genflow.dev"
	userEmail  = "bob@genflow.dev"
	password   = "secret1"
)

func newConsole(t *testing.T, srv *apitest.Server, store session.TokenStore) *Console {
	t.Helper()
	c, err := New(Options{
		BaseURL:     srv.URL(),
		Store:       store,
		Cache:       []resource.Option{resource.WithRetry(1, time.Millisecond)},
		JobInterval: 5 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return c
}

func startedAs(t *testing.T, srv *apitest.Server, email string) *Console {
	t.Helper()
	c := newConsole(t, srv, session.NewMemoryStore(""))
	c.Start(context.Background())
	require.NoError(t, c.Session.Login(context.Background(), email, password))
	return c
}

func seed(srv *apitest.Server) {
	srv.AddUser(adminEmail, password, api.RoleAdmin)
	srv.AddUser(userEmail, password, api.RoleUser)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestConsole_GateFollowsSession(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := newConsole(t, srv, session.NewMemoryStore(""))

	assert.Equal(t, access.Pending, c.Gate("/datasets").Outcome)

	c.Start(context.Background())
	d := c.Gate("/datasets")
	assert.Equal(t, access.RedirectLogin, d.Outcome)
	assert.Equal(t, "/login?from=%2Fdatasets", d.Location)

	require.NoError(t, c.Session.Login(context.Background(), userEmail, password))
	assert.Equal(t, access.Allow, c.Gate("/datasets").Outcome)
	assert.Equal(t, access.RedirectFallback, c.Gate("/admin/users").Outcome)
}

func TestConsole_PromptCreateRefreshesDatasetView(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := startedAs(t, srv, userEmail)
	ctx := context.Background()

	ds, err := c.Resources.CreateDataset(ctx, api.DatasetCreate{Name: "reviews"})
	require.NoError(t, err)

	before, err := c.Resources.PromptsByDataset(ctx, ds.ID)
	require.NoError(t, err)
	assert.Empty(t, before)

	dsID := ds.ID
	p, err := c.Resources.CreatePrompt(ctx, api.PromptCreate{Name: "sentiment", Content: "Classify: {{text}}", DatasetID: &dsID})
	require.NoError(t, err)

	after, err := c.Resources.PromptsByDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, p.ID, after[0].ID)
	assert.Equal(t, 2, srv.Hits("GET /prompts/dataset/:id"))
}

func TestConsole_WatchPredictionToCompletion(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := startedAs(t, srv, userEmail)
	ctx := context.Background()

	prompt, err := c.Resources.CreatePrompt(ctx, api.PromptCreate{Name: "p", Content: "hello"})
	require.NoError(t, err)
	pred, err := c.Resources.CreatePrediction(ctx, api.PredictionCreate{PromptID: prompt.ID})
	require.NoError(t, err)

	listed, err := c.Resources.PredictionsByPrompt(ctx, prompt.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, api.StatusQueued, listed[0].Status)

	var statuses []api.JobStatus
	w := c.WatchPrediction(ctx, pred, jobs.WithOnUpdate(func(s jobs.Snapshot) {
		statuses = append(statuses, s.Job.Status)
	}))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snap, err := w.Wait(waitCtx)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Fetches)
	assert.Equal(t, []api.JobStatus{api.StatusQueued, api.StatusRunning, api.StatusCompleted}, statuses)
	assert.Equal(t, 3, srv.Hits("GET /prediction-jobs/:id"))

	refreshed, err := c.Resources.PredictionsByPrompt(ctx, prompt.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusCompleted, refreshed[0].Status, "cache invalidated on completion")
}

func TestConsole_WatchPredictionWithoutJobIsInert(t *testing.T) {
	srv := apitest.New(t)
	c := newConsole(t, srv, session.NewMemoryStore(""))

	w := c.WatchPrediction(context.Background(), &api.Prediction{ID: 1})
	<-w.Done()
	assert.Zero(t, w.Snapshot().Fetches)
	assert.Zero(t, srv.Hits("GET /prediction-jobs/:id"))
}

func TestConsole_ServerRevocationTearsDownAndClearsCache(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := startedAs(t, srv, adminEmail)
	ctx := context.Background()

	_, err := c.Resources.Users(ctx)
	require.NoError(t, err)
	_, _, cached := c.Resources.Cache().Peek(resource.All(resource.KindUsers))
	require.True(t, cached)

	srv.RevokeAll()
	_, err = c.Resources.Datasets(ctx)
	require.Error(t, err)

	state := c.Session.Snapshot()
	assert.Equal(t, session.PhaseAnonymous, state.Phase)
	assert.Empty(t, state.Token)
	assert.Nil(t, state.User)

	_, _, cached = c.Resources.Cache().Peek(resource.All(resource.KindUsers))
	assert.False(t, cached, "admin data dropped with the session")
	assert.Equal(t, access.RedirectLogin, c.Gate("/admin/users").Outcome)
}

func TestConsole_BootstrapRestoresPersistedSession(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	store := session.NewMemoryStore("")

	first := newConsole(t, srv, store)
	first.Start(context.Background())
	require.NoError(t, first.Session.Login(context.Background(), adminEmail, password))

	second := newConsole(t, srv, store)
	second.Start(context.Background())
	state := second.Session.Snapshot()
	require.True(t, state.Authenticated())
	assert.Equal(t, adminEmail, state.User.Email)
	assert.Equal(t, 1, srv.Hits("GET /auth/me"))
}

func TestConsole_FileStoreRemovalEndsSession(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	path := filepath.Join(t.TempDir(), "token")
	c := newConsole(t, srv, session.NewFileStore(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	require.NoError(t, c.Session.Login(ctx, userEmail, password))
	require.FileExists(t, path)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		return c.Session.Snapshot().Phase == session.PhaseAnonymous
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsole_Dashboard(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := startedAs(t, srv, userEmail)
	ctx := context.Background()

	_, err := c.Resources.CreateDataset(ctx, api.DatasetCreate{Name: "d1"})
	require.NoError(t, err)
	p, err := c.Resources.CreatePrompt(ctx, api.PromptCreate{Name: "p", Content: "x"})
	require.NoError(t, err)
	_, err = c.Resources.CreatePrediction(ctx, api.PredictionCreate{PromptID: p.ID})
	require.NoError(t, err)
	_, err = c.Resources.CreatePrediction(ctx, api.PredictionCreate{PromptID: p.ID})
	require.NoError(t, err)

	sum, err := c.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stat{Count: 1}, sum.Datasets)
	assert.Equal(t, Stat{Count: 1}, sum.Prompts)
	assert.Equal(t, Stat{Count: 2}, sum.Predictions)
	assert.Equal(t, 2, sum.ByStatus[api.StatusQueued])
}

func TestConsole_DashboardReportsFailurePerStat(t *testing.T) {
	srv := apitest.New(t)
	seed(srv)
	c := startedAs(t, srv, userEmail)

	srv.FailNext("GET /prompts", 2)
	sum, err := c.Dashboard(context.Background())
	require.NoError(t, err)

	assert.NoError(t, sum.Datasets.Err)
	assert.Error(t, sum.Prompts.Err)
	assert.True(t, api.IsTransient(sum.Prompts.Err))
	assert.NoError(t, sum.Predictions.Err)
	assert.Equal(t, 2, srv.Hits("GET /prompts"), "one attempt plus one retry")
}
