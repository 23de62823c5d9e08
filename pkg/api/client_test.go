// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL + "/"}), server
}

// =============================================================================
// Base URL
// =============================================================================

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty uses default", "", DefaultBaseURL},
		{"whitespace uses default", "   ", DefaultBaseURL},
		{"trailing slash trimmed", "https://api.example.com/api/v1/", "https://api.example.com/api/v1"},
		{"surrounding space trimmed", "  https://x/api ", "https://x/api"},
		{"unchanged", "http://localhost:9000/api/v1", "http://localhost:9000/api/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBaseURL(tt.in))
		})
	}
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("  abc  "))
	assert.Equal(t, "", StripBearer(""))
	assert.Equal(t, "bearer abc", StripBearer("bearer abc"), "prefix match is case-sensitive")
}

// =============================================================================
// Headers
// =============================================================================

func TestClient_AttachesBearerToken(t *testing.T) {
	var gotAuth, gotRequestID string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		_ = json.NewEncoder(w).Encode([]Dataset{{ID: 1, Name: "a"}})
	})
	client.SetTokenSource(StaticToken("Bearer raw-token"))

	datasets, err := client.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "Bearer raw-token", gotAuth)
	assert.Len(t, gotRequestID, 36)
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	var hadAuth bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`[]`))
	})
	client.SetTokenSource(StaticToken(""))

	_, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.False(t, hadAuth)
}

func TestClient_WithTokenOverridesSource(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":3,"email":"a@b.c","role":"USER"}`))
	})
	client.SetTokenSource(StaticToken("stale"))

	user, err := client.Me(WithToken(context.Background(), "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", gotAuth)
	assert.Equal(t, int64(3), user.ID)
}

// =============================================================================
// Unauthorized Signalling
// =============================================================================

func TestClient_UnauthorizedSignalsHandler(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message":"token expired"}`))
			})
			var calls int32
			client.SetUnauthorizedHandler(func() { atomic.AddInt32(&calls, 1) })

			_, err := client.ListDatasets(context.Background())

			var ae *AuthorizationError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, status, ae.StatusCode)
			assert.Equal(t, "token expired", ae.Message)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestClient_LogoutNeverSignals(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	var calls int32
	client.SetUnauthorizedHandler(func() { atomic.AddInt32(&calls, 1) })

	err := client.Logout(context.Background())

	var ae *AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, float64(0), testutil.ToFloat64(client.Metrics().UnauthorizedSignalsTotal))
}

// =============================================================================
// Error Classification
// =============================================================================

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		check     func(t *testing.T, err error)
		transient bool
	}{
		{
			name:   "400 is validation with backend message",
			status: http.StatusBadRequest,
			body:   `{"message":"name must not be blank"}`,
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "name must not be blank", ve.Message)
			},
		},
		{
			name:   "409 is validation using error field",
			status: http.StatusConflict,
			body:   `{"error":"email already registered"}`,
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "email already registered", Message(err))
			},
		},
		{
			name:   "404 is transport and ErrNotFound",
			status: http.StatusNotFound,
			body:   ``,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.Equal(t, "Not Found", Message(err))
			},
		},
		{
			name:      "503 is transient transport",
			status:    http.StatusServiceUnavailable,
			body:      `not json`,
			transient: true,
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.GetDataset(context.Background(), 1)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(Config{BaseURL: url})
	_, err := client.ListPrompts(context.Background())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.True(t, IsTransient(err))
}

func TestClient_EmptySuccessBodyIsAnError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	job, err := client.GetPredictionJob(context.Background(), 3)
	assert.Nil(t, job)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusOK, te.StatusCode)
	assert.Equal(t, "empty response body", te.Message)
	assert.False(t, IsTransient(err))

	user, err := client.Me(context.Background())
	assert.Nil(t, user)
	require.ErrorAs(t, err, &te)

	require.NoError(t, client.DeleteDataset(context.Background(), 3), "no body expected")
}

func TestClient_CancelledIsNotTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.ListPrompts(ctx)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// =============================================================================
// Validation and Endpoints
// =============================================================================

func TestClient_ClientSideValidation(t *testing.T) {
	var hits int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	_, err := client.Login(context.Background(), LoginRequest{Email: "not-an-email", Password: "x"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 0, ve.StatusCode)
	assert.Equal(t, "email", ve.Fields["Email"])
	assert.Equal(t, "/auth/login", ve.Path)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits), "invalid payload is never sent")
}

func TestValidate_Role(t *testing.T) {
	bad := Role("ROOT")
	assert.Error(t, Validate(UserUpdate{Role: &bad}))
	good := RoleAdmin
	assert.NoError(t, Validate(UserUpdate{Role: &good}))
	assert.Error(t, Validate(UserCreate{Email: "a@b.co", Password: "secret1"}), "role is required on create")
}

func TestClient_CreatePromptSendsBody(t *testing.T) {
	var got PromptCreate
	var method, path string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Prompt{ID: 9, Name: got.Name, Content: got.Content, DatasetID: got.DatasetID})
	})

	ds := int64(5)
	prompt, err := client.CreatePrompt(context.Background(), PromptCreate{Name: "p", Content: "c", DatasetID: &ds})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/prompts", path)
	assert.Equal(t, int64(5), *got.DatasetID)
	assert.Equal(t, int64(9), prompt.ID)
}

func TestClient_LoginReturnsRawPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"abc","userResponse":{"id":1,"email":"a@b.co"}}`))
	})

	resp, err := client.Login(context.Background(), LoginRequest{Email: "a@b.co", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp["accessToken"])
	assert.Contains(t, resp, "userResponse")
}

func TestRole_UnmarshalUnknownIsUser(t *testing.T) {
	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"email":"x@y.z","role":"SUPERUSER"}`), &u))
	assert.Equal(t, RoleUser, u.Role)
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"email":"x@y.z","role":"ADMIN"}`), &u))
	assert.True(t, u.IsAdmin())
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestClient_MetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Registerer: reg})
	_, err := client.ListUsers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(client.Metrics().RequestsTotal.WithLabelValues("users.list", "ok")))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestClient_RateLimited(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, RateLimit: 1, RateBurst: 1})
	_, err := client.ListModels(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.ListModels(ctx)
	require.Error(t, err, "second call within the window must wait past the deadline")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
