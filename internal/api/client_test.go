package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body.Username)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:       "header.payload.signature",
			Name:              "Alice",
			Roles:             []string{"admin"},
			IsLoginSuccessful: true,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL})
	res, err := c.Login(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, res.IsLoginSuccessful)
	assert.Equal(t, "header.payload.signature", res.AccessToken)
	assert.Equal(t, []string{"admin"}, res.Roles)
}

func TestLoginErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL})
	_, err := c.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 401")
}

func TestGetCurrentUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/user", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:       "fresh.token.value",
			IsLoginSuccessful: true,
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL})
	res, err := c.GetCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh.token.value", res.AccessToken)
}

func TestLogoutSwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientOpts{BaseURL: srv.URL})
	c.Logout(context.Background())
}
