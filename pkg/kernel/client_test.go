package kernel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/policy/check", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "tenant-a", r.Header.Get("X-Tenant-Id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["user_id"])
		assert.Equal(t, "vpm.cell.payment.execute", body["action"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"allowed": false,
			"reason":  "spending limit exceeded",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "tenant-a")
	decision, err := c.CheckPermission(context.Background(), "user-1", "vpm.cell.payment.execute", "vpm")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "spending limit exceeded", decision.Reason)
}

func TestCheckPermission_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "tenant-a")
	_, err := c.CheckPermission(context.Background(), "user-1", "tool", "domain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGetMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/metadata", r.URL.Path)
		json.NewEncoder(w).Encode(Metadata{
			TenantName:   "Acme",
			Mode:         "prod",
			FeatureFlags: map[string]bool{"payments": true},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "tenant-a")
	md, err := c.GetMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Acme", md.TenantName)
	assert.True(t, md.FeatureFlags["payments"])
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "tenant-a")
	assert.NoError(t, c.Health(context.Background()))
}
