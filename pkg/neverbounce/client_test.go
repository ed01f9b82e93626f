package neverbounce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

func TestCheck_Valid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/single/check", r.URL.Path)
		assert.Equal(t, "nb-key", r.URL.Query().Get("key"))
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"status":"success","result":"valid","flags":["has_dns","smtp_connectable"]}`))
	}))
	defer srv.Close()

	client := NewClient("nb-key", WithBaseURL(srv.URL))
	res, err := client.Check(context.Background(), "jane@acme.com")

	require.NoError(t, err)
	assert.True(t, res.Deliverable())
	assert.Equal(t, 100, res.Confidence())
}

func TestCheck_Invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","result":"invalid","flags":["role_account"]}`))
	}))
	defer srv.Close()

	client := NewClient("nb-key", WithBaseURL(srv.URL))
	res, err := client.Check(context.Background(), "info@acme.com")

	require.NoError(t, err)
	assert.False(t, res.Deliverable())
	assert.Equal(t, 0, res.Confidence())
}

func TestCheck_StatusMapping(t *testing.T) {
	tests := []struct {
		status string
		kind   resilience.ErrorKind
	}{
		{"throttle_triggered", resilience.KindRateLimited},
		{"temp_unavail", resilience.KindTransient},
		{"auth_failure", resilience.KindPermanent},
		{"bad_referrer", resilience.KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"` + tt.status + `","message":"nope"}`))
			}))
			defer srv.Close()

			client := NewClient("nb-key", WithBaseURL(srv.URL))
			_, err := client.Check(context.Background(), "jane@acme.com")

			require.Error(t, err)
			assert.Equal(t, tt.kind, resilience.Classify(err))
			assert.Contains(t, err.Error(), tt.status)
		})
	}
}

func TestCheck_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("nb-key", WithBaseURL(srv.URL))
	_, err := client.Check(context.Background(), "jane@acme.com")

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
