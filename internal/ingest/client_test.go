package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chmdznr/caracterizacion-sync/internal/errors"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("signed out") }

func testRecords() []models.Characterization {
	return []models.Characterization{
		{
			LocalReference: "RAD-LOCAL-1",
			Status:         models.StatusPendingSync,
			Payload:        models.Payload(`{"beneficiario":{"numeroDocumento":"1001"}}`),
		},
		{
			LocalReference: "RAD-LOCAL-2",
			Status:         models.StatusPendingSync,
			Payload:        models.Payload(`{"beneficiario":{"numeroDocumento":"1002"}}`),
		},
	}
}

func newTestClient(t *testing.T, url string, tokens TokenSource, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, Timeout: timeout, UserAgent: "csync-test"}, tokens, nil)
	require.NoError(t, err)
	return c
}

func TestSubmitBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api"+BatchPath, r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "csync-test", r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Caracterizaciones []map[string]json.RawMessage `json:"caracterizaciones"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Caracterizaciones, 2)
		assert.JSONEq(t, `"RAD-LOCAL-1"`, string(req.Caracterizaciones[0]["radicadoLocal"]))
		assert.JSONEq(t, `{"beneficiario":{"numeroDocumento":"1001"}}`, string(req.Caracterizaciones[0]["datos"]))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"resultados":[
			{"radicadoLocal":"RAD-LOCAL-1","radicadoOficial":"RAD-20240101-ABC123","estado":"SINCRONIZADO","mensaje":"ok"},
			{"radicadoLocal":"RAD-LOCAL-2","estado":"ERROR","mensaje":"documento invalido"}
		]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/", staticToken("tok-123"), 0)
	assert.Equal(t, srv.URL+"/api"+BatchPath, c.Endpoint())

	outcomes, err := c.SubmitBatch(context.Background(), testRecords())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Accepted())
	assert.Equal(t, "RAD-20240101-ABC123", outcomes[0].OfficialReference)
	assert.False(t, outcomes[1].Accepted())
	assert.Equal(t, "documento invalido", outcomes[1].Message)
}

func TestSubmitBatchTransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "html body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "<html>captive portal</html>")
			},
		},
		{
			name: "missing resultados",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"ok":true}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(t, srv.URL, nil, 0)
			outcomes, err := c.SubmitBatch(context.Background(), testRecords())
			assert.Nil(t, outcomes)
			assert.True(t, apperrors.Is(err, apperrors.ErrTransportFailure), "got %v", err)
		})
	}
}

func TestSubmitBatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, nil, 50*time.Millisecond)
	start := time.Now()
	_, err := c.SubmitBatch(context.Background(), testRecords())
	assert.True(t, apperrors.Is(err, apperrors.ErrTransportFailure))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubmitBatchTokenError(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, failingToken{}, 0)
	_, err := c.SubmitBatch(context.Background(), testRecords())
	assert.True(t, apperrors.Is(err, apperrors.ErrTransportFailure))
	assert.False(t, called)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "not a url", "http://"} {
		_, err := NewClient(Config{BaseURL: raw}, nil, nil)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "url %q", raw)
	}
}
