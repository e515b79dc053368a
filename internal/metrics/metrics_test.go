package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushSendsRegistryToGateway(t *testing.T) {
	DocumentsTotal.WithLabelValues("ok").Inc()

	var gotPath, gotMethod string
	var gotBody []byte
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	require.NoError(t, Push(context.Background(), gw.URL, "glimpse_test"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/glimpse_test/instance/"), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	assert.NoError(t, Push(context.Background(), "", "glimpse"))
}

func TestPushReportsGatewayErrors(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer gw.Close()

	assert.Error(t, Push(context.Background(), gw.URL, "glimpse_test"))
}

func TestHandlerServesGlimpseMetrics(t *testing.T) {
	ImagesGenerated.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "glimpse_images_generated_total")
}
