package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/internal/metrics"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/simpleimagetest"
)

func TestHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	env := simpleimagetest.New(t, simpleimage.WithHooks(m.Hooks()))
	ctx := context.Background()

	save := func(seed uint8, isNew bool) {
		_, err := env.Save(ctx, simpleimage.OwnerRef{Type: "Users", Key: 1, New: isNew}, simpleimage.Payload{
			"avatar": {{OriginalName: "a.png", TempPath: simpleimagetest.TempUpload(t, simpleimagetest.PNG(t, 20, 20, seed))}},
		})
		require.NoError(t, err)
	}

	save(1, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stored.WithLabelValues("Users", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsCreated.WithLabelValues("Users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Variants.WithLabelValues("Users", "thumb", "generated")))
	assert.Greater(t, testutil.ToFloat64(m.StoredBytes.WithLabelValues("Users")), 0.0)

	save(2, false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttachmentsCreated.WithLabelValues("Users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttachmentsDeleted.WithLabelValues("Users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reclaimed.WithLabelValues("Users", "removed")))

	_, err := env.Save(ctx, simpleimage.OwnerRef{Type: "Users", Key: 2, New: true}, simpleimage.Payload{
		"avatar": {{OriginalName: "a.png", TempPath: "/does/not/exist.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("store")))
}

func TestMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/owners/{ownerType}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/owners/Users", "/owners/Pages", "/health"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/owners/{ownerType}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")))
}
