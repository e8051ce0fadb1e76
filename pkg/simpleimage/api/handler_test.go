package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage/api"
	"github.com/tendant/simple-image/pkg/simpleimage/simpleimagetest"
	"github.com/tendant/simple-image/pkg/simpleimage/urlstrategy"
)

type part struct {
	field    string
	filename string // empty for a plain value
	data     []byte
}

func file(field, filename string, data []byte) part {
	return part{field: field, filename: filename, data: data}
}

func value(field, v string) part {
	return part{field: field, data: []byte(v)}
}

func multipartRequest(t *testing.T, method, target string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, string(p.data)))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func setupRouter(t *testing.T) (http.Handler, *simpleimagetest.Env) {
	t.Helper()
	env := simpleimagetest.New(t)
	handler := api.NewHandler(env.Coordinator,
		api.WithTempDir(t.TempDir()),
		api.WithURLStrategy(urlstrategy.NewPathPrefixStrategy(env.Registry(), "/var/www", "/")),
	)

	reg := prometheus.NewRegistry()
	return api.NewRouter(api.RouterConfig{
		Handler: handler,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}), env
}

func serve(t *testing.T, router http.Handler, req *http.Request, out any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func TestUpload_CreateAndReplace(t *testing.T) {
	router, env := setupRouter(t)

	var first api.SaveResponse
	w := serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/1",
		file("avatar", "me.png", simpleimagetest.PNG(t, 40, 40, 1)),
		value("new", "true"),
	), &first)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, first.Created, 1)
	assert.Empty(t, first.Superseded)
	assert.Empty(t, first.Errors)

	created := first.Created[0]
	assert.Equal(t, "avatar", created.Field)
	assert.Equal(t, uint64(1), created.OwnerKey)
	assert.Equal(t, "image/png", created.Mime)
	assert.Equal(t, "/img/Users/"+created.Filename, created.URL)
	assert.True(t, env.Has(t, "Users/"+created.Filename))
	assert.True(t, env.Has(t, "Users/thumb/"+created.Filename))

	var second api.SaveResponse
	w = serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/1",
		file("avatar", "me2.png", simpleimagetest.PNG(t, 40, 40, 2)),
	), &second)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, second.Superseded, 1)
	assert.Equal(t, created.ID, second.Superseded[0].ID)
	assert.False(t, env.Has(t, "Users/"+created.Filename))
	assert.False(t, env.Has(t, "Users/thumb/"+created.Filename))
}

func TestUpload_GalleryAndReference(t *testing.T) {
	router, env := setupRouter(t)

	var resp api.SaveResponse
	w := serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/3",
		file("gallery", "a.png", simpleimagetest.PNG(t, 20, 20, 1)),
		file("gallery", "b.png", simpleimagetest.PNG(t, 20, 20, 2)),
		value("new", "true"),
	), &resp)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, resp.Created, 2)

	var ref api.SaveResponse
	w = serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/4",
		value("gallery", resp.Created[0].Filename),
		value("new", "true"),
	), &ref)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ref.Created, 1)
	assert.Equal(t, resp.Created[0].Filename, ref.Created[0].Filename)
	assert.True(t, env.Has(t, "Users/"+resp.Created[0].Filename))
}

func TestUpload_OnlyFailures(t *testing.T) {
	router, _ := setupRouter(t)

	var resp api.SaveResponse
	w := serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/1",
		value("avatar", "missing.png"),
	), &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, resp.Created)
	assert.Len(t, resp.Errors, 1)
}

func TestUpload_ServerPathsAreNotRead(t *testing.T) {
	router, env := setupRouter(t)
	secret := simpleimagetest.WriteFile(t, t.TempDir(), "secret.png", simpleimagetest.PNG(t, 8, 8, 1))

	var resp api.SaveResponse
	w := serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/7",
		value("gallery", secret),
		value("new", "true"),
	), &resp)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Empty(t, resp.Created)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "invalid stored file reference")
	assert.Empty(t, env.Blobs.Keys())
	assert.FileExists(t, secret)
}

func TestUpload_BadRequests(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unknown owner type", multipartRequest(t, http.MethodPost, "/owners/Ghosts/1", value("x", "y")), http.StatusNotFound},
		{"invalid owner key", multipartRequest(t, http.MethodPost, "/owners/Users/abc", value("x", "y")), http.StatusBadRequest},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/owners/Users/1", bytes.NewReader([]byte("{}"))), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp api.ErrorResponse
			w := serve(t, router, tt.req, &resp)
			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestListAttachments(t *testing.T) {
	router, env := setupRouter(t)

	var saved api.SaveResponse
	serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/9",
		file("avatar", "me.png", simpleimagetest.PNG(t, 20, 20, 1)),
		file("gallery", "g.png", simpleimagetest.PNG(t, 20, 20, 2)),
		value("new", "true"),
	), &saved)
	require.Len(t, saved.Created, 2)

	var all []api.AttachmentResponse
	w := serve(t, router, httptest.NewRequest(http.MethodGet, "/owners/Users/9/attachments", nil), &all)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, all, 2)

	var gallery []api.AttachmentResponse
	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/owners/Users/9/attachments?field=gallery&preset=thumb", nil), &gallery)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, gallery, 1)
	assert.Equal(t, "Users/thumb/"+gallery[0].Filename, gallery[0].Key)
	assert.Equal(t, "/img/Users/thumb/"+gallery[0].Filename, gallery[0].URL)
	assert.True(t, env.Has(t, gallery[0].Key))

	var errResp api.ErrorResponse
	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/owners/Users/9/attachments?field=banner", nil), &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/owners/Users/9/attachments?preset=huge", nil), &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndDeleteAttachment(t *testing.T) {
	router, env := setupRouter(t)

	var saved api.SaveResponse
	serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/2",
		file("gallery", "g.png", simpleimagetest.PNG(t, 20, 20, 5)),
		value("new", "true"),
	), &saved)
	require.Len(t, saved.Created, 1)
	id := saved.Created[0].ID
	filename := saved.Created[0].Filename

	var got api.AttachmentResponse
	w := serve(t, router, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/attachments/%d?preset=thumb", id), nil), &got)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "/img/Users/thumb/"+filename, got.URL)

	var report api.ReportResponse
	w = serve(t, router, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/attachments/%d", id), nil), &report)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, report.Errors)
	assert.False(t, env.Has(t, "Users/"+filename))
	assert.False(t, env.Has(t, "Users/thumb/"+filename))

	var errResp api.ErrorResponse
	w = serve(t, router, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/attachments/%d", id), nil), &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(t, router, httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/attachments/%d", id), nil), &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/attachments/nope", nil), &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteOwner(t *testing.T) {
	router, env := setupRouter(t)

	serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/6",
		file("avatar", "me.png", simpleimagetest.PNG(t, 20, 20, 1)),
		file("gallery", "g.png", simpleimagetest.PNG(t, 20, 20, 2)),
		value("new", "true"),
	), nil)

	var resp api.SaveResponse
	w := serve(t, router, httptest.NewRequest(http.MethodDelete, "/owners/Users/6", nil), &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Superseded, 2)
	assert.Empty(t, env.Blobs.Keys())
}

func TestRegenerate(t *testing.T) {
	router, env := setupRouter(t)

	serve(t, router, multipartRequest(t, http.MethodPost, "/owners/Users/1",
		file("avatar", "me.png", simpleimagetest.PNG(t, 20, 20, 1)),
		value("new", "true"),
	), nil)
	require.EqualValues(t, 1, env.Transformer.Calls())

	var report api.ReportResponse
	w := serve(t, router, httptest.NewRequest(http.MethodPost, "/owners/Users/regenerate", nil), &report)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, env.Transformer.Calls())

	w = serve(t, router, httptest.NewRequest(http.MethodPost, "/owners/Users/regenerate?force=true", nil), &report)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, env.Transformer.Calls())

	var errResp api.ErrorResponse
	w = serve(t, router, httptest.NewRequest(http.MethodPost, "/owners/Ghosts/regenerate", nil), &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := setupRouter(t)

	var health map[string]string
	w := serve(t, router, httptest.NewRequest(http.MethodGet, "/health", nil), &health)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", health["status"])

	w = serve(t, router, httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
