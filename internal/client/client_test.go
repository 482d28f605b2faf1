package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johann/assetview/internal/config"
	"github.com/johann/assetview/internal/manifest"
)

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(&config.ClientConfig{ServerURL: srv.URL, Token: token})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresServerURL(t *testing.T) {
	_, err := New(&config.ClientConfig{})
	assert.ErrorContains(t, err, "login")
}

func TestManifestSendsTokenAndCategory(t *testing.T) {
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/manifest", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "castles", r.URL.Query().Get("category"))
		writeJSON(w, http.StatusOK, manifest.NewListing([]manifest.Asset{
			{Category: "castles", Path: "/data/lego/castle/model.glb", Description: "Castle"},
		}))
	})

	listing, err := c.Manifest(context.Background(), "castles")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Total)
	assert.Equal(t, "Castle", listing.Assets[0].Description)
	assert.Equal(t, map[string]int{"castles": 1}, listing.Categories)
}

func TestSampleQuery(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("n"))
		assert.Equal(t, "42", q.Get("seed"))
		writeJSON(w, http.StatusOK, SampleResult{Assets: []manifest.Asset{{Path: "/a.glb"}}, Total: 9, Seed: 42})
	})

	seed := uint64(42)
	res, err := c.Sample(context.Background(), 3, &seed, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Seed)
	assert.Equal(t, 9, res.Total)
	assert.Len(t, res.Assets, 1)
}

func TestSampleOmitsUnsetParameters(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		writeJSON(w, http.StatusOK, SampleResult{Seed: 7})
	})

	res, err := c.Sample(context.Background(), 0, nil, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Seed)
}

func TestListPath(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "castle", r.URL.Query().Get("path"))
		writeJSON(w, http.StatusOK, DirListing{Path: "/castle", Entries: []DirEntry{{Name: "model.glb", Size: 3, URL: "/data/lego/castle/model.glb"}}})
	})

	listing, err := c.List(context.Background(), "castle")
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "/data/lego/castle/model.glb", listing.Entries[0].URL)
}

func TestAPIErrors(t *testing.T) {
	c := newTestClient(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	})

	err := c.Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid token", apiErr.Message)
	assert.Equal(t, "server returned 401: invalid token", apiErr.Error())
}

func TestDownload(t *testing.T) {
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Path != "/data/lego/a.glb" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found", "details": r.URL.Path})
			return
		}
		w.Header().Set("Content-Type", "model/gltf-binary")
		_, _ = w.Write([]byte("glb-bytes"))
	})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "/data/lego/a.glb", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "glb-bytes", buf.String())

	buf.Reset()
	_, err = c.Download(context.Background(), "/data/lego/missing.glb", &buf)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "File not found", apiErr.Message)
	assert.Equal(t, "/data/lego/missing.glb", apiErr.Details)
	assert.Zero(t, buf.Len())
}
