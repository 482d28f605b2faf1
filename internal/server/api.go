package server

import (
	"bytes"
	"math/rand/v2"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/johann/assetview/internal/manifest"
	"github.com/johann/assetview/internal/remote"
)

// maxManifestBytes bounds the manifest read into memory.
const maxManifestBytes = 32 << 20

// DirEntry is a listing entry; URL is set for files.
type DirEntry struct {
	remote.Entry
	URL string `json:"url,omitempty"`
}

// DirListing is the response of /api/list.
type DirListing struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

// SampleResult is the response of /api/sample.
type SampleResult struct {
	Assets []manifest.Asset `json:"assets"`
	Total  int              `json:"total"`
	Seed   uint64           `json:"seed"`
}

func (s *Server) loadAssets(c *gin.Context) ([]manifest.Asset, bool) {
	log := requestLogger(c).With(zap.String("manifest", s.config.ManifestPath))

	data, err := s.source.ReadFile(c.Request.Context(), s.config.ManifestPath, maxManifestBytes)
	if err != nil {
		s.remoteError(c, log, err)
		return nil, false
	}

	var m manifest.Manifest
	if strings.EqualFold(path.Ext(s.config.ManifestPath), ".txt") {
		m, err = manifest.ParseList(bytes.NewReader(data), s.config.ManifestCategory)
	} else {
		m, err = manifest.Parse(bytes.NewReader(data))
	}
	if err != nil {
		log.Warn("invalid manifest", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid manifest", "details": err.Error()})
		return nil, false
	}

	return m.Flatten(), true
}

func (s *Server) handleManifest(c *gin.Context) {
	assets, ok := s.loadAssets(c)
	if !ok {
		return
	}
	assets = manifest.Filter(assets, c.Query("category"))
	c.JSON(http.StatusOK, manifest.NewListing(assets))
}

func (s *Server) handleSample(c *gin.Context) {
	n := s.config.SampleSize
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
			return
		}
		n = parsed
	}

	seed := rand.Uint64()
	if v := c.Query("seed"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seed must be an unsigned integer"})
			return
		}
		seed = parsed
	}

	assets, ok := s.loadAssets(c)
	if !ok {
		return
	}
	assets = manifest.Filter(assets, c.Query("category"))

	c.JSON(http.StatusOK, SampleResult{
		Assets: manifest.Sample(assets, n, manifest.NewRand(seed)),
		Total:  len(assets),
		Seed:   seed,
	})
}

func (s *Server) handleList(c *gin.Context) {
	rel := cleanRelPath(c.Query("path"))
	dir := s.remotePath(rel)
	log := requestLogger(c).With(zap.String("remote_path", dir))

	entries, err := s.source.List(c.Request.Context(), dir)
	if err != nil {
		s.remoteError(c, log, err)
		return
	}

	out := DirListing{Path: "/" + rel, Entries: make([]DirEntry, 0, len(entries))}
	for _, e := range entries {
		de := DirEntry{Entry: e}
		if !e.Dir {
			de.URL = path.Join(s.config.RoutePrefix, rel, e.Name)
		}
		out.Entries = append(out.Entries, de)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	st, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "stats": st})
}
