package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/johann/assetview/internal/remote"
)

var contentTypes = map[string]string{
	".glb":  "model/gltf-binary",
	".gltf": "model/gltf+json",
	".obj":  "model/obj",
	".mtl":  "model/mtl",
	".stl":  "model/stl",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".html": "text/html; charset=utf-8",
	".js":   "application/javascript",
	".css":  "text/css; charset=utf-8",
	".svg":  "image/svg+xml",
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// cleanRelPath turns a user supplied path into a slash separated relative
// path with no leading slash and no way to climb above the root.
func cleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func (s *Server) remotePath(rel string) string {
	return path.Join(s.config.RemoteRoot, rel)
}

// handleAsset streams one remote file. A new SFTP session is opened for the
// request and closed when the response is done.
func (s *Server) handleAsset(c *gin.Context) {
	raw := c.Param("path")
	if strings.ContainsRune(raw, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		return
	}
	remotePath := s.remotePath(cleanRelPath(raw))
	log := requestLogger(c).With(zap.String("remote_path", remotePath))
	ctx := c.Request.Context()

	log.Info("fetching remote asset")

	start := time.Now()
	asset, err := s.source.Open(ctx, remotePath)
	if err != nil {
		s.remoteError(c, log, err)
		return
	}
	s.metrics.activeSessions.Inc()
	defer func() {
		if err := asset.Close(); err != nil {
			log.Debug("closing remote session", zap.Error(err))
		}
		s.metrics.activeSessions.Dec()
		s.metrics.sessionDuration.Observe(time.Since(start).Seconds())
	}()

	info := asset.Info()
	var content io.ReadSeeker = asset

	// HEAD never reads the body. A Range request is served from the cache
	// when it hits but does not pull the whole file in to fill it.
	if s.cache != nil && c.Request.Method != http.MethodHead && s.cache.Admits(info.Size()) {
		fill := c.GetHeader("Range") == ""
		data, err := s.cachedContent(ctx, log, remotePath, asset, fill)
		if err != nil {
			s.metrics.fetches.WithLabelValues("stream_error").Inc()
			log.Error("remote read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Stream error", "details": err.Error()})
			return
		}
		if data != nil {
			content = bytes.NewReader(data)
		}
	}

	tracked := &trackingReader{ReadSeeker: content}
	c.Header("Content-Type", contentTypeFor(info.Name()))
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), tracked)

	if tracked.err != nil {
		s.metrics.fetches.WithLabelValues("stream_error").Inc()
		if !c.Writer.Written() {
			for _, h := range []string{"Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "Content-Type"} {
				c.Writer.Header().Del(h)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Stream error", "details": tracked.err.Error()})
			return
		}
		log.Warn("stream aborted", zap.Error(tracked.err), zap.Int("bytes", c.Writer.Size()))
		return
	}

	s.metrics.fetches.WithLabelValues("ok").Inc()
	if n := c.Writer.Size(); n > 0 {
		s.metrics.bytesServed.Add(float64(n))
	}
}

// cachedContent returns the asset bytes from the cache. On a miss it reads
// the remote file and stores it when fill is set, and returns nil otherwise.
func (s *Server) cachedContent(ctx context.Context, log *zap.Logger, remotePath string, asset Asset, fill bool) ([]byte, error) {
	info := asset.Info()

	data, hit, err := s.cache.Get(ctx, remotePath, info.Size(), info.ModTime())
	if err != nil {
		log.Warn("cache lookup failed", zap.Error(err))
	}
	if hit {
		s.metrics.cacheHits.Inc()
		log.Debug("served from cache")
		return data, nil
	}
	s.metrics.cacheMisses.Inc()
	if !fill {
		return nil, nil
	}

	data, err = io.ReadAll(io.LimitReader(asset, info.Size()+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != info.Size() {
		// Changed while reading; serve what was read without caching it.
		log.Warn("remote file size changed during transfer",
			zap.Int64("stat_size", info.Size()), zap.Int("read", len(data)))
		return data, nil
	}
	if err := s.cache.Put(ctx, remotePath, info.Size(), info.ModTime(), data); err != nil {
		log.Warn("cache store failed", zap.Error(err))
	}
	return data, nil
}

// remoteError translates a remote failure into a JSON error response.
func (s *Server) remoteError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		s.metrics.fetches.WithLabelValues("canceled").Inc()
		log.Debug("client went away", zap.Error(err))
		c.Status(499)
	case errors.Is(err, remote.ErrNotFound):
		s.metrics.fetches.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found", "details": err.Error()})
	case errors.Is(err, remote.ErrNotFile):
		s.metrics.fetches.WithLabelValues("not_file").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is not a file"})
	case errors.Is(err, remote.ErrTooLarge):
		s.metrics.fetches.WithLabelValues("too_large").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large", "details": err.Error()})
	case errors.Is(err, remote.ErrSubsystem):
		s.metrics.fetches.WithLabelValues("sftp_error").Inc()
		log.Error("sftp subsystem failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SFTP connection failed", "details": err.Error()})
	default:
		s.metrics.fetches.WithLabelValues("ssh_error").Inc()
		log.Error("ssh connection failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SSH connection failed", "details": err.Error()})
	}
}

// trackingReader remembers the first read error io.Copy inside
// http.ServeContent would otherwise swallow.
type trackingReader struct {
	io.ReadSeeker
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.ReadSeeker.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
