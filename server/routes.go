// Package server implements the lumen HTTP API: image generation with
// NDJSON progress streaming plus model listing and version endpoints.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lumenml/lumen/api"
	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/envconfig"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/models/sd"
	"github.com/lumenml/lumen/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Server serves the lumen API on one backend instance. Generation
// requests run one at a time; the models directory comes from
// envconfig.Models unless overridden.
type Server struct {
	addr    net.Addr
	backend ml.Backend

	// ModelsDir overrides the models directory when non-empty.
	ModelsDir string
}

func NewServer(addr net.Addr, backend ml.Backend) *Server {
	return &Server{addr: addr, backend: backend}
}

func (s *Server) modelsDir() string {
	if s.ModelsDir != "" {
		return s.ModelsDir
	}

	return envconfig.Models()
}

// GenerateRoutes builds the HTTP router.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Lumen is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Lumen is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.GET("/api/tags", s.ListHandler)
	r.POST("/api/generate", s.GenerateHandler)

	return r
}

// ListHandler reports the models available under the models directory.
func (s *Server) ListHandler(c *gin.Context) {
	entries, err := os.ReadDir(s.modelsDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	models := make([]gin.H, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.modelsDir(), entry.Name(), "config.json")); err != nil {
			continue
		}
		models = append(models, gin.H{"name": entry.Name()})
	}

	c.JSON(http.StatusOK, gin.H{"models": models})
}

// GenerateHandler runs one generation request, streaming progress and the
// finished images as NDJSON.
func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	if strings.Contains(req.Model, "..") || strings.ContainsRune(req.Model, filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model name"})
		return
	}

	opts := requestOptions(&req)

	loader, err := sd.NewLoader(filepath.Join(s.modelsDir(), req.Model))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	pipeline := &diffusion.Pipeline{
		Backend:     s.backend,
		Loader:      loader,
		SampleDType: sampleDType(),
	}

	c.Header("Content-Type", "application/x-ndjson")
	flush := func(resp api.GenerateResponse) {
		resp.Model = req.Model
		resp.CreatedAt = time.Now().UTC()
		data, _ := json.Marshal(resp)
		c.Writer.Write(append(data, '\n'))
		c.Writer.Flush()
	}

	opts.Progress = func(step, total int) {
		flush(api.GenerateResponse{Status: "sampling", Step: step, TotalSteps: total})
	}

	flush(api.GenerateResponse{Status: "loading model"})

	result, err := pipeline.Generate(c.Request.Context(), opts)
	if err != nil {
		data, _ := json.Marshal(gin.H{"error": err.Error()})
		c.Writer.Write(append(data, '\n'))
		c.Writer.Flush()
		return
	}

	images, err := encodePNG(result)
	if err != nil {
		data, _ := json.Marshal(gin.H{"error": err.Error()})
		c.Writer.Write(append(data, '\n'))
		c.Writer.Flush()
		return
	}

	flush(api.GenerateResponse{
		Done:   true,
		Images: images,
		Width:  result.Width,
		Height: result.Height,
		Seed:   opts.Seed,
	})
}

// requestOptions applies the API defaults: square bucket, guidance 7.5,
// 30 steps, random seed.
func requestOptions(req *api.GenerateRequest) diffusion.Options {
	opts := diffusion.Options{
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		ResolutionIndex: diffusion.DefaultBucket,
		GuidanceScale:   7.5,
		Steps:           30,
		Seed:            req.Seed,
	}

	if req.Resolution != nil {
		opts.ResolutionIndex = *req.Resolution
	}
	if req.GuidanceScale != nil {
		opts.GuidanceScale = *req.GuidanceScale
	}
	if req.Steps > 0 {
		opts.Steps = req.Steps
	}
	if opts.Seed == 0 {
		opts.Seed = envconfig.Seed()
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Int63()
	}

	return opts
}

func sampleDType() ml.DType {
	switch envconfig.Precision() {
	case "bf16":
		return ml.DTypeBF16
	case "f32":
		return ml.DTypeF32
	default:
		return ml.DTypeF16
	}
}

// encodePNG packs each RGB8 buffer into a PNG.
func encodePNG(result *diffusion.ImageResult) ([]api.ImageData, error) {
	images := make([]api.ImageData, 0, len(result.Buffer))
	for _, data := range result.Buffer {
		img := image.NewNRGBA(image.Rect(0, 0, result.Width, result.Height))
		for p := 0; p < result.Width*result.Height; p++ {
			img.Pix[p*4+0] = data[p*3+0]
			img.Pix[p*4+1] = data[p*3+1]
			img.Pix[p*4+2] = data[p*3+2]
			img.Pix[p*4+3] = 0xff
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode image: %w", err)
		}
		images = append(images, buf.Bytes())
	}

	return images, nil
}

// allowedHostsMiddleware rejects DNS-rebound requests when listening on
// loopback.
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
				c.Next()
				return
			}
		}

		if host == "localhost" || strings.HasSuffix(host, ".localhost") {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}
