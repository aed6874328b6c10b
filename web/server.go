package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/pipeline"
	"github.com/khaledhikmat/vs-live/service/config"
	"github.com/khaledhikmat/vs-live/service/data"
	"github.com/khaledhikmat/vs-live/service/lgr"
	"github.com/khaledhikmat/vs-live/service/notify"
	"github.com/khaledhikmat/vs-live/service/storage"
)

const (
	maxFrameSize    = 10 << 20
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP boundary of the pipeline.
type Server struct {
	p        *pipeline.Pipeline
	svcs     pipeline.ServicesFactory
	telegram *notify.Telegram
	engine   *gin.Engine
}

// New builds the routes. telegram may be nil, in which case the webhook
// answers 404.
func New(p *pipeline.Pipeline, svcs pipeline.ServicesFactory, telegram *notify.Telegram) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		p:        p,
		svcs:     svcs,
		telegram: telegram,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		lgr.Logger.Info("http server listening", slog.String("address", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		// streaming viewers never finish on their own
		return srv.Close()
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// uploads arrive several times per second
		level := slog.LevelInfo
		if c.FullPath() == "/upload" || c.FullPath() == "/frame.jpg" {
			level = slog.LevelDebug
		}

		lgr.Logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) routes() {
	r := s.engine

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "vs-live"})
	})

	r.POST("/upload", s.upload)
	r.GET("/video_feed", s.videoFeed)
	r.GET("/frame.jpg", s.currentFrame)

	r.POST("/toggle_negative", s.toggleNegative)
	r.POST("/toggle_object_detection", s.toggleDetection)
	r.POST("/set_red_classes", s.setDangerClasses)
	r.POST("/set_max_age", s.setMaxAge)

	r.POST("/control", s.setCommand)
	r.GET("/get_command", s.getCommand)

	r.GET("/status_data", s.status)
	r.GET("/gps", s.gps)
	r.GET("/sensor_data", s.sensorData)
	r.GET("/detection/status", s.detectionStatus)

	r.POST("/save_image", s.saveImage)
	r.GET("/list_saved_images", s.listImages)
	r.DELETE("/delete_image/:id", s.deleteImage)
	r.POST("/update_image/:id", s.updateImage)
	r.GET("/saved_images/:file", s.serveImage)
	r.GET("/thumbnails/:file", s.serveThumbnail)
	r.GET("/statistics/detection", s.statistics)
	r.GET("/images/near/:lat/:lon", s.imagesNear)
	r.GET("/database/stats", s.storeStatistics)
	r.POST("/send_image_telegram/:id", s.sendImage)

	r.POST("/telegram_webhook", s.telegramWebhook)
}

func (s *Server) fail(c *gin.Context, err error) {
	var verr *model.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, data.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoFrame):
		status = http.StatusConflict
	default:
		lgr.Logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", lgr.Trace(err)),
		)
	}

	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (s *Server) upload(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFrameSize+1))
	if err != nil {
		s.fail(c, model.NewValidationError("frame", "unreadable body: %v", err))
		return
	}
	if len(body) > maxFrameSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "frame too large"})
		return
	}

	if _, err := s.p.Ingest(body, c.GetHeader("X-GPS"), c.GetHeader("X-TEMP")); err != nil {
		s.fail(c, err)
		return
	}

	c.String(http.StatusOK, "OK")
}

func (s *Server) videoFeed(c *gin.Context) {
	s.p.Distributor.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) currentFrame(c *gin.Context) {
	frame, err := s.p.CurrentFrame()
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) toggleNegative(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "negative": s.p.ToggleNegative()})
}

func (s *Server) toggleDetection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "objectDetection": s.p.ToggleDetection()})
}

func (s *Server) setDangerClasses(c *gin.Context) {
	s.p.State.SetDangerClasses(config.SplitList(c.PostForm("classes")))
	c.JSON(http.StatusOK, gin.H{"success": true, "classes": s.p.State.DangerClasses()})
}

func (s *Server) setMaxAge(c *gin.Context) {
	age, err := strconv.ParseFloat(strings.TrimSpace(c.PostForm("age")), 64)
	if err != nil {
		s.fail(c, model.NewValidationError("max_age", "%q is not a number", c.PostForm("age")))
		return
	}

	if err := s.p.Cache.SetMaxAge(time.Duration(age * float64(time.Second))); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "maxAge": s.p.Cache.MaxAge().Seconds()})
}

func (s *Server) setCommand(c *gin.Context) {
	if err := s.p.State.SetCommand(c.PostForm("direction")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "command": s.p.State.Command()})
}

func (s *Server) getCommand(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"command": s.p.State.Command()})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.Status())
}

func (s *Server) gps(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.State.GPS())
}

func (s *Server) sensorData(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.State.Environment())
}

func (s *Server) detectionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.p.DetectionStatus())
}

func (s *Server) saveImage(c *gin.Context) {
	rec, err := s.p.SaveSnapshot(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "image": rec})
}

func parseDay(field, v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, model.NewValidationError(field, "expected YYYY-MM-DD or RFC 3339, got %q", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (s *Server) listImages(c *gin.Context) {
	filter := model.ImageFilter{}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "12"))

	if v := c.Query("has_detection"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(c, model.NewValidationError("has_detection", "%q is not a boolean", v))
			return
		}
		filter.HasDetection = &b
	}

	var err error
	if filter.From, err = parseDay("from", c.Query("from"), false); err != nil {
		s.fail(c, err)
		return
	}
	if filter.To, err = parseDay("to", c.Query("to"), true); err != nil {
		s.fail(c, err)
		return
	}

	page, err := s.svcs.DataSvc.RetrieveImages(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) deleteImage(c *gin.Context) {
	if _, err := s.p.DeleteSnapshot(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateImageRequest struct {
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

func (s *Server) updateImage(c *gin.Context) {
	var req updateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, model.NewValidationError("body", "%v", err))
		return
	}

	tags := []string{}
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	rec, err := s.svcs.DataSvc.UpdateImage(c.Request.Context(), c.Param("id"), tags, strings.TrimSpace(req.Description))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "image": rec})
}

func (s *Server) serveImage(c *gin.Context) {
	path, err := s.svcs.StorageSvc.ImagePath(c.Param("file"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.File(path)
}

func (s *Server) serveThumbnail(c *gin.Context) {
	path, err := s.svcs.StorageSvc.ThumbnailPath(c.Param("file"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.File(path)
}

func (s *Server) statistics(c *gin.Context) {
	filter := model.StatisticsFilter{}

	var err error
	if filter.From, err = parseDay("date_from", c.Query("date_from"), false); err != nil {
		s.fail(c, err)
		return
	}
	if filter.To, err = parseDay("date_to", c.Query("date_to"), true); err != nil {
		s.fail(c, err)
		return
	}

	stats, err := s.svcs.DataSvc.RetrieveDetectionStatistics(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) imagesNear(c *gin.Context) {
	coord := func(field, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, model.NewValidationError(field, "%q is not a number", v)
		}
		return f, nil
	}

	lat, err := coord("lat", c.Param("lat"))
	if err != nil {
		s.fail(c, err)
		return
	}
	lon, err := coord("lon", c.Param("lon"))
	if err != nil {
		s.fail(c, err)
		return
	}
	radius, err := coord("radius", c.DefaultQuery("radius", "1.0"))
	if err != nil {
		s.fail(c, err)
		return
	}

	images, err := s.svcs.DataSvc.RetrieveImagesNear(c.Request.Context(), lat, lon, radius)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"images": images,
		"count":  len(images),
		"query":  gin.H{"lat": lat, "lon": lon, "radiusKm": radius},
	})
}

func (s *Server) storeStatistics(c *gin.Context) {
	stats, err := s.svcs.DataSvc.RetrieveStoreStatistics(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) sendImage(c *gin.Context) {
	if err := s.p.SendSnapshot(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) telegramWebhook(c *gin.Context) {
	if s.telegram == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "telegram is not configured"})
		return
	}

	var u notify.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		s.fail(c, model.NewValidationError("update", "%v", err))
		return
	}

	// Telegram retries on non-2xx, so failures are only logged
	if err := s.telegram.HandleUpdate(c.Request.Context(), u); err != nil {
		lgr.Logger.Warn("telegram update failed", slog.Int64("update", u.UpdateID), slog.Any("error", err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
