package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/david/rfp-scout/internal/db"
	"github.com/david/rfp-scout/internal/ingest"
	"github.com/david/rfp-scout/internal/notify"
	"github.com/david/rfp-scout/internal/scheduler"
)

// Server is the admin HTTP API: schedule, recipients, website list, and
// result inspection over the data the Dispatcher writes.
type Server struct {
	Store     *db.Store
	Echo      *echo.Echo
	DB        *pgxpool.Pool
	Scheduler *scheduler.Scheduler
	Notifier  notify.Notifier
	TZ        *time.Location
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

// NewServer wires the admin API's routes over an already-constructed Store
// and Scheduler.
func NewServer(pool *pgxpool.Pool, store *db.Store, sched *scheduler.Scheduler, tz *time.Location) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		Store:     store,
		Echo:      e,
		DB:        pool,
		Scheduler: sched,
		Notifier:  notify.NewLogNotifier(),
		TZ:        tz,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/healthz", s.handleHealthz)

	admin := s.Echo.Group("")
	admin.Use(s.adminMiddleware)

	admin.GET("/rfps", s.handleListRfps)
	admin.GET("/rfps/:hash", s.handleGetRfp)
	admin.GET("/rfps/:hash/pdf", s.handleGetRfpPDF)
	admin.DELETE("/rfps/:hash", s.handleDeleteRfp)

	admin.GET("/schedule", s.handleGetSchedule)
	admin.PUT("/schedule", s.handlePutSchedule)
	admin.DELETE("/schedule", s.handleDeleteSchedule)

	admin.GET("/email-settings", s.handleGetEmailSettings)
	admin.PUT("/email-settings", s.handlePutEmailSettings)

	admin.GET("/website-settings", s.handleListWebsiteSettings)
	admin.POST("/website-settings", s.handleCreateWebsiteSetting)
	admin.PUT("/website-settings/:id", s.handleUpdateWebsiteSetting)
	admin.DELETE("/website-settings/:id", s.handleDeleteWebsiteSetting)

	admin.POST("/scrape", s.handleScrape)
	admin.GET("/runs", s.handleListRuns)
}

func (s *Server) handleHealthz(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.DB.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRfps(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	result, err := s.Store.ListProcessedRfps(c.Request().Context(), db.ListParams{
		Site:   c.QueryParam("site"),
		Query:  c.QueryParam("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetRfp(c echo.Context) error {
	r, err := s.Store.GetProcessedRfp(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleGetRfpPDF(c echo.Context) error {
	pdf, err := s.Store.GetProcessedRfpPDF(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) handleDeleteRfp(c echo.Context) error {
	if err := s.Store.DeleteProcessedRfp(c.Request().Context(), c.Param("hash")); err != nil {
		if err == pgx.ErrNoRows {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetSchedule(c echo.Context) error {
	cfg, err := s.Store.GetScrapeConfig(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

type scheduleRequest struct {
	Enabled       bool    `json:"enabled"`
	IntervalHours float64 `json:"interval_hours"`
	NextRunHour   *int    `json:"next_run_hour"`
	NextRunMinute *int    `json:"next_run_minute"`
}

func (s *Server) handlePutSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	hour, minute := 0, 0
	hasTime := req.NextRunHour != nil && req.NextRunMinute != nil
	if hasTime {
		hour, minute = *req.NextRunHour, *req.NextRunMinute
	}

	loc := s.TZ
	if loc == nil {
		loc = time.UTC
	}

	cfg, err := s.Store.UpdateScrapeConfig(c.Request().Context(), req.Enabled, req.IntervalHours, hour, minute, loc, hasTime, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleDeleteSchedule(c echo.Context) error {
	if err := s.Store.ResetScrapeConfig(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetEmailSettings(c echo.Context) error {
	e, err := s.Store.GetEmailSettings(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handlePutEmailSettings(c echo.Context) error {
	var req db.EmailSettings
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	e, err := s.Store.UpdateEmailSettings(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleListWebsiteSettings(c echo.Context) error {
	sites, err := s.Store.ListWebsiteSettings(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sites)
}

func (s *Server) handleCreateWebsiteSetting(c echo.Context) error {
	var req db.WebsiteSettings
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if err := validateWebsiteURL(req.URL); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	w, err := s.Store.CreateWebsiteSetting(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, w)
}

func (s *Server) handleUpdateWebsiteSetting(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var req db.WebsiteSettings
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.URL != "" {
		if err := validateWebsiteURL(req.URL); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	w, err := s.Store.UpdateWebsiteSetting(c.Request().Context(), id, req)
	if err != nil {
		if err == pgx.ErrNoRows {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) handleDeleteWebsiteSetting(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	if err := s.Store.DeleteWebsiteSetting(c.Request().Context(), id); err != nil {
		if err == pgx.ErrNoRows {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// handleScrape implements POST /scrape: an imperative, synchronous run in
// the caller's request context, optionally emailing the result.
func (s *Server) handleScrape(c echo.Context) error {
	ctx := c.Request().Context()
	startedAt := time.Now().UTC()

	summary, logLines := s.Scheduler.ExecuteRun(ctx, "manual", startedAt)

	sendMain := c.QueryParam("send_main") != ""
	sendDebug := c.QueryParam("send_debug") != ""
	if sendMain || sendDebug {
		s.notifyRun(ctx, "manual", startedAt, summary, logLines, sendMain, sendDebug)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"new_count": summary.ItemsNew,
		"new_rfps":  summary.NewRfps,
	})
}

// notifyRun sends the main digest and/or the debug (log-attached) digest to
// the configured email recipients, driven by the send_main/send_debug query
// flags on POST /scrape. Recipient lookup failures are logged, never fatal
// to the triggering request.
func (s *Server) notifyRun(ctx context.Context, trigger string, startedAt time.Time, summary ingest.RunSummary, logLines []string, sendMain, sendDebug bool) {
	settings, err := s.Store.GetEmailSettings(ctx)
	if err != nil {
		log.Printf("[Server] loading email settings for notify: %v", err)
		return
	}

	digest := notify.Digest{Trigger: trigger, StartedAt: startedAt, Summary: summary, LogLines: logLines}

	if sendMain && len(settings.MainRecipients) > 0 {
		if err := s.Notifier.Send(settings.MainRecipients, digest, false); err != nil {
			log.Printf("[Server] sending main digest: %v", err)
		}
	}
	if sendDebug && len(settings.DebugRecipients) > 0 {
		if err := s.Notifier.Send(settings.DebugRecipients, digest, true); err != nil {
			log.Printf("[Server] sending debug digest: %v", err)
		}
	}
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.Store.ListScrapeRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

// validateWebsiteURL rejects blank URLs and anything resolving to a private
// or special-use address, since a crawl target here is operator-supplied and
// the fetcher will happily follow it.
func validateWebsiteURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("url is required")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url must have a host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateOrSpecialIP(ip) {
			return fmt.Errorf("url must not resolve to a private or special-use address")
		}
		return nil
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", host, err)
	}
	for _, ip := range addrs {
		if isPrivateOrSpecialIP(ip) {
			return fmt.Errorf("url must not resolve to a private or special-use address")
		}
	}
	return nil
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func isPrivateOrSpecialIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 100 && ip4[1]&0xC0 == 64 {
			return true
		}
		if ip4[0] == 169 && ip4[1] == 254 {
			return true
		}
	}

	return false
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
