package controlapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence-bridge/internal/config"
	"presence-bridge/internal/control"
	"presence-bridge/internal/session"
	"presence-bridge/internal/state"
)

const (
	defaultHistory = 10
	intentTimeout  = 15 * time.Second
)

// Controller is the intent side of control.Controller.
type Controller interface {
	Submit(ctx context.Context, k control.Kind) error
	Settings() config.Settings
	UpdateSettings(config.Settings) error
}

// StatusSource is the read side of state.StatusStore.
type StatusSource interface {
	Snapshot() state.Status
	History(n int) []state.Event
}

type Options struct {
	Version  string
	Gatherer prometheus.Gatherer
}

// NewHandler builds the router. gin's mode is left to the caller.
func NewHandler(ctrl Controller, status StatusSource, opts Options) (http.Handler, error) {
	tmpl, err := loadTemplate()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", func(c *gin.Context) {
		data := pageData{
			Version:    opts.Version,
			ServerTime: time.Now().UTC().Format(time.RFC3339),
			Status:     status.Snapshot(),
			History:    status.History(defaultHistory),
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			c.String(http.StatusInternalServerError, "Status Template Error")
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
	})

	r.GET("/status", func(c *gin.Context) {
		n := defaultHistory
		if raw := c.Query("history"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "history must be a non-negative integer"})
				return
			}
			n = v
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status.Snapshot(),
			"history": status.History(n),
		})
	})

	for path, kind := range map[string]control.Kind{
		"/connect":    control.Connect,
		"/disconnect": control.Disconnect,
		"/refresh":    control.Refresh,
		"/show":       control.ShowWindow,
		"/exit":       control.Exit,
	} {
		r.POST(path, intentHandler(ctrl, status, kind))
	}

	r.GET("/settings", func(c *gin.Context) {
		c.JSON(http.StatusOK, toDTO(ctrl.Settings()))
	})

	r.PUT("/settings", func(c *gin.Context) {
		var dto settingsDTO
		if err := c.ShouldBindJSON(&dto); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		next, err := dto.apply(ctrl.Settings())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := ctrl.UpdateSettings(next); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toDTO(ctrl.Settings()))
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r, nil
}

func intentHandler(ctrl Controller, status StatusSource, kind control.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), intentTimeout)
		defer cancel()

		err := ctrl.Submit(ctx, kind)
		if err != nil {
			c.JSON(intentStatusCode(err), gin.H{
				"intent": kind.String(),
				"error":  err.Error(),
				"status": status.Snapshot(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"intent": kind.String(),
			"status": status.Snapshot(),
		})
	}
}

func intentStatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrNoCredential),
		errors.Is(err, session.ErrNoTarget),
		errors.Is(err, control.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, control.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrServiceInit),
		errors.Is(err, control.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		level := slog.LevelDebug
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Serve listens on addr and serves h until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	if addr == "" {
		return fmt.Errorf("control api listen address is empty")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serveListener(ctx, ln, h)
}

func serveListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("control api listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
