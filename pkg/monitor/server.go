// Package monitor serves health, Prometheus metrics and the latest streamed
// head pose over HTTP while a stream runs.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gwillem/reachymini/pkg/robot"
	"github.com/gwillem/reachymini/pkg/stream"
)

const shutdownTimeout = 5 * time.Second

// StateSource returns the latest stream sample. *stream.Controller
// implements it.
type StateSource interface {
	State() stream.State
	Hz() int
	Running() bool
}

var _ StateSource = (*stream.Controller)(nil)

// Server is the monitoring endpoint.
type Server struct {
	router   *gin.Engine
	source   StateSource
	appeared time.Time
}

// PoseResponse is the body of GET /pose.
type PoseResponse struct {
	Pose      robot.HeadPose `json:"pose"`
	Joints    []float64      `json:"joints"`
	Converged bool           `json:"converged"`
	Recorded  int            `json:"recorded"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// New builds the router. An empty origin list allows any origin.
func New(logger zerolog.Logger, source StateSource, corsOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	robot.RegisterMetrics()
	RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins:    normalizeOrigins(corsOrigins),
		AllowAllOrigins: len(normalizeOrigins(corsOrigins)) == 0,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{router: r, source: source, appeared: time.Now()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"streaming": s.source.Running(),
			"hz":        s.source.Hz(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/pose", func(c *gin.Context) {
		st := s.source.State()
		if st.Timestamp.IsZero() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sample yet"})
			return
		}
		resp := PoseResponse{
			Pose:      st.Pose,
			Joints:    st.Joints,
			Converged: st.Converged,
			Recorded:  st.Recorded,
			Timestamp: st.Timestamp,
		}
		if st.Error != nil {
			resp.Error = st.Error.Error()
		}
		c.JSON(http.StatusOK, resp)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || o == "*" {
			continue
		}
		out = append(out, o)
	}
	return out
}
