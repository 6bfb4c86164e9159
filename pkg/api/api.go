package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lucid-vigil/honeyshift/pkg/export"
	"github.com/lucid-vigil/honeyshift/pkg/features"
	"github.com/lucid-vigil/honeyshift/pkg/monitors/adaptive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RowPredictor labels raw feature rows in features.Names order.
type RowPredictor interface {
	PredictRows(X [][]float64) ([]int, error)
}

// StatusProvider reports the adaptive monitor's state.
type StatusProvider interface {
	Status() adaptive.Status
}

// Options wires the server's dependencies. Status may be nil, in which case
// /api/status is not served.
type Options struct {
	ExportCSV string
	Predictor RowPredictor
	Status    StatusProvider
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

// Server is the HTTP API.
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer builds the echo instance and registers every route.
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger(opts.Logger))

	s := &Server{echo: e, opts: opts}

	e.GET("/healthz", s.healthz)
	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	g := e.Group("/api")
	g.GET("/logs", s.logs)
	g.POST("/predict", s.predict)
	if opts.Status != nil {
		g.GET("/status", s.status)
	}
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port string) error {
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Msgf("API server starting on :%s", port)
		errCh <- s.echo.Start(":" + port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.opts.Logger.Info().Msg("API server shutting down.")
		return s.echo.Shutdown(context.Background())
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) logs(c echo.Context) error {
	records, err := export.ReadRecords(s.opts.ExportCSV)
	if err != nil {
		s.opts.Logger.Error().Err(err).Str("path", s.opts.ExportCSV).Msg("Failed to read exported logs.")
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, records)
}

type predictRequest struct {
	Features json.RawMessage `json:"features"`
}

type predictResponse struct {
	Prediction int `json:"prediction"`
}

func (s *Server) predict(c echo.Context) error {
	var req predictRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
	}
	row, err := parseFeatures(req.Features)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	labels, err := s.opts.Predictor.PredictRows([][]float64{row})
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, predictResponse{Prediction: labels[0]})
}

// parseFeatures accepts either a two-element array in features.Names order or
// an object keyed by feature name.
func parseFeatures(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("missing 'features'")
	}

	var list []float64
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) != len(features.Names) {
			return nil, fmt.Errorf("expected %d features %v, got %d", len(features.Names), features.Names, len(list))
		}
		return list, nil
	}

	var named map[string]float64
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("'features' must be a list of numbers or an object of %v", features.Names)
	}
	row := make([]float64, len(features.Names))
	for i, name := range features.Names {
		v, ok := named[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q", name)
		}
		row[i] = v
	}
	return row, nil
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Status.Status())
}

func errorJSON(c echo.Context, code int, err error) error {
	return c.JSON(code, map[string]string{"error": err.Error()})
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("API request.")
			return nil
		},
	})
}
