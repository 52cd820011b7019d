package server

import (
	"context"
	"marketplace-checkout/internal/handler"
	"marketplace-checkout/internal/middleware"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	echo            *echo.Echo
	log             *zap.Logger
	jwtSecret       string
	webhookHandler  *handler.WebhookHandler
	checkoutHandler *handler.CheckoutHandler
}

func NewServer(webhookHandler *handler.WebhookHandler, checkoutHandler *handler.CheckoutHandler, jwtSecret string, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	}))
	e.Use(echomw.Recover())

	s := &Server{
		echo:            e,
		log:             log,
		jwtSecret:       jwtSecret,
		webhookHandler:  webhookHandler,
		checkoutHandler: checkoutHandler,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- webhooks --------
	api.Any("/webhooks/payments", s.webhookHandler.Receive)

	// -------- card checkout --------
	auth := middleware.AuthMiddleware(s.jwtSecret)
	api.POST("/checkout/card", s.checkoutHandler.CardCheckout, auth)
	api.GET("/library", s.checkoutHandler.Library, auth)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	s.log.Info("starting HTTP server", zap.String("address", address))
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
