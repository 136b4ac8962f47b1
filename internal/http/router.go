package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/interpool/backend/internal/config"
	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/engine"
	"github.com/interpool/backend/internal/http/handlers"
	"github.com/interpool/backend/internal/http/middleware"
	"github.com/interpool/backend/internal/policy"
	"github.com/interpool/backend/internal/pool"
	"github.com/interpool/backend/internal/recovery"

	_ "github.com/interpool/backend/docs"
)

type Services struct {
	Store      *db.Store
	Pool       *pool.Service
	Policies   *policy.Service
	Engine     *engine.Engine
	Recovery   *recovery.Service
	Supervisor *recovery.Supervisor
}

func Router(cfg config.Config, svc Services, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:      svc.Store,
		Pool:       svc.Pool,
		Policies:   svc.Policies,
		Engine:     svc.Engine,
		Recovery:   svc.Recovery,
		Supervisor: svc.Supervisor,
		Validator:  validator.New(),
		Logger:     logger,
		AdminKey:   cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/pool/stats", h.PoolStats)
		api.GET("/diagnostics", h.Diagnostics)
		api.GET("/policy", h.PolicyGet)
		api.GET("/bookings/:id/suggestions", h.Suggestions)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.PUT("/policy", h.PolicyUpdate)
		admin.POST("/process", h.Process)
		admin.POST("/pool/entries", h.Enqueue)
		admin.POST("/pool/retry-failed", h.RetryFailed)
		admin.POST("/pool/:id/reset", h.ResetProcessing)
		admin.POST("/bookings/:id/assign", h.AssignBooking)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
