package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/taskflare/pubsub-scheduler/internal/transport/http/handler"
	"github.com/taskflare/pubsub-scheduler/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, scheduleHandler *handler.ScheduleHandler, apiUsername, apiPassword string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	schedules := r.Group("/schedules", middleware.BasicAuth(apiUsername, apiPassword))
	schedules.POST("", scheduleHandler.Create)

	return r
}
