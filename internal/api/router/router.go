package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/uplifthq/uplift/internal/api/handlers/delivery"
	"github.com/uplifthq/uplift/internal/api/handlers/roster"
	"github.com/uplifthq/uplift/internal/api/handlers/schedule"
	"github.com/uplifthq/uplift/internal/middlewares"
)

func New(
	scheduleHandler *schedule.Handler,
	rosterHandler *roster.Handler,
	deliveryHandler *delivery.Handler,
) *ginext.Engine {
	e := ginext.New("")
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	schedules := e.Group("/api/schedules")
	{
		schedules.POST("/", scheduleHandler.Create)
		schedules.GET("/:id", scheduleHandler.Get)
		schedules.PUT("/:id", scheduleHandler.Update)
		schedules.DELETE("/:id", scheduleHandler.Delete)
		schedules.POST("/:id/pause", scheduleHandler.Pause)
		schedules.POST("/:id/resume", scheduleHandler.Resume)
		schedules.POST("/:id/skip-next", scheduleHandler.SkipNext)
	}

	rosters := e.Group("/api/roster")
	{
		rosters.POST("/", rosterHandler.Add)
		rosters.PUT("/:id/active", rosterHandler.SetActive)
		rosters.DELETE("/:id", rosterHandler.Remove)
	}

	users := e.Group("/api/users/:userID")
	{
		users.GET("/schedules", scheduleHandler.ListByUser)
		users.GET("/roster", rosterHandler.List)
		users.PUT("/rotation", rosterHandler.SetMode)
		users.GET("/streak", deliveryHandler.GetStreak)
		users.GET("/history", deliveryHandler.ListHistory)
	}

	jobs := e.Group("/api/jobs")
	{
		jobs.GET("/", deliveryHandler.ListJobs)
		jobs.GET("/:id", deliveryHandler.GetStatus)
		jobs.POST("/:id/trigger", deliveryHandler.TriggerNow)
	}

	e.POST("/api/streaks/recalculate", deliveryHandler.RecalculateStreaks)

	return e
}
