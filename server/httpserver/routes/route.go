package routes

import (
	"github.com/gantryci/gantry/server/httpserver/controllers"
	"github.com/gantryci/gantry/server/httpserver/middlewares"
	"github.com/gin-gonic/gin"
)

func initialize(ginApp *gin.Engine, ctr *controllers.Controller) {
	api := ginApp.Group("/apis/v1")
	api.GET("/healthz", ctr.Health)
	api.POST("/login", ctr.Login)
	// Hooks authenticate with the payload signature, not a bearer token.
	api.POST("/hooks/github", ctr.GithubHook)

	private := api.Group("/")
	private.Use(middlewares.Authorize())
	private.POST("/workflows/apply", ctr.Apply)
	private.GET("/workflows", ctr.ListWorkflows)
	private.GET("/workflows/:id", ctr.GetWorkflow)
	private.DELETE("/workflows/:id", ctr.DeleteWorkflow)
	private.POST("/workflows/:id/active", ctr.SetWorkflowActive)
	private.POST("/workflows/:id/dispatch", ctr.TriggerWorkflow)
	private.GET("/runs", ctr.ListRuns)
	private.GET("/runs/:id", ctr.GetRun)
	private.POST("/runs/:id/cancel", ctr.CancelRun)
	private.POST("/runs/:id/rerun", ctr.RerunRun)
	private.GET("/runs/:id/logs", ctr.RunLogs)
	private.GET("/runners", ctr.ListRunners)
}

func Build(ctr *controllers.Controller) *gin.Engine {
	ginApp := gin.New()
	ginApp.Use(gin.Recovery())
	ginApp.Use(middlewares.CORSMiddleware())
	initialize(ginApp, ctr)

	return ginApp
}
