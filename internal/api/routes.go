package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"aimian/internal/interview"
	"aimian/internal/report"
	"aimian/internal/storage"
)

// RegisterRoutes 注册全部业务路由，统一挂在 /api 前缀下。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	sessions *interview.Service,
	generator *interview.Generator,
	reports *report.Service,
	storageClient *storage.Client,
	clamdAddr string,
	logger *slog.Logger,
) {
	interviewHandler := NewInterviewHandler(sessions, generator, asynqClient)
	reportHandler := NewReportHandler(reports, asynqClient)
	resumeHandler := NewResumeHandler(db, storageClient, clamdAddr, logger)

	api := router.Group("/api")
	{
		sessionGroup := api.Group("/interview/sessions")
		{
			sessionGroup.POST("", interviewHandler.CreateSession)
			sessionGroup.GET("", interviewHandler.ListSessions)
			sessionGroup.GET("/:id", interviewHandler.GetSessionDetail)
			sessionGroup.POST("/:id/turns", interviewHandler.AddTurn)
			sessionGroup.POST("/:id/next-question", interviewHandler.NextQuestion)
			sessionGroup.GET("/:id/next-question/stream", interviewHandler.StreamNextQuestion)
			sessionGroup.POST("/:id/end", interviewHandler.EndSession)
			sessionGroup.POST("/:id/stage/next", interviewHandler.AdvanceStage)
			sessionGroup.POST("/:id/report", reportHandler.GenerateReport)
			sessionGroup.GET("/:id/report", reportHandler.GetReport)
			sessionGroup.POST("/:id/report/async", reportHandler.GenerateReportAsync)
		}

		reportGroup := api.Group("/reports")
		{
			reportGroup.GET("/:id", reportHandler.GetReport)
			reportGroup.GET("/:id/export", reportHandler.ExportReport)
		}

		resumeGroup := api.Group("/resumes")
		{
			resumeGroup.POST("/upload", resumeHandler.UploadResume)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
		}
	}
}
