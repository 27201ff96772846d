package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"aimian/internal/api/middleware"
	"aimian/internal/database"
	"aimian/internal/report"
	"aimian/internal/tasks"
)

// ReportHandler 负责面试报告相关的 API 请求。
type ReportHandler struct {
	reports     *report.Service
	asynqClient *asynq.Client
}

// NewReportHandler 构造 ReportHandler。
func NewReportHandler(reports *report.Service, asynqClient *asynq.Client) *ReportHandler {
	return &ReportHandler{reports: reports, asynqClient: asynqClient}
}

type reportResponse struct {
	ID           uint                   `json:"id"`
	SessionID    uint                   `json:"sessionId"`
	OverallScore int                    `json:"overallScore"`
	Summary      string                 `json:"summary"`
	Strengths    []string               `json:"strengths"`
	Weaknesses   []string               `json:"weaknesses"`
	Suggestions  []string               `json:"suggestions"`
	AiEnabled    bool                   `json:"aiEnabled"`
	AiProvider   string                 `json:"aiProvider,omitempty"`
	AiModel      string                 `json:"aiModel,omitempty"`
	StageReports []report.StageSnapshot `json:"stageReports"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

func newReportResponse(r *database.Report) reportResponse {
	return reportResponse{
		ID:           r.ID,
		SessionID:    r.SessionID,
		OverallScore: r.OverallScore,
		Summary:      r.Summary,
		Strengths:    database.StringList(r.Strengths),
		Weaknesses:   database.StringList(r.Weaknesses),
		Suggestions:  database.StringList(r.Suggestions),
		AiEnabled:    r.AiEnabled,
		AiProvider:   r.AiProvider,
		AiModel:      r.AiModel,
		StageReports: report.StageSnapshots(r.StageReports),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// GenerateReport 同步生成（或重新生成）面试报告。
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	result, err := h.reports.GenerateReport(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, newReportResponse(result))
}

// GenerateReportAsync 将报告生成入队后台任务，立即返回 202。
func (h *ReportHandler) GenerateReportAsync(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	task, err := tasks.NewReportGenerateTask(sessionID, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, "创建后台任务失败")
		return
	}
	info, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3))
	if err != nil {
		middleware.LoggerFromContext(c).Error("入队报告生成任务失败", slog.Any("error", err))
		Internal(c, "入队后台任务失败")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "报告生成任务已入队",
		"data":    gin.H{"taskId": info.ID},
	})
}

// GetReport 查询已生成的面试报告。
func (h *ReportHandler) GetReport(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	result, err := h.reports.GetReport(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, newReportResponse(result))
}

// ExportReport 按指定格式导出报告，当前支持 format=json。
func (h *ReportHandler) ExportReport(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", "json")
	if format != "json" {
		BadRequest(c, fmt.Sprintf("不支持的导出格式：%s", format))
		return
	}

	result, err := h.reports.GetReport(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="interview-report-%d.json"`, sessionID))
	c.JSON(http.StatusOK, newReportResponse(result))
}
