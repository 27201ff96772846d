package api

import (
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"aimian/internal/api/middleware"
	"aimian/internal/database"
	"aimian/internal/interview"
	"aimian/internal/tasks"
)

// InterviewHandler 负责面试会话相关的 API 请求。
type InterviewHandler struct {
	sessions    *interview.Service
	generator   *interview.Generator
	asynqClient *asynq.Client
}

// NewInterviewHandler 构造 InterviewHandler。
func NewInterviewHandler(sessions *interview.Service, generator *interview.Generator, asynqClient *asynq.Client) *InterviewHandler {
	return &InterviewHandler{
		sessions:    sessions,
		generator:   generator,
		asynqClient: asynqClient,
	}
}

type createSessionRequest struct {
	ResumeID        uint `json:"resumeId" binding:"required"`
	DurationMinutes int  `json:"durationMinutes" binding:"required,gt=0"`
}

type addTurnRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type sessionResponse struct {
	ID              uint                      `json:"id"`
	UserID          uint                      `json:"userId"`
	ResumeID        uint                      `json:"resumeId"`
	DurationMinutes int                       `json:"durationMinutes"`
	Status          string                    `json:"status"`
	CurrentStage    string                    `json:"currentStage"`
	StagePlan       []database.StagePlanStage `json:"stagePlan"`
	StartedAt       *time.Time                `json:"startedAt"`
	EndedAt         *time.Time                `json:"endedAt"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

type turnResponse struct {
	ID          uint      `json:"id"`
	SessionID   uint      `json:"sessionId"`
	Role        string    `json:"role"`
	ContentText string    `json:"contentText"`
	StageCode   string    `json:"stageCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newSessionResponse(session *database.InterviewSession) sessionResponse {
	return sessionResponse{
		ID:              session.ID,
		UserID:          session.UserID,
		ResumeID:        session.ResumeID,
		DurationMinutes: session.DurationMinutes,
		Status:          session.Status,
		CurrentStage:    session.CurrentStage,
		StagePlan:       session.PlanStages(),
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}
}

func newTurnResponse(turn *database.InterviewTurn) turnResponse {
	return turnResponse{
		ID:          turn.ID,
		SessionID:   turn.SessionID,
		Role:        turn.Role,
		ContentText: turn.ContentText,
		StageCode:   turn.StageCode,
		CreatedAt:   turn.CreatedAt,
	}
}

// CreateSession 创建面试会话。
func (h *InterviewHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.ResumeID, req.DurationMinutes)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, session.ID)
}

// AddTurn 追加对话轮次。
func (h *InterviewHandler) AddTurn(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req addTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	turn, err := h.sessions.AddTurn(c.Request.Context(), sessionID, req.Role, req.Content)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, turn.ID)
}

// GetSessionDetail 查询会话详情，包含全部对话轮次。
func (h *InterviewHandler) GetSessionDetail(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, turns, err := h.sessions.SessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}

	turnViews := make([]turnResponse, 0, len(turns))
	for i := range turns {
		turnViews = append(turnViews, newTurnResponse(&turns[i]))
	}
	Success(c, gin.H{
		"session": newSessionResponse(session),
		"turns":   turnViews,
	})
}

// ListSessions 分页查询会话列表，支持 resumeId/status 可选筛选。
func (h *InterviewHandler) ListSessions(c *gin.Context) {
	q := interview.ListQuery{Page: 1, Size: 10}

	if raw := c.Query("resumeId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			BadRequest(c, "invalid resumeId")
			return
		}
		resumeID := uint(id)
		q.ResumeID = &resumeID
	}
	// 无效的状态筛选值直接忽略，与不筛选等价。
	if status := c.Query("status"); validStatus(status) {
		q.Status = status
	}
	if raw := c.Query("page"); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil {
			q.Page = page
		}
	}
	if raw := c.Query("size"); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil {
			q.Size = size
		}
	}
	// 非法分页参数归一化为默认值，与服务层行为一致。
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = 10
	}

	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), q)
	if err != nil {
		HandleError(c, err)
		return
	}

	views := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		views = append(views, newSessionResponse(&sessions[i]))
	}
	totalPages := (total + int64(q.Size) - 1) / int64(q.Size)
	Success(c, gin.H{
		"sessions":   views,
		"total":      total,
		"page":       q.Page,
		"size":       q.Size,
		"totalPages": totalPages,
	})
}

// NextQuestion 同步生成下一道面试问题。
func (h *InterviewHandler) NextQuestion(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	turn, err := h.generator.GenerateNextQuestion(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{
		"turnId":   turn.ID,
		"question": turn.ContentText,
	})
}

// StreamNextQuestion 以 SSE 流式下发下一道面试问题。
// 事件序列为若干 chunk + 恰好一个终止事件（done 或 error）。
func (h *InterviewHandler) StreamNextQuestion(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events := h.generator.StreamNextQuestion(c.Request.Context(), sessionID)
	c.Stream(func(_ io.Writer) bool {
		ev, open := <-events
		if !open {
			return false
		}
		c.SSEvent(ev.Name, ev.Data)
		return true
	})
}

// EndSession 结束面试会话，重复调用幂等。
func (h *InterviewHandler) EndSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.sessions.EndSession(c.Request.Context(), sessionID); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, sessionID)
}

// AdvanceStage 推进到下一面试阶段，并为离开的阶段入队小结任务。
func (h *InterviewHandler) AdvanceStage(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, left, err := h.sessions.AdvanceStage(c.Request.Context(), sessionID)
	if err != nil {
		HandleError(c, err)
		return
	}

	// 阶段小结是补充信息，入队失败只记日志，不影响推进结果。
	if left != "" && h.asynqClient != nil {
		task, err := tasks.NewStageReportGenerateTask(sessionID, left, middleware.GetCorrelationID(c))
		if err == nil {
			_, err = h.asynqClient.Enqueue(task, asynq.MaxRetry(3))
		}
		if err != nil {
			middleware.LoggerFromContext(c).Warn("入队阶段小结任务失败",
				slog.String("stage", left),
				slog.Any("error", err),
			)
		}
	}

	Success(c, newSessionResponse(session))
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid session id")
		return 0, false
	}
	return uint(id), true
}

func validStatus(status string) bool {
	switch status {
	case database.SessionCreated, database.SessionRunning, database.SessionEnded,
		database.SessionFinished, database.SessionFailed:
		return true
	}
	return false
}
