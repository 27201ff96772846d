package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeReportGenerate      = "report:generate"
	TypeStageReportGenerate = "report:stage"
)

// ReportGeneratePayload 描述整场报告生成任务。
type ReportGeneratePayload struct {
	SessionID     uint   `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
}

// StageReportGeneratePayload 描述阶段小结生成任务。
type StageReportGeneratePayload struct {
	SessionID     uint   `json:"session_id"`
	StageCode     string `json:"stage_code"`
	CorrelationID string `json:"correlation_id"`
}

// NewReportGenerateTask 构造整场报告生成任务。
func NewReportGenerateTask(sessionID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReportGeneratePayload{
		SessionID:     sessionID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReportGenerate, payload), nil
}

// NewStageReportGenerateTask 构造阶段小结生成任务。
func NewStageReportGenerateTask(sessionID uint, stageCode, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(StageReportGeneratePayload{
		SessionID:     sessionID,
		StageCode:     stageCode,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStageReportGenerate, payload), nil
}
