package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"aimian/internal/apperr"
	"aimian/internal/report"
	"aimian/internal/tasks"
)

// ReportTaskHandler 消费报告类任务：整场报告与阶段小结。
type ReportTaskHandler struct {
	reports *report.Service
	logger  *slog.Logger
}

// NewReportTaskHandler 创建任务处理器。
func NewReportTaskHandler(reports *report.Service, logger *slog.Logger) *ReportTaskHandler {
	return &ReportTaskHandler{reports: reports, logger: logger}
}

// ProcessReport 实现整场报告任务的 asynq.Handler。
func (h *ReportTaskHandler) ProcessReport(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ReportGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal report task payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("session_id", uint64(payload.SessionID)),
	)

	rep, err := h.reports.GenerateReport(ctx, payload.SessionID)
	if err != nil {
		// 状态类失败（会话未结束、无内容）重试不会改变结局，直接丢弃。
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindConflict, apperr.KindValidation:
			log.Warn("报告任务不可恢复，跳过", slog.Any("error", err))
			return nil
		}
		log.Error("报告任务失败", slog.Any("error", err))
		return err
	}

	log.Info("报告任务完成", slog.Int("score", rep.OverallScore))
	return nil
}

// ProcessStageReport 实现阶段小结任务的 asynq.Handler。
func (h *ReportTaskHandler) ProcessStageReport(ctx context.Context, t *asynq.Task) error {
	var payload tasks.StageReportGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal stage report task payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("session_id", uint64(payload.SessionID)),
		slog.String("stage", payload.StageCode),
	)

	mini, err := h.reports.GenerateStageMiniReport(ctx, payload.SessionID, payload.StageCode)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound, apperr.KindConflict, apperr.KindValidation:
			log.Warn("阶段小结任务不可恢复，跳过", slog.Any("error", err))
			return nil
		}
		log.Error("阶段小结任务失败", slog.Any("error", err))
		return err
	}

	log.Info("阶段小结任务完成", slog.Int("score", mini.Score))
	return nil
}
