package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"aimian/internal/apperr"
	"aimian/internal/database"
)

// DefaultUserID 为当前所有会话的归属账号。
// 上游系统尚未接入多租户，与其保持一致使用固定种子用户。
const DefaultUserID uint = 1

// Service 负责面试会话生命周期：创建、追加对话、查询、结束与阶段推进。
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewService 构造 Service。
func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateSession 创建一场新会话并物化默认阶段计划。
func (s *Service) CreateSession(ctx context.Context, resumeID uint, durationMinutes int) (*database.InterviewSession, error) {
	session := &database.InterviewSession{
		UserID:          DefaultUserID,
		ResumeID:        resumeID,
		DurationMinutes: durationMinutes,
		Status:          database.SessionCreated,
	}
	if _, err := ensureStagePlan(session); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("创建面试会话",
		slog.Uint64("session_id", uint64(session.ID)),
		slog.Uint64("resume_id", uint64(resumeID)),
		slog.Int("duration", durationMinutes),
	)
	return session, nil
}

// AddTurn 追加一条对话记录。角色大小写不敏感，非法角色报参数错误。
func (s *Service) AddTurn(ctx context.Context, sessionID uint, role, content string) (*database.InterviewTurn, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	normalized := strings.ToUpper(strings.TrimSpace(role))
	if !database.ValidRole(normalized) {
		return nil, apperr.New(apperr.KindValidation, "无效的角色: %s", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.New(apperr.KindValidation, "对话内容不能为空")
	}

	turn := &database.InterviewTurn{
		SessionID:   sessionID,
		Role:        normalized,
		ContentText: content,
		StageCode:   session.CurrentStage,
		CreatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(turn).Error; err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	s.logger.Info("添加对话轮次",
		slog.Uint64("turn_id", uint64(turn.ID)),
		slog.Uint64("session_id", uint64(sessionID)),
		slog.String("role", normalized),
	)
	return turn, nil
}

// SessionDetail 返回会话及其按时间升序排列的全部对话。
func (s *Service) SessionDetail(ctx context.Context, sessionID uint) (*database.InterviewSession, []database.InterviewTurn, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := listTurns(ctx, s.db, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, turns, nil
}

// ListQuery 描述会话列表的筛选与分页参数。
type ListQuery struct {
	ResumeID *uint
	Status   string
	Page     int
	Size     int
}

// ListSessions 按创建时间倒序分页返回会话。
func (s *Service) ListSessions(ctx context.Context, q ListQuery) ([]database.InterviewSession, int64, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.Size
	if size < 1 {
		size = 10
	}

	query := s.db.WithContext(ctx).Model(&database.InterviewSession{})
	if q.ResumeID != nil {
		query = query.Where("resume_id = ?", *q.ResumeID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	var sessions []database.InterviewSession
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// EndSession 结束会话。重复调用返回成功且不重写 endedAt。
func (s *Service) EndSession(ctx context.Context, sessionID uint) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == database.SessionEnded {
		return nil
	}

	session.Status = database.SessionEnded
	if session.EndedAt == nil {
		now := time.Now()
		session.EndedAt = &now
	}
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	s.logger.Info("结束面试会话", slog.Uint64("session_id", uint64(sessionID)))
	return nil
}

// AdvanceStage 把会话推进到计划中的下一阶段。
// 当前阶段无匹配时选择第一阶段；已在最后阶段则保持不变。
// 返回推进后的会话以及离开的阶段代码（未发生推进时为空串）。
func (s *Service) AdvanceStage(ctx context.Context, sessionID uint) (*database.InterviewSession, string, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.Status == database.SessionEnded {
		return nil, "", apperr.New(apperr.KindConflict, "会话已结束")
	}

	// 推进以物化前的当前阶段为准：尚无当前阶段的会话应落在第一阶段，
	// 而不是借物化顺带跳到第二阶段。
	priorStage := session.CurrentStage
	if len(session.StagePlan) == 0 {
		if _, err := ensureStagePlan(session); err != nil {
			return nil, "", err
		}
	}
	stages := session.PlanStages()
	if len(stages) == 0 {
		return nil, "", apperr.New(apperr.KindConflict, "阶段计划为空，无法推进")
	}

	currentIndex := -1
	if priorStage != "" {
		for i, stage := range stages {
			if strings.EqualFold(stage.Code, priorStage) {
				currentIndex = i
				break
			}
		}
	}

	left := ""
	switch {
	case currentIndex < 0:
		session.CurrentStage = stages[0].Code
	case currentIndex+1 < len(stages):
		left = stages[currentIndex].Code
		session.CurrentStage = stages[currentIndex+1].Code
	}

	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, "", fmt.Errorf("advance stage: %w", err)
	}

	s.logger.Info("推进面试阶段",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.String("current_stage", session.CurrentStage),
	)
	return session, left, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID uint) (*database.InterviewSession, error) {
	return loadSession(ctx, s.db, sessionID)
}

func loadSession(ctx context.Context, db *gorm.DB, sessionID uint) (*database.InterviewSession, error) {
	var session database.InterviewSession
	if err := db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "会话不存在: %d", sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// listTurns 按创建时间升序返回会话全部对话。该顺序是提示词与评分的唯一输入顺序。
func listTurns(ctx context.Context, db *gorm.DB, sessionID uint) ([]database.InterviewTurn, error) {
	var turns []database.InterviewTurn
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

// ensureRunning 把 CREATED 会话置为 RUNNING 并只在首次记录 startedAt。
// 对已 RUNNING 的会话是无副作用的幂等操作。
func ensureRunning(ctx context.Context, db *gorm.DB, session *database.InterviewSession) error {
	if session.Status != database.SessionCreated {
		return nil
	}
	session.Status = database.SessionRunning
	if session.StartedAt == nil {
		now := time.Now()
		session.StartedAt = &now
	}
	if err := db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("mark session running: %w", err)
	}
	return nil
}
