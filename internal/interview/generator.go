package interview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"aimian/internal/apperr"
	"aimian/internal/database"
	"aimian/internal/llm"
)

// 流式事件名称，与客户端约定的 SSE 事件一一对应。
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// 流式切片参数：固定 8 个字符一片，片间 30ms，模拟增量生成的观感。
const (
	streamChunkSize = 8
	streamChunkWait = 30 * time.Millisecond
)

// Event 为流式生成过程中发往客户端的一条事件。
type Event struct {
	Name string
	Data string
}

// Generator 驱动大模型生成下一道面试问题，提供同步与流式两种入口。
// 同一会话上的并发生成请求通过会话级互斥锁串行化。
type Generator struct {
	db     *gorm.DB
	llm    *llm.Service
	logger *slog.Logger

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewGenerator 构造 Generator。
func NewGenerator(db *gorm.DB, llmService *llm.Service, logger *slog.Logger) *Generator {
	return &Generator{
		db:     db,
		llm:    llmService,
		logger: logger,
		locks:  map[uint]*sync.Mutex{},
	}
}

// sessionLock 返回会话专属的互斥锁，按需创建。
func (g *Generator) sessionLock(sessionID uint) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[sessionID] = lock
	}
	return lock
}

// GenerateNextQuestion 生成下一道问题并落库，返回新增的对话记录。
func (g *Generator) GenerateNextQuestion(ctx context.Context, sessionID uint) (*database.InterviewTurn, error) {
	lock := g.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	turn, err := g.generate(ctx, sessionID)
	if err != nil {
		g.logger.Warn("生成面试问题失败",
			slog.Uint64("session_id", uint64(sessionID)),
			slog.Any("error", err),
		)
		return nil, err
	}

	g.logger.Info("生成下一道面试问题",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.Uint64("turn_id", uint64(turn.ID)),
	)
	return turn, nil
}

// StreamNextQuestion 在独立 goroutine 中执行生成流程，把结果切片后经事件通道交付。
// 无论成败，通道上恰好出现一个终止事件（done 或 error），随后关闭。
// ctx 取消（客户端断开）会停止后续事件发送，但不回滚已落库的对话记录。
func (g *Generator) StreamNextQuestion(ctx context.Context, sessionID uint) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)

		lock := g.sessionLock(sessionID)
		lock.Lock()
		turn, err := g.generate(ctx, sessionID)
		lock.Unlock()

		if err != nil {
			g.logger.Warn("流式生成面试问题失败",
				slog.Uint64("session_id", uint64(sessionID)),
				slog.Any("error", err),
			)
			emit(ctx, events, Event{Name: EventError, Data: streamErrorMessage(err)})
			return
		}

		question := turn.ContentText
		for _, chunk := range splitChunks(question, streamChunkSize) {
			if !emit(ctx, events, Event{Name: EventChunk, Data: chunk}) {
				return
			}
			select {
			case <-time.After(streamChunkWait):
			case <-ctx.Done():
				return
			}
		}

		payload, err := json.Marshal(struct {
			TurnID   uint   `json:"turnId"`
			Question string `json:"question"`
		}{TurnID: turn.ID, Question: question})
		if err != nil {
			emit(ctx, events, Event{Name: EventError, Data: "编码结果失败"})
			return
		}
		emit(ctx, events, Event{Name: EventDone, Data: string(payload)})
	}()
	return events
}

// generate 执行完整的问题生成流程：校验会话、置为运行中、
// 读取历史、构造提示词、调用模型、落库新问题。
func (g *Generator) generate(ctx context.Context, sessionID uint) (*database.InterviewTurn, error) {
	session, err := loadSession(ctx, g.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == database.SessionEnded {
		return nil, apperr.New(apperr.KindConflict, "会话已结束")
	}

	if err := ensureRunning(ctx, g.db, session); err != nil {
		return nil, err
	}

	turns, err := listTurns(ctx, g.db, sessionID)
	if err != nil {
		return nil, err
	}

	stage, err := resolveStageInfo(ctx, g.db, session)
	if err != nil {
		return nil, err
	}

	question, err := g.llm.Chat(ctx, BuildMessages(turns, stage))
	if err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.New(apperr.KindUpstreamEmpty, "LLM 返回空问题")
	}

	turn := &database.InterviewTurn{
		SessionID:   sessionID,
		Role:        database.RoleInterviewer,
		ContentText: question,
		StageCode:   session.CurrentStage,
		CreatedAt:   time.Now(),
	}
	if err := g.db.WithContext(ctx).Create(turn).Error; err != nil {
		return nil, err
	}
	return turn, nil
}

// emit 发送事件，ctx 取消时放弃发送并返回 false。
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitChunks 把文本按字符数切成定长片段，中文按字符而非字节计数。
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// streamErrorMessage 把内部错误转成可直接下发的消息文本。
// 业务错误透出原始消息，其余错误一律用兜底话术。
func streamErrorMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "系统内部错误，请稍后重试"
}
