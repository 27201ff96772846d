package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"aimian/internal/apperr"
	"aimian/internal/database"
	"aimian/internal/llm"
)

// 整场报告与阶段小结使用同一套公式、不同的常量：
// 整场 = 50 + min(20, 回答次数*5) + min(30, 平均长度/2)
// 阶段 = 40 + min(30, 回答次数*8) + min(30, 平均长度/2)
// 结果均收敛到 [0, 100]。

// Service 从对话记录推导评分报告：规则打分为基线，可选的 AI 润色只增不减。
type Service struct {
	db        *gorm.DB
	llm       *llm.Service
	aiEnabled bool
	logger    *slog.Logger
}

// NewService 构造 Service。aiEnabled 打开后报告生成会尝试一次模型润色，
// 润色失败自动回退规则版，从不影响报告生成本身。
func NewService(db *gorm.DB, llmService *llm.Service, aiEnabled bool, logger *slog.Logger) *Service {
	return &Service{db: db, llm: llmService, aiEnabled: aiEnabled, logger: logger}
}

// StageSnapshot 是合并进整场报告 jsonb 列的阶段小结视图。
type StageSnapshot struct {
	StageCode   string   `json:"stageCode"`
	Score       int      `json:"score"`
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

// StageSnapshots 解码报告 jsonb 列中的阶段小结列表，解码失败时返回空列表。
func StageSnapshots(raw []byte) []StageSnapshot {
	snapshots := []StageSnapshot{}
	if len(raw) == 0 {
		return snapshots
	}
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		return []StageSnapshot{}
	}
	return snapshots
}

// GetReport 返回会话的报告，不存在时报 NotFound。
func (s *Service) GetReport(ctx context.Context, sessionID uint) (*database.Report, error) {
	var rep database.Report
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "报告不存在: %d", sessionID)
		}
		return nil, fmt.Errorf("load report: %w", err)
	}
	return &rep, nil
}

// GenerateReport 为已结束的会话生成（或重新生成）报告。
// 重新生成就地更新：保留 createdAt，刷新 updatedAt。
func (s *Service) GenerateReport(ctx context.Context, sessionID uint) (*database.Report, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != database.SessionEnded {
		return nil, apperr.New(apperr.KindConflict, "请先结束会话再生成报告")
	}

	turns, err := s.listTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, apperr.New(apperr.KindConflict, "会话暂无对话内容，无法生成报告")
	}

	candidates := filterCandidateTurns(turns)
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.KindConflict, "缺少候选人回答，无法生成报告")
	}

	rep := s.buildReport(sessionID, candidates)
	s.enhanceReport(ctx, rep, candidates)
	if err := s.attachStageMiniReports(ctx, rep, sessionID); err != nil {
		return nil, err
	}

	if err := s.upsertReport(ctx, rep); err != nil {
		return nil, err
	}

	s.logger.Info("生成面试报告",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.Int("score", rep.OverallScore),
		slog.Bool("ai_enabled", rep.AiEnabled),
	)
	return rep, nil
}

// GenerateStageMiniReport 为单个阶段生成（或重新生成）小结。
// 该阶段没有候选人回答时产出固定的低信息量小结，而不是报错。
func (s *Service) GenerateStageMiniReport(ctx context.Context, sessionID uint, stageCode string) (*database.StageMiniReport, error) {
	if strings.TrimSpace(stageCode) == "" {
		return nil, apperr.New(apperr.KindValidation, "阶段为空，无法生成小结")
	}
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}

	turns, err := s.listStageCandidateTurns(ctx, sessionID, stageCode)
	if err != nil {
		return nil, err
	}

	mini := buildStageMiniReport(sessionID, stageCode, turns)
	s.enhanceStageMiniReport(ctx, mini, turns)

	if err := s.upsertStageMiniReport(ctx, mini); err != nil {
		return nil, err
	}

	s.logger.Info("生成阶段小结",
		slog.Uint64("session_id", uint64(sessionID)),
		slog.String("stage", stageCode),
		slog.Int("score", mini.Score),
	)
	return mini, nil
}

// ListStageMiniReports 按创建时间升序返回会话的全部阶段小结。
func (s *Service) ListStageMiniReports(ctx context.Context, sessionID uint) ([]database.StageMiniReport, error) {
	var minis []database.StageMiniReport
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&minis).Error; err != nil {
		return nil, fmt.Errorf("list stage reports: %w", err)
	}
	return minis, nil
}

// ---- 规则打分 ----

func (s *Service) buildReport(sessionID uint, candidates []database.InterviewTurn) *database.Report {
	totalTurns, averageLength := turnStats(candidates)

	score := 50
	score += min(20, totalTurns*5)
	score += min(30, averageLength/2)
	score = clampScore(score)

	return &database.Report{
		SessionID:    sessionID,
		OverallScore: score,
		Summary: fmt.Sprintf("候选人共回答%d次，平均回答长度约%d字，综合评分为%d分。",
			totalTurns, averageLength, score),
		Strengths:   database.MustJSONList(buildStrengths(totalTurns, averageLength)),
		Weaknesses:  database.MustJSONList(buildWeaknesses(totalTurns, averageLength)),
		Suggestions: database.MustJSONList(buildSuggestions(averageLength)),
	}
}

func buildStageMiniReport(sessionID uint, stageCode string, candidates []database.InterviewTurn) *database.StageMiniReport {
	totalTurns, averageLength := turnStats(candidates)

	score := 40
	score += min(30, totalTurns*8)
	score += min(30, averageLength/2)
	score = clampScore(score)

	mini := &database.StageMiniReport{
		SessionID: sessionID,
		StageCode: stageCode,
		Score:     score,
	}
	if totalTurns == 0 {
		mini.Summary = "该阶段候选人回答不足，信息有限。"
		mini.Strengths = database.MustJSONList([]string{"信息不足，无法判断亮点"})
		mini.Weaknesses = database.MustJSONList([]string{"缺少有效回答"})
		mini.Suggestions = database.MustJSONList([]string{"补充该阶段的关键问题回答"})
		return mini
	}

	mini.Summary = fmt.Sprintf("该阶段候选人回答%d次，平均回答长度约%d字，阶段评分为%d分。",
		totalTurns, averageLength, score)
	mini.Strengths = database.MustJSONList(buildStrengths(totalTurns, averageLength))
	mini.Weaknesses = database.MustJSONList(buildWeaknesses(totalTurns, averageLength))
	mini.Suggestions = database.MustJSONList(buildSuggestions(averageLength))
	return mini
}

// turnStats 统计候选人回答次数与平均长度（按字符计，整数除法）。
func turnStats(candidates []database.InterviewTurn) (totalTurns, averageLength int) {
	totalTurns = len(candidates)
	totalLength := 0
	for _, turn := range candidates {
		totalLength += utf8.RuneCountInString(turn.ContentText)
	}
	averageLength = totalLength / max(1, totalTurns)
	return totalTurns, averageLength
}

func buildStrengths(totalTurns, averageLength int) []string {
	var strengths []string
	if averageLength >= 60 {
		strengths = append(strengths, "回答内容较为充分，信息量充足")
	}
	if totalTurns >= 3 {
		strengths = append(strengths, "能够持续回应问题，沟通稳定")
	}
	if len(strengths) == 0 {
		strengths = append(strengths, "回答态度积极，配合度良好")
	}
	return strengths
}

func buildWeaknesses(totalTurns, averageLength int) []string {
	var weaknesses []string
	if averageLength < 30 {
		weaknesses = append(weaknesses, "回答较为简短，细节不足")
	}
	if totalTurns < 2 {
		weaknesses = append(weaknesses, "回答轮次偏少，信息覆盖有限")
	}
	if len(weaknesses) == 0 {
		weaknesses = append(weaknesses, "部分回答缺少结构化表达")
	}
	return weaknesses
}

func buildSuggestions(averageLength int) []string {
	var suggestions []string
	if averageLength < 50 {
		suggestions = append(suggestions, "适当补充背景与细节，提升回答完整度")
	} else {
		suggestions = append(suggestions, "保持回答的清晰结构，并突出关键技术点")
	}
	suggestions = append(suggestions, "结合具体项目经验举例，增强说服力")
	return suggestions
}

// ---- AI 润色（尽力而为，任何失败都保留规则版结果）----

type aiResult struct {
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

func (s *Service) enhanceReport(ctx context.Context, rep *database.Report, candidates []database.InterviewTurn) {
	rep.AiEnabled = false
	if !s.aiEnabled {
		return
	}

	result := s.callEnhancer(ctx, buildReportAiMessages(rep, candidates))
	if result == nil {
		return
	}

	rep.Summary = result.Summary
	rep.Strengths = database.MustJSONList(result.Strengths)
	rep.Weaknesses = database.MustJSONList(result.Weaknesses)
	rep.Suggestions = database.MustJSONList(result.Suggestions)
	rep.AiEnabled = true
	rep.AiProvider = s.llm.Provider()
	rep.AiModel = s.llm.Model()
}

func (s *Service) enhanceStageMiniReport(ctx context.Context, mini *database.StageMiniReport, candidates []database.InterviewTurn) {
	if !s.aiEnabled {
		return
	}

	result := s.callEnhancer(ctx, buildStageAiMessages(mini, candidates))
	if result == nil {
		return
	}

	mini.Summary = result.Summary
	mini.Strengths = database.MustJSONList(result.Strengths)
	mini.Weaknesses = database.MustJSONList(result.Weaknesses)
	mini.Suggestions = database.MustJSONList(result.Suggestions)
}

// callEnhancer 调用模型并解析结构化点评；任何失败只记日志并返回 nil。
func (s *Service) callEnhancer(ctx context.Context, messages []llm.Message) *aiResult {
	response, err := s.llm.Chat(ctx, messages)
	if err != nil {
		s.logger.Warn("AI 报告润色失败，已降级为规则版", slog.Any("error", err))
		return nil
	}

	var result aiResult
	if err := json.Unmarshal([]byte(cleanJSONContent(response)), &result); err != nil {
		s.logger.Warn("AI 报告 JSON 解析失败", slog.Any("error", err))
		return nil
	}
	if strings.TrimSpace(result.Summary) == "" {
		s.logger.Warn("AI 报告缺少 summary 字段，忽略润色结果")
		return nil
	}
	return &result
}

func buildReportAiMessages(rep *database.Report, candidates []database.InterviewTurn) []llm.Message {
	totalTurns, averageLength := turnStats(candidates)

	var user strings.Builder
	fmt.Fprintf(&user, "规则评分信息：\noverallScore=%d\nsummary=%s\nstrengths=%s\nweaknesses=%s\nsuggestions=%s\n",
		rep.OverallScore, rep.Summary, rep.Strengths, rep.Weaknesses, rep.Suggestions)
	fmt.Fprintf(&user, "候选人回答统计：回答次数=%d，平均长度=%d。\n对话摘录：\n%s",
		totalTurns, averageLength, buildTurnSnippet(candidates))

	return []llm.Message{
		llm.System("你是资深Java后端面试官，需要将规则版面试报告润色成更自然的面试点评。" +
			"请严格输出JSON，字段包括 summary(字符串), strengths(字符串数组), weaknesses(字符串数组), suggestions(字符串数组)。"),
		llm.User(user.String()),
	}
}

func buildStageAiMessages(mini *database.StageMiniReport, candidates []database.InterviewTurn) []llm.Message {
	var user strings.Builder
	fmt.Fprintf(&user, "阶段小结规则信息：\nstageCode=%s\nscore=%d\nsummary=%s\nstrengths=%s\nweaknesses=%s\nsuggestions=%s\n",
		mini.StageCode, mini.Score, mini.Summary, mini.Strengths, mini.Weaknesses, mini.Suggestions)
	fmt.Fprintf(&user, "对话摘录：\n%s", buildTurnSnippet(candidates))

	return []llm.Message{
		llm.System("你是资深Java后端面试官，请润色阶段小结为更自然的面试点评。" +
			"请严格输出JSON，字段包括 summary(字符串), strengths(字符串数组), weaknesses(字符串数组), suggestions(字符串数组)。"),
		llm.User(user.String()),
	}
}

// buildTurnSnippet 摘取最近三条候选人回答作为润色上下文。
func buildTurnSnippet(candidates []database.InterviewTurn) string {
	start := max(0, len(candidates)-3)
	var snippet strings.Builder
	for _, turn := range candidates[start:] {
		snippet.WriteString("候选人：")
		snippet.WriteString(turn.ContentText)
		snippet.WriteString("\n")
	}
	return snippet.String()
}

// cleanJSONContent 去掉模型惯常包裹的 Markdown 代码围栏。
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// ---- 阶段小结合并 ----

// attachStageMiniReports 把已有的阶段小结并入整场报告：
// 摘要尾部追加分阶段评价，三个清单直接拼接（不去重）。
func (s *Service) attachStageMiniReports(ctx context.Context, rep *database.Report, sessionID uint) error {
	minis, err := s.ListStageMiniReports(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(minis) == 0 {
		return nil
	}

	snapshots := make([]StageSnapshot, 0, len(minis))
	var summary strings.Builder
	summary.WriteString(rep.Summary)
	summary.WriteString(" 分阶段评价：")
	strengths := database.StringList(rep.Strengths)
	weaknesses := database.StringList(rep.Weaknesses)
	suggestions := database.StringList(rep.Suggestions)

	for _, mini := range minis {
		summary.WriteString(mini.StageCode)
		summary.WriteString(" ")
		summary.WriteString(mini.Summary)
		summary.WriteString("；")

		strengths = append(strengths, database.StringList(mini.Strengths)...)
		weaknesses = append(weaknesses, database.StringList(mini.Weaknesses)...)
		suggestions = append(suggestions, database.StringList(mini.Suggestions)...)

		snapshots = append(snapshots, StageSnapshot{
			StageCode:   mini.StageCode,
			Score:       mini.Score,
			Summary:     mini.Summary,
			Strengths:   database.StringList(mini.Strengths),
			Weaknesses:  database.StringList(mini.Weaknesses),
			Suggestions: database.StringList(mini.Suggestions),
		})
	}

	rep.Summary = summary.String()
	rep.Strengths = database.MustJSONList(strengths)
	rep.Weaknesses = database.MustJSONList(weaknesses)
	rep.Suggestions = database.MustJSONList(suggestions)

	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("encode stage snapshots: %w", err)
	}
	rep.StageReports = data
	return nil
}

// ---- 落库 ----

// upsertReport 保证每个会话至多一份报告：已有则就地更新并保留 createdAt。
func (s *Service) upsertReport(ctx context.Context, rep *database.Report) error {
	var existing database.Report
	err := s.db.WithContext(ctx).Where("session_id = ?", rep.SessionID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(rep).Error; err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load existing report: %w", err)
	}

	rep.ID = existing.ID
	rep.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(rep).Error; err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// upsertStageMiniReport 同理，按 (session, stage) 去重。
func (s *Service) upsertStageMiniReport(ctx context.Context, mini *database.StageMiniReport) error {
	var existing database.StageMiniReport
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND stage_code = ?", mini.SessionID, mini.StageCode).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(mini).Error; err != nil {
			return fmt.Errorf("insert stage report: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load existing stage report: %w", err)
	}

	mini.ID = existing.ID
	mini.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(mini).Error; err != nil {
		return fmt.Errorf("update stage report: %w", err)
	}
	return nil
}

// ---- 查询辅助 ----

func (s *Service) loadSession(ctx context.Context, sessionID uint) (*database.InterviewSession, error) {
	var session database.InterviewSession
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "会话不存在: %d", sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (s *Service) listTurns(ctx context.Context, sessionID uint) ([]database.InterviewTurn, error) {
	var turns []database.InterviewTurn
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func (s *Service) listStageCandidateTurns(ctx context.Context, sessionID uint, stageCode string) ([]database.InterviewTurn, error) {
	var turns []database.InterviewTurn
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND role = ? AND stage_code = ?", sessionID, database.RoleCandidate, stageCode).
		Order("created_at ASC, id ASC").
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list stage turns: %w", err)
	}
	return turns, nil
}

func filterCandidateTurns(turns []database.InterviewTurn) []database.InterviewTurn {
	var candidates []database.InterviewTurn
	for _, turn := range turns {
		if turn.Role == database.RoleCandidate {
			candidates = append(candidates, turn)
		}
	}
	return candidates
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
