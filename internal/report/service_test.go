package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aimian/internal/apperr"
	"aimian/internal/database"
	"aimian/internal/llm"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Chat(_ context.Context, _ []llm.Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuleService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	llmService := llm.NewServiceWithClient(nil, "", "", testLogger())
	return NewService(db, llmService, false, testLogger())
}

func seedEndedSession(t *testing.T, db *gorm.DB) *database.InterviewSession {
	t.Helper()
	now := time.Now()
	session := &database.InterviewSession{
		UserID:          1,
		ResumeID:        1,
		DurationMinutes: 30,
		Status:          database.SessionEnded,
		CurrentStage:    "BASICS",
		EndedAt:         &now,
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func seedTurn(t *testing.T, db *gorm.DB, sessionID uint, role, content, stageCode string) {
	t.Helper()
	turn := &database.InterviewTurn{
		SessionID:   sessionID,
		Role:        role,
		ContentText: content,
		StageCode:   stageCode,
		CreatedAt:   time.Now(),
	}
	if err := db.Create(turn).Error; err != nil {
		t.Fatalf("seed turn: %v", err)
	}
}

func TestGenerateReportPreconditions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	running := &database.InterviewSession{UserID: 1, ResumeID: 1, DurationMinutes: 30, Status: database.SessionRunning}
	if err := db.Create(running).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := svc.GenerateReport(ctx, running.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("running session: kind = %v, want conflict", apperr.KindOf(err))
	}

	empty := seedEndedSession(t, db)
	if _, err := svc.GenerateReport(ctx, empty.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("empty session: kind = %v, want conflict", apperr.KindOf(err))
	}

	noCandidate := seedEndedSession(t, db)
	seedTurn(t, db, noCandidate.ID, database.RoleInterviewer, "请自我介绍", "BASICS")
	if _, err := svc.GenerateReport(ctx, noCandidate.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("interviewer-only session: kind = %v, want conflict", apperr.KindOf(err))
	}

	if _, err := svc.GenerateReport(ctx, 9999); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing session: kind = %v, want not found", apperr.KindOf(err))
	}
}

func TestGenerateReportRuleScoring(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)
	seedTurn(t, db, session.ID, database.RoleInterviewer, "请自我介绍", "BASICS")
	// 两次回答各 40 字：50 + min(20, 2*5) + min(30, 40/2) = 80。
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 40), "BASICS")
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("述", 40), "BASICS")

	rep, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if rep.OverallScore != 80 {
		t.Errorf("score = %d, want 80", rep.OverallScore)
	}
	if !strings.Contains(rep.Summary, "候选人共回答2次") || !strings.Contains(rep.Summary, "80分") {
		t.Errorf("summary = %q", rep.Summary)
	}
	if rep.AiEnabled {
		t.Error("aiEnabled = true without enhancement")
	}

	weaknesses := database.StringList(rep.Weaknesses)
	if len(weaknesses) != 1 || weaknesses[0] != "部分回答缺少结构化表达" {
		t.Errorf("weaknesses = %v", weaknesses)
	}
}

func TestGenerateReportScoreIsCapped(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)
	for i := 0; i < 5; i++ {
		seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("详", 200), "BASICS")
	}

	rep, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if rep.OverallScore != 100 {
		t.Errorf("score = %d, want capped at 100", rep.OverallScore)
	}
}

func TestGenerateReportUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 50), "BASICS")

	first, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("report id changed on regenerate: %d != %d", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed on regenerate: %v != %v", second.CreatedAt, first.CreatedAt)
	}

	var count int64
	if err := db.Model(&database.Report{}).Where("session_id = ?", session.ID).Count(&count).Error; err != nil {
		t.Fatalf("count reports: %v", err)
	}
	if count != 1 {
		t.Errorf("reports = %d, want 1", count)
	}
}

func TestGenerateStageMiniReportEmptyStage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)

	mini, err := svc.GenerateStageMiniReport(ctx, session.ID, "PROJECT")
	if err != nil {
		t.Fatalf("generate stage report: %v", err)
	}
	if mini.Score != 40 {
		t.Errorf("score = %d, want 40", mini.Score)
	}
	if mini.Summary != "该阶段候选人回答不足，信息有限。" {
		t.Errorf("summary = %q", mini.Summary)
	}

	if _, err := svc.GenerateStageMiniReport(ctx, session.ID, "  "); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("blank stage: kind = %v, want validation", apperr.KindOf(err))
	}
}

func TestGenerateStageMiniReportScoring(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)
	// 阶段内一次 40 字回答：40 + min(30, 8) + min(30, 20) = 68。
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 40), "PROJECT")
	// 其他阶段的回答不计入。
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 200), "BASICS")

	mini, err := svc.GenerateStageMiniReport(ctx, session.ID, "PROJECT")
	if err != nil {
		t.Fatalf("generate stage report: %v", err)
	}
	if mini.Score != 68 {
		t.Errorf("score = %d, want 68", mini.Score)
	}

	// 重新生成就地更新，(session, stage) 至多一条。
	if _, err := svc.GenerateStageMiniReport(ctx, session.ID, "PROJECT"); err != nil {
		t.Fatalf("regenerate stage report: %v", err)
	}
	var count int64
	if err := db.Model(&database.StageMiniReport{}).Where("session_id = ?", session.ID).Count(&count).Error; err != nil {
		t.Fatalf("count stage reports: %v", err)
	}
	if count != 1 {
		t.Errorf("stage reports = %d, want 1", count)
	}
}

func TestGenerateReportMergesStageMiniReports(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newRuleService(t, db)

	session := seedEndedSession(t, db)
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 40), "BASICS")

	if _, err := svc.GenerateStageMiniReport(ctx, session.ID, "BASICS"); err != nil {
		t.Fatalf("generate stage report: %v", err)
	}

	rep, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if !strings.Contains(rep.Summary, "分阶段评价：") || !strings.Contains(rep.Summary, "BASICS") {
		t.Errorf("summary misses stage section: %q", rep.Summary)
	}

	snapshots := StageSnapshots(rep.StageReports)
	if len(snapshots) != 1 {
		t.Fatalf("stage snapshots = %d, want 1", len(snapshots))
	}
	if snapshots[0].StageCode != "BASICS" || snapshots[0].Score == 0 {
		t.Errorf("snapshot = %+v", snapshots[0])
	}
}

func TestGenerateReportAiEnhancement(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fake := &fakeLLM{reply: "```json\n{\"summary\":\"整体表现稳健\",\"strengths\":[\"项目经验扎实\"],\"weaknesses\":[\"原理深度不足\"],\"suggestions\":[\"加强底层原理学习\"]}\n```"}
	llmService := llm.NewServiceWithClient(fake, "deepseek", "deepseek-chat", testLogger())
	svc := NewService(db, llmService, true, testLogger())

	session := seedEndedSession(t, db)
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 40), "BASICS")

	rep, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if !rep.AiEnabled {
		t.Fatal("aiEnabled = false, want enhanced report")
	}
	if rep.AiProvider != "deepseek" || rep.AiModel != "deepseek-chat" {
		t.Errorf("ai provider/model = %s/%s", rep.AiProvider, rep.AiModel)
	}
	if !strings.Contains(rep.Summary, "整体表现稳健") {
		t.Errorf("summary = %q, want ai summary", rep.Summary)
	}
	if got := database.StringList(rep.Strengths); len(got) != 1 || got[0] != "项目经验扎实" {
		t.Errorf("strengths = %v", got)
	}
}

func TestGenerateReportAiFallbackKeepsRuleVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fake := &fakeLLM{reply: "抱歉，我无法输出JSON"}
	llmService := llm.NewServiceWithClient(fake, "deepseek", "deepseek-chat", testLogger())
	svc := NewService(db, llmService, true, testLogger())

	session := seedEndedSession(t, db)
	seedTurn(t, db, session.ID, database.RoleCandidate, strings.Repeat("答", 40), "BASICS")

	rep, err := svc.GenerateReport(ctx, session.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if rep.AiEnabled {
		t.Error("aiEnabled = true after failed enhancement")
	}
	if !strings.Contains(rep.Summary, "综合评分为") {
		t.Errorf("summary = %q, want rule summary", rep.Summary)
	}
	if fake.calls == 0 {
		t.Error("enhancer was never called")
	}
}

func TestCleanJSONContent(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tc := range cases {
		if got := cleanJSONContent(tc.in); got != tc.want {
			t.Errorf("cleanJSONContent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
