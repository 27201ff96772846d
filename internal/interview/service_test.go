package interview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"aimian/internal/apperr"
	"aimian/internal/database"
)

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

func TestCreateSessionMaterializesStagePlan(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t), testLogger())

	session, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Status != database.SessionCreated {
		t.Fatalf("status = %s, want %s", session.Status, database.SessionCreated)
	}
	if session.CurrentStage != StageBasics {
		t.Fatalf("current stage = %s, want %s", session.CurrentStage, StageBasics)
	}

	stages := session.PlanStages()
	if len(stages) != 4 {
		t.Fatalf("plan stages = %d, want 4", len(stages))
	}
	wantOrder := []string{StageBasics, StageProject, StageFundamentals, StageScenarios}
	for i, code := range wantOrder {
		if stages[i].Code != code {
			t.Errorf("stage[%d] = %s, want %s", i, stages[i].Code, code)
		}
	}
}

func TestAddTurnNormalizesRoleAndTagsStage(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t), testLogger())

	session, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	turn, err := svc.AddTurn(ctx, session.ID, "candidate", "我有三年Java开发经验")
	if err != nil {
		t.Fatalf("add turn: %v", err)
	}
	if turn.Role != database.RoleCandidate {
		t.Errorf("role = %s, want %s", turn.Role, database.RoleCandidate)
	}
	if turn.StageCode != StageBasics {
		t.Errorf("stage code = %s, want %s", turn.StageCode, StageBasics)
	}
}

func TestAddTurnRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t), testLogger())

	session, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := svc.AddTurn(ctx, session.ID, "OBSERVER", "内容"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("invalid role: kind = %v, want validation", apperr.KindOf(err))
	}
	if _, err := svc.AddTurn(ctx, session.ID, "CANDIDATE", "   "); !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("blank content: kind = %v, want validation", apperr.KindOf(err))
	}
	if _, err := svc.AddTurn(ctx, 9999, "CANDIDATE", "内容"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("missing session: kind = %v, want not found", apperr.KindOf(err))
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db, testLogger())

	session, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	var first database.InterviewSession
	if err := db.First(&first, session.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if first.Status != database.SessionEnded || first.EndedAt == nil {
		t.Fatalf("status = %s endedAt = %v, want ended with timestamp", first.Status, first.EndedAt)
	}

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end session again: %v", err)
	}
	var second database.InterviewSession
	if err := db.First(&second, session.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("endedAt rewritten on repeat end: %v != %v", second.EndedAt, first.EndedAt)
	}
}

func TestAdvanceStage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db, testLogger())

	session, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	advanced, left, err := svc.AdvanceStage(ctx, session.ID)
	if err != nil {
		t.Fatalf("advance stage: %v", err)
	}
	if advanced.CurrentStage != StageProject || left != StageBasics {
		t.Fatalf("advance = (%s, left=%s), want (%s, left=%s)", advanced.CurrentStage, left, StageProject, StageBasics)
	}

	// 未知的当前阶段回落到第一阶段，不算离开任何阶段。
	if err := db.Model(&database.InterviewSession{}).Where("id = ?", session.ID).Update("current_stage", "MYSTERY").Error; err != nil {
		t.Fatalf("force unknown stage: %v", err)
	}
	advanced, left, err = svc.AdvanceStage(ctx, session.ID)
	if err != nil {
		t.Fatalf("advance from unknown stage: %v", err)
	}
	if advanced.CurrentStage != StageBasics || left != "" {
		t.Fatalf("advance = (%s, left=%q), want (%s, left=\"\")", advanced.CurrentStage, left, StageBasics)
	}

	// 已在最后阶段时推进是无操作。
	if err := db.Model(&database.InterviewSession{}).Where("id = ?", session.ID).Update("current_stage", StageScenarios).Error; err != nil {
		t.Fatalf("force last stage: %v", err)
	}
	advanced, left, err = svc.AdvanceStage(ctx, session.ID)
	if err != nil {
		t.Fatalf("advance at last stage: %v", err)
	}
	if advanced.CurrentStage != StageScenarios || left != "" {
		t.Fatalf("advance = (%s, left=%q), want stay at %s", advanced.CurrentStage, left, StageScenarios)
	}

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, _, err := svc.AdvanceStage(ctx, session.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("advance ended session: kind = %v, want conflict", apperr.KindOf(err))
	}
}

func TestAdvanceStageMaterializesPlanAtFirstStage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db, testLogger())

	// 没有阶段计划也没有当前阶段的存量会话：推进应落在第一阶段，而不是第二阶段。
	session := &database.InterviewSession{
		UserID:          DefaultUserID,
		ResumeID:        1,
		DurationMinutes: 30,
		Status:          database.SessionCreated,
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}

	advanced, left, err := svc.AdvanceStage(ctx, session.ID)
	if err != nil {
		t.Fatalf("advance stage: %v", err)
	}
	if advanced.CurrentStage != StageBasics || left != "" {
		t.Fatalf("advance = (%s, left=%q), want (%s, left=\"\")", advanced.CurrentStage, left, StageBasics)
	}
	if len(advanced.PlanStages()) != 4 {
		t.Errorf("plan stages = %d, want materialized 4", len(advanced.PlanStages()))
	}
}

func TestListSessionsFilters(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestDB(t), testLogger())

	first, err := svc.CreateSession(ctx, 1, 30)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.CreateSession(ctx, 1, 45); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.CreateSession(ctx, 2, 30); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.EndSession(ctx, first.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}

	resumeID := uint(1)
	_, total, err := svc.ListSessions(ctx, ListQuery{ResumeID: &resumeID, Page: 1, Size: 10})
	if err != nil {
		t.Fatalf("list by resume: %v", err)
	}
	if total != 2 {
		t.Errorf("total by resume = %d, want 2", total)
	}

	sessions, total, err := svc.ListSessions(ctx, ListQuery{Status: database.SessionEnded, Page: 1, Size: 10})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if total != 1 || len(sessions) != 1 || sessions[0].ID != first.ID {
		t.Errorf("list by status = %d sessions (total %d), want the single ended session", len(sessions), total)
	}

	sessions, total, err = svc.ListSessions(ctx, ListQuery{Page: 2, Size: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 3 || len(sessions) != 1 {
		t.Errorf("page 2 = %d sessions (total %d), want 1 of 3", len(sessions), total)
	}
}
