package interview

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"aimian/internal/database"
)

// 默认阶段代码，顺序即面试推进顺序。
const (
	StageBasics       = "BASICS"
	StageProject      = "PROJECT"
	StageFundamentals = "FUNDAMENTALS"
	StageScenarios    = "SCENARIOS"
)

// DefaultStages 返回固定的四阶段默认计划。
// 这是配置数据而非推导结果，修改顺序会改变面试推进顺序。
func DefaultStages() []database.StagePlanStage {
	return []database.StagePlanStage{
		{Code: StageBasics, Name: "基础沟通", Goal: "确认候选人背景与岗位匹配度，了解基础能力与简历事实", MinTurns: 2},
		{Code: StageProject, Name: "项目深挖", Goal: "深入了解候选人核心项目职责、技术选型与贡献", MinTurns: 3},
		{Code: StageFundamentals, Name: "原理基础", Goal: "考察Java后端核心原理与基础知识掌握情况", MinTurns: 3},
		{Code: StageScenarios, Name: "场景设计", Goal: "评估候选人系统设计与场景问题解决能力", MinTurns: 2},
	}
}

// ensureStagePlan 惰性补齐会话的阶段计划与当前阶段（仅修改内存对象，不落库）。
// 返回是否发生了修改。
func ensureStagePlan(session *database.InterviewSession) (bool, error) {
	changed := false
	if len(session.StagePlan) == 0 {
		if err := session.SetPlanStages(DefaultStages()); err != nil {
			return false, fmt.Errorf("encode stage plan: %w", err)
		}
		changed = true
	}
	if session.CurrentStage == "" {
		session.CurrentStage = StageBasics
		changed = true
	}
	return changed, nil
}

// resolveStageInfo 返回会话当前阶段的描述信息。
// 计划未物化时先物化并持久化；当前阶段在计划中无匹配时返回兜底描述，从不失败。
func resolveStageInfo(ctx context.Context, db *gorm.DB, session *database.InterviewSession) (database.StagePlanStage, error) {
	changed, err := ensureStagePlan(session)
	if err != nil {
		return database.StagePlanStage{}, err
	}
	if changed {
		if err := db.WithContext(ctx).Save(session).Error; err != nil {
			return database.StagePlanStage{}, fmt.Errorf("persist stage plan: %w", err)
		}
	}

	if stage, ok := findStage(session.PlanStages(), session.CurrentStage); ok {
		return stage, nil
	}
	return database.StagePlanStage{
		Code:     session.CurrentStage,
		Name:     "默认阶段",
		Goal:     "根据当前阶段目标提问",
		MinTurns: 2,
	}, nil
}

// findStage 按 code 大小写不敏感地查找阶段。
func findStage(stages []database.StagePlanStage, code string) (database.StagePlanStage, bool) {
	for _, stage := range stages {
		if strings.EqualFold(stage.Code, code) {
			return stage, true
		}
	}
	return database.StagePlanStage{}, false
}
