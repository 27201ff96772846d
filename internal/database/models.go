package database

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 会话状态。FINISHED/FAILED 为保留值：表结构与校验接受它们，
// 但当前没有任何流程会迁移到这两个状态（沿用上游系统的悬置语义）。
const (
	SessionCreated  = "CREATED"
	SessionRunning  = "RUNNING"
	SessionEnded    = "ENDED"
	SessionFinished = "FINISHED"
	SessionFailed   = "FAILED"
)

// 对话角色。
const (
	RoleInterviewer = "INTERVIEWER"
	RoleCandidate   = "CANDIDATE"
	RoleSystem      = "SYSTEM"
)

// ValidRole 判断 role 是否为合法的对话角色。
func ValidRole(role string) bool {
	switch role {
	case RoleInterviewer, RoleCandidate, RoleSystem:
		return true
	}
	return false
}

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username string   `gorm:"uniqueIndex;size:64"`
	Resumes  []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume 表示候选人上传的简历文件记录。
type Resume struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	User      User   `gorm:"constraint:OnDelete:CASCADE"`
	FileName  string `gorm:"size:255"`
	ObjectKey string `gorm:"size:512"`
	RawText   string `gorm:"type:text"`
}

// StagePlanStage 为阶段计划中的一个节点；阶段计划按顺序整体存入 jsonb 列。
type StagePlanStage struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Goal     string `json:"goal"`
	MinTurns int    `json:"minTurns"`
}

// InterviewSession 表示一场模拟面试会话。
type InterviewSession struct {
	gorm.Model
	UserID          uint           `gorm:"index"`
	ResumeID        uint           `gorm:"index"`
	DurationMinutes int            `gorm:"default:30"`
	Status          string         `gorm:"size:16;index"`
	CurrentStage    string         `gorm:"size:32"`
	StagePlan       datatypes.JSON `gorm:"type:jsonb"`
	StartedAt       *time.Time
	EndedAt         *time.Time
	Turns           []InterviewTurn `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// PlanStages 解码会话的阶段计划；未设置或损坏时返回空切片。
func (s *InterviewSession) PlanStages() []StagePlanStage {
	if len(s.StagePlan) == 0 {
		return nil
	}
	var stages []StagePlanStage
	if err := json.Unmarshal(s.StagePlan, &stages); err != nil {
		return nil
	}
	return stages
}

// SetPlanStages 编码并覆盖会话的阶段计划。
func (s *InterviewSession) SetPlanStages(stages []StagePlanStage) error {
	data, err := json.Marshal(stages)
	if err != nil {
		return err
	}
	s.StagePlan = datatypes.JSON(data)
	return nil
}

// InterviewTurn 表示会话内的一条对话记录，只增不改。
type InterviewTurn struct {
	ID          uint   `gorm:"primarykey"`
	SessionID   uint   `gorm:"index"`
	Role        string `gorm:"size:16"`
	ContentText string `gorm:"type:text"`
	StageCode   string `gorm:"size:32"`
	CreatedAt   time.Time
}

// Report 表示一场会话的面试报告，每个会话至多一份。
type Report struct {
	gorm.Model
	SessionID    uint           `gorm:"uniqueIndex"`
	OverallScore int
	Summary      string         `gorm:"type:text"`
	Strengths    datatypes.JSON `gorm:"type:jsonb"`
	Weaknesses   datatypes.JSON `gorm:"type:jsonb"`
	Suggestions  datatypes.JSON `gorm:"type:jsonb"`
	AiEnabled    bool
	AiProvider   string         `gorm:"size:32"`
	AiModel      string         `gorm:"size:64"`
	StageReports datatypes.JSON `gorm:"type:jsonb"`
}

// StageMiniReport 表示单个阶段的小结，(session, stage) 至多一份。
type StageMiniReport struct {
	gorm.Model
	SessionID   uint   `gorm:"index:idx_stage_report,unique"`
	StageCode   string `gorm:"size:32;index:idx_stage_report,unique"`
	Score       int
	Summary     string         `gorm:"type:text"`
	Strengths   datatypes.JSON `gorm:"type:jsonb"`
	Weaknesses  datatypes.JSON `gorm:"type:jsonb"`
	Suggestions datatypes.JSON `gorm:"type:jsonb"`
}

// StringList 解码 jsonb 字符串数组；无法解析时把原文整体作为单元素返回。
func StringList(data datatypes.JSON) []string {
	if len(data) == 0 {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return []string{string(data)}
	}
	return items
}

// MustJSONList 编码字符串数组为 jsonb 列值。
func MustJSONList(items []string) datatypes.JSON {
	data, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(data)
}
