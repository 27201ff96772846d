package interview

import (
	"fmt"
	"strings"

	"aimian/internal/database"
	"aimian/internal/llm"
)

// BuildMessages 把对话历史与阶段信息拼装成大模型请求。
// 纯函数：相同输入产生逐字节相同的两条消息（system + user）。
func BuildMessages(turns []database.InterviewTurn, stage database.StagePlanStage) []llm.Message {
	system := fmt.Sprintf(
		"你是资深Java后端面试官。请根据候选人与面试官的历史对话提出下一道问题，一次只问一个问题，只输出问题文本。"+
			"当前阶段：%s，阶段名称：%s，阶段目标：%s，请围绕该阶段目标与难度范围提问。",
		stage.Code, stage.Name, stage.Goal,
	)

	var history strings.Builder
	if len(turns) == 0 {
		history.WriteString("暂无历史对话，请提出第一道面试问题。")
	} else {
		history.WriteString("历史对话如下：\n")
		for _, turn := range turns {
			history.WriteString(roleLabel(turn.Role))
			history.WriteString("：")
			history.WriteString(turn.ContentText)
			history.WriteString("\n")
		}
	}
	fmt.Fprintf(&history, "当前阶段信息：%s - %s，目标：%s，建议轮次：%d。\n",
		stage.Code, stage.Name, stage.Goal, stage.MinTurns)

	return []llm.Message{
		llm.System(system),
		llm.User(history.String()),
	}
}

// roleLabel 返回对话记录在提示词中的中文角色标签。
func roleLabel(role string) string {
	if role == database.RoleCandidate {
		return "候选人"
	}
	return "面试官"
}
