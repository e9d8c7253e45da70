package memory

import (
	"fmt"
	"math"
	"strings"

	"ai-gamer/server/internal/models"
)

func summarizeSystemPrompt(maxLen int) string {
	return fmt.Sprintf(`你是一个记忆管理助手，负责维护AI游戏解说的长期记忆。
你的任务是把解说过程中发生的事件浓缩成一段连贯的记忆，供之后的解说参考。
要求：
1. 保留游戏进展、关键事件、人物和玩家的重要操作
2. 合并重复信息，删除无关细节
3. 用第三人称陈述，语言简洁
4. 输出不超过%d字，只输出记忆内容本身，不要任何前缀或解释`, maxLen)
}

// interactionLine renders one interaction for the summarization prompt.
// Long inputs are truncated; the output is what matters for continuity.
func interactionLine(i *models.Interaction) string {
	input := i.Input
	if len([]rune(input)) > 100 {
		input = string([]rune(input)[:100]) + "..."
	}
	var b strings.Builder
	b.WriteString("[" + i.Kind + "]")
	if input != "" {
		b.WriteString(" 输入: " + input)
	}
	b.WriteString(" 输出: " + i.Output)
	return b.String()
}

func initialFoldText(i *models.Interaction) string {
	return "请将以下最新的解说事件总结成一段记忆：\n\n" + interactionLine(i)
}

func foldText(current string, i *models.Interaction, maxLen int) string {
	return fmt.Sprintf(`以下是当前的记忆：

%s

请将下面这条新的解说事件合并进记忆，输出更新后的完整记忆（不超过%d字）：

%s`, current, maxLen, interactionLine(i))
}

func sessionSummaryText(interactions []*models.Interaction) string {
	var b strings.Builder
	b.WriteString("请将以下整场直播的解说记录总结成一段记忆：\n\n")
	for _, i := range interactions {
		b.WriteString(interactionLine(i))
		b.WriteString("\n")
	}
	return b.String()
}

// decorate appends the active memory to a system prompt so commentary stays
// consistent with what already happened.
func decorate(base string, m *models.Memory) string {
	if m == nil {
		return base
	}
	return base + fmt.Sprintf("\n\n---\n以下是你的记忆，请在解说时参考这些信息保持连贯性：\n\n【记忆：%s】\n%s\n---", m.Title, m.Content)
}

// estimateTokens approximates token usage without a tokenizer. CJK text runs
// about 1.5 characters per token, everything else about 4.
func estimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF) {
			cjk++
		} else {
			other++
		}
	}
	return int(math.Ceil(float64(cjk)/1.5 + float64(other)/4))
}
