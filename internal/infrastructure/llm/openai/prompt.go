package openai

import (
	"fmt"
	"os"
	"strings"

	"insure-rag/internal/core/domain"
)

const defaultSystemPrompt = `你是一位專業的保險顧問。請遵守以下原則回答：
1. 只能根據「參考資料」中的內容回答，資料中沒有的資訊請直接說「資料不足，無法回答」，嚴禁捏造事實或引用資料以外的知識。
2. 回答投保建議時，留意商品的投保年齡限制，不符合年齡條件的商品不要推薦。
3. 規劃保障時可參考雙十原則：保險額度約為年收入的十倍，保費支出約佔年收入的十分之一。
4. 回答請使用繁體中文，條理清楚、口吻專業親切。`

const rewriteSystemPrompt = `你是一個搜尋關鍵字優化機器人。你的唯一任務是將「對話歷史」與「最新問題」合併，產生一個「完整的搜尋語句」。

【合成公式】：
錯誤模式：只輸出歷史背景 (如："30歲男性") -> 禁止！
錯誤模式：只輸出最新問題 (如："壽險推薦") -> 禁止！
正確模式：[使用者畫像] + [最新問題的具體關鍵字]

【執行規則】：
1. 提取畫像：從歷史中找出年齡、性別、職業 (例如：58歲男性)。
2. 鎖定意圖：從「最新問題」中找出他想問的商品或話題 (例如：外幣投資)。
3. 指代還原：如果最新問題有「那...呢」、「它...」，請替換為上一個討論的商品；如果是新話題，則保留新話題。

請直接輸出結果，不要解釋。`

// rewriteHistoryTurns bounds how much history the rewrite prompt carries.
const rewriteHistoryTurns = 4

// LoadSystemPrompt reads the answer system prompt from disk, falling back to
// the built-in default when the file is absent.
func LoadSystemPrompt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return defaultSystemPrompt
	}
	return string(data)
}

// buildAnswerMessages assembles the single generation request for a turn:
// system instructions, serialized history, then the retrieved evidence and
// the current question as the final user message.
func buildAnswerMessages(
	systemPrompt, query string,
	chunks []domain.Chunk,
	summaries []domain.ProductSummary,
	history []domain.SessionTurn,
) []chatMessage {
	messages := make([]chatMessage, 0, 2+2*len(history))
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: turn.Query},
			chatMessage{Role: "assistant", Content: turn.Answer},
		)
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: fmt.Sprintf("參考資料：\n%s\n使用者問題：%s", buildContext(chunks, summaries), query),
	})
	return messages
}

// buildContext renders the evidence block: product introductions first, then
// the ranked chunks in funnel order, most relevant first.
func buildContext(chunks []domain.Chunk, summaries []domain.ProductSummary) string {
	var b strings.Builder

	if len(summaries) > 0 {
		b.WriteString("=== 相關商品基本介紹 ===\n")
		for _, summary := range summaries {
			fmt.Fprintf(&b, "來源: %s\n%s\n", summary.Name, summary.Intro)
		}
		b.WriteString("========================\n\n")
	}

	b.WriteString("=== 詳細檢索片段 ===\n")
	for idx, chunk := range chunks {
		fmt.Fprintf(&b, "[%d] 來源: %s\n%s\n\n", idx+1, chunk.ProductID, chunk.Text)
	}
	return b.String()
}

func buildRewriteMessages(query string, history []domain.SessionTurn) []chatMessage {
	turns := history
	if len(turns) > rewriteHistoryTurns {
		turns = turns[len(turns)-rewriteHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("對話歷史:\n")
	for _, turn := range turns {
		fmt.Fprintf(&b, "user: %s\nassistant: %s\n", turn.Query, turn.Answer)
	}
	fmt.Fprintf(&b, "\n使用者最新問題: %s", query)

	return []chatMessage{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}
