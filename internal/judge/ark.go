// Package judge 提供外部評審函數的 Ark 大模型實現。
// 評審契約本身定義在 service 包，這裡只是其中一種實現。
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"debate_arena/internal/models"
	"debate_arena/pkg/config"
)

const systemPrompt = `你是一位公正的辯論評審。你會收到辯題和完整的辯論逐字稿，` +
	`其中「正方」支持辯題、「反方」反對辯題。請根據論證質量、邏輯嚴謹度與反駁力度評判勝負。` +
	`只輸出一個 JSON 對象，不要任何其他文字，格式為：` +
	`{"winner": "proponent" | "opponent" | "tie", "reasoning": "評判理由", ` +
	`"scores": {"proponent": 0-100 的分數, "opponent": 0-100 的分數}}`

// ArkJudge 用 Ark 聊天模型實現評審函數
type ArkJudge struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewArkJudge 建立模板加模型的推理鏈並預先編譯
func NewArkJudge(ctx context.Context, cfg config.JudgeConfig) (*ArkJudge, error) {
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create judge chat model: %w", err)
	}

	// 實際內容經由變量傳入，模板本身只留佔位符，
	// 避免 FString 把提示詞裡的大括號當格式指令
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile judge chain: %w", err)
	}

	return &ArkJudge{chain: runnable}, nil
}

// Judge 把辯題與逐字稿交給模型並解析結構化裁決
func (j *ArkJudge) Judge(ctx context.Context, topic, transcript string) (*models.Verdict, error) {
	query := fmt.Sprintf("辯題：%s\n\n辯論逐字稿：\n\n%s", topic, transcript)
	input := map[string]any{
		"system": systemPrompt,
		"query":  query,
	}

	response, err := j.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run judge chain: %w", err)
	}

	verdict, err := ParseVerdict(response.Content)
	if err != nil {
		return nil, err
	}

	log.Printf("[judge] model verdict: winner=%s", verdict.Winner)
	return verdict, nil
}

// ParseVerdict 解析模型輸出的 JSON 裁決，容忍 markdown 代碼圍欄
func ParseVerdict(content string) (*models.Verdict, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var verdict models.Verdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("judge output is not valid JSON: %w", err)
	}

	if !models.ValidWinner(verdict.Winner) {
		return nil, fmt.Errorf("judge output has invalid winner %q", verdict.Winner)
	}

	return &verdict, nil
}
