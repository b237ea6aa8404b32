package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chemkb/chemkb/internal/llm"
)

// ChatClient is the completion API surface the generator needs.
type ChatClient interface {
	ChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
	ChatModel() string
	HasKey() bool
}

const systemPrompt = "你是一个专业的化工领域专家，具有丰富的理论知识和实践经验。请提供准确、专业、有用的回答。"

const ragPromptTemplate = `你是一个化工领域的专家，请根据以下提供的资料内容回答用户的问题。

## 资料内容：
%s

## 回答要求：
1. 请基于上述资料内容进行回答，确保答案的准确性和专业性
2. 如果资料中没有明确的答案，请明确说明"根据提供的资料无法确定"
3. 可以适当结合化工领域的专业知识进行解释
4. 回答应该条理清晰，逻辑性强
5. 如果涉及数据或具体数值，请注明来源

## 用户提问：
%s

## 专业回答：`

const directPromptTemplate = "作为化工领域专家，请回答以下问题：\n\n%s"

// Prompt budget in estimated tokens, leaving room for the answer.
const (
	maxPromptTokens    = 3000
	promptSafetyMargin = 500
)

// Response types attached to generation results.
const (
	ResponseTypeRAG    = "rag_based"
	ResponseTypeDirect = "direct_answer"
	ResponseTypeError  = "error"
)

// Generator produces answers from a chat model, grounding them in
// retrieved context when available.
type Generator struct {
	client ChatClient
}

// New creates a Generator over the given chat client.
func New(client ChatClient) *Generator {
	return &Generator{client: client}
}

// estimateTokens approximates token count at ~4 characters per token.
func estimateTokens(text string) int {
	return len([]rune(text)) / 4
}

// BuildRAGPrompt formats the context and question into the RAG template,
// truncating the context proportionally when the prompt would exceed the
// token budget.
func BuildRAGPrompt(question, contextText string) string {
	prompt := fmt.Sprintf(ragPromptTemplate, contextText, question)

	tokens := estimateTokens(prompt)
	if tokens <= maxPromptTokens {
		return prompt
	}

	ratio := float64(maxPromptTokens-promptSafetyMargin) / float64(tokens)
	if ratio <= 0 {
		return prompt
	}

	runes := []rune(contextText)
	target := int(float64(len(runes)) * ratio)
	if target > len(runes) {
		target = len(runes)
	}
	truncated := string(runes[:target]) + "\n\n[内容已截断...]"

	return fmt.Sprintf(ragPromptTemplate, truncated, question)
}

// Result is the outcome of one generation call.
type Result struct {
	Answer         string         `json:"answer"`
	ResponseType   string         `json:"response_type"`
	FinishReason   string         `json:"finish_reason"`
	GenerationTime float64        `json:"generation_time"`
	TokenUsage     llm.TokenUsage `json:"token_usage"`
	Model          string         `json:"model"`
	ContextUsed    bool           `json:"context_used"`
}

// Generate answers the question, using the RAG template when context is
// non-empty and direct answering otherwise.
func (g *Generator) Generate(ctx context.Context, question, contextText string, temperature float64, maxTokens int) (Result, error) {
	start := time.Now()

	contextUsed := strings.TrimSpace(contextText) != ""
	var prompt, responseType string
	if contextUsed {
		prompt = BuildRAGPrompt(question, contextText)
		responseType = ResponseTypeRAG
	} else {
		prompt = fmt.Sprintf(directPromptTemplate, question)
		responseType = ResponseTypeDirect
	}

	chatResult, err := g.client.ChatCompletion(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generating answer: %w", err)
	}

	model := chatResult.Model
	if model == "" {
		model = g.client.ChatModel()
	}

	return Result{
		Answer:         chatResult.Content,
		ResponseType:   responseType,
		FinishReason:   chatResult.FinishReason,
		GenerationTime: time.Since(start).Seconds(),
		TokenUsage:     chatResult.Usage,
		Model:          model,
		ContextUsed:    contextUsed,
	}, nil
}

var technicalTerms = []string{"化工", "反应", "催化", "工艺", "温度", "压力", "分离", "纯化"}

var quantitativeMarkers = []string{"%", "℃", "MPa", "mol", "kg"}

var uncertaintyPhrases = []string{"无法确定", "资料中没有", "需要进一步", "不够明确"}

// Quality is a heuristic assessment of a generated answer.
type Quality struct {
	QualityScore            int    `json:"quality_score"`
	AnswerLength            int    `json:"answer_length"`
	HasTechnicalTerms       bool   `json:"has_technical_terms"`
	HasQuantitativeInfo     bool   `json:"has_quantitative_info"`
	AcknowledgesUncertainty bool   `json:"acknowledges_uncertainty"`
	ContextBased            bool   `json:"context_based"`
	Assessment              string `json:"assessment"`
}

// EvaluateQuality scores an answer on length, domain vocabulary,
// quantitative content, and context grounding. Scores cap at 100.
func EvaluateQuality(answer, contextText string) Quality {
	q := Quality{
		AnswerLength: len([]rune(answer)),
		ContextBased: strings.TrimSpace(contextText) != "",
	}

	lower := strings.ToLower(answer)
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			q.HasTechnicalTerms = true
			break
		}
	}
	for _, marker := range quantitativeMarkers {
		if strings.Contains(answer, marker) {
			q.HasQuantitativeInfo = true
			break
		}
	}
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(answer, phrase) {
			q.AcknowledgesUncertainty = true
			break
		}
	}

	if q.AnswerLength > 50 {
		q.QualityScore += 20
	}
	if q.HasTechnicalTerms {
		q.QualityScore += 30
	}
	if q.HasQuantitativeInfo {
		q.QualityScore += 25
	}
	if q.ContextBased {
		q.QualityScore += 25
	}
	if q.QualityScore > 100 {
		q.QualityScore = 100
	}

	switch {
	case q.QualityScore >= 70:
		q.Assessment = "good"
	case q.QualityScore >= 40:
		q.Assessment = "fair"
	default:
		q.Assessment = "poor"
	}
	return q
}

// StatusInfo reports generator health for the QA health endpoint.
type StatusInfo struct {
	ServiceStatus   string `json:"service_status"`
	OpenAIAvailable bool   `json:"openai_available"`
	ChatModel       string `json:"chat_model"`
}

// ServiceStatus reports whether generation is possible.
func (g *Generator) ServiceStatus() StatusInfo {
	status := "limited"
	if g.client.HasKey() {
		status = "healthy"
	}
	return StatusInfo{
		ServiceStatus:   status,
		OpenAIAvailable: g.client.HasKey(),
		ChatModel:       g.client.ChatModel(),
	}
}
