package analysis

import (
	"strings"

	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// AgentCustom and AgentConsensus are the agent selectors the handler understands.
const (
	AgentCustom    = "custom"
	AgentConsensus = "consensus"
)

// DefaultSystemPrompt is used unless the job carries a custom agent prompt.
const DefaultSystemPrompt = `Your role is to analyze stock charts with exceptional expertise. You will provide your analysis, your expert opinion on if you should BUY / SELL / WAIT.
You will provide a confidence score of your decision (1-100%). And you will provide entry, profit target, and stop loss, for any BUY or SELL decision.
You will also calculate the R:R (risk to reward ratio) when applicable.
Note: The price will be highlighted on the right side as the same color as the indicator.
Respond in markdown format.`

// DefaultQuery opens the reasoning loop for non-custom agents.
const DefaultQuery = "Do you see any trade setups? How confident are you? Trade or wait?"

// DefaultChatQuery is sent when a chat follow-up arrives without text.
const DefaultChatQuery = "Consider the new images."

// systemPrompt returns the system prompt and opening query for job.
func systemPrompt(job *model.Job) (string, string) {
	prompt, query := DefaultSystemPrompt, DefaultQuery
	if job.Agent == AgentCustom {
		prompt, query = job.Prompt, job.AgentQuery
	}
	if job.IsChat {
		return prompt, chatQuery(job)
	}
	if extra := strings.TrimSpace(job.UserInstructions); extra != "" {
		prompt = prompt + "\n" + extra
	}
	return prompt, query
}

func chatQuery(job *model.Job) string {
	if strings.TrimSpace(job.AgentQuery) == "" {
		return DefaultChatQuery
	}
	return job.AgentQuery
}
