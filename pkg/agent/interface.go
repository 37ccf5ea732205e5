package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/eb-adutwum/interius/pkg/agent/prompt"
	"github.com/eb-adutwum/interius/pkg/llm"
)

// Interface decision intents.
const (
	IntentPipelineRequest = "pipeline_request"
	IntentContextQuestion = "context_question"
	IntentSocial          = "social"
	IntentClarification   = "clarification"
)

// InterfaceDecision is the intent router's verdict on one user message.
type InterfaceDecision struct {
	Intent                string `json:"intent"`
	ShouldTriggerPipeline bool   `json:"should_trigger_pipeline"`
	AssistantReply        string `json:"assistant_reply"`
	PipelinePrompt        string `json:"pipeline_prompt,omitempty"`
}

// InterfaceAgent routes user messages to either a chat response or the
// generation pipeline. Trivial social messages short-circuit without an LLM
// call.
type InterfaceAgent struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewInterfaceAgent(client llm.Client, logger *slog.Logger) *InterfaceAgent {
	return &InterfaceAgent{llm: client, logger: componentLogger(logger, "interface-agent")}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

var gratitudeTokens = map[string]struct{}{
	"thanks": {}, "thank you": {}, "thx": {}, "ty": {},
	"appreciate it": {}, "awesome thanks": {}, "great thanks": {},
}

var greetingTokens = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {},
	"good morning": {}, "good afternoon": {}, "good evening": {},
}

func (a *InterfaceAgent) Run(ctx context.Context, input string) (*InterfaceDecision, error) {
	text := strings.TrimSpace(input)

	if decision := quickNonPipeline(text); decision != nil {
		return decision, nil
	}
	if text == "" {
		return &InterfaceDecision{
			Intent:         IntentClarification,
			AssistantReply: "Tell me what you want to build or ask a question, and I can help from there.",
		}, nil
	}

	var decision InterfaceDecision
	if err := a.llm.GenerateStructured(ctx, prompt.Interface, text, interfaceSchema, &decision); err != nil {
		return nil, fmt.Errorf("interface agent: %w", err)
	}
	return normalizeDecision(text, &decision), nil
}

// normalizeDecision enforces the Interius voice and guarantees a usable
// pipeline prompt whenever the pipeline is triggered.
func normalizeDecision(originalPrompt string, decision *InterfaceDecision) *InterfaceDecision {
	reply := strings.TrimSpace(decision.AssistantReply)
	if reply != "" && !strings.Contains(strings.ToLower(reply), "interius") {
		reply = "Interius: " + reply
	}

	if decision.ShouldTriggerPipeline {
		pipelinePrompt := strings.TrimSpace(decision.PipelinePrompt)
		if pipelinePrompt == "" {
			pipelinePrompt = strings.TrimSpace(originalPrompt)
		}
		if reply == "" {
			reply = "Interius is starting generation for your request."
		}
		decision.Intent = IntentPipelineRequest
		decision.AssistantReply = reply
		decision.PipelinePrompt = pipelinePrompt
		return decision
	}

	if reply == "" {
		reply = "Interius is ready to help."
	}
	decision.AssistantReply = reply
	decision.PipelinePrompt = ""
	return decision
}

// quickNonPipeline handles greetings and gratitude without a model call.
func quickNonPipeline(text string) *InterfaceDecision {
	if text == "" {
		return nil
	}
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(text), " "))
	tokenCount := len(strings.Fields(normalized))

	stripped := strings.TrimRight(normalized, "!.")
	if _, ok := gratitudeTokens[normalized]; ok {
		return socialDecision("Interius: You're welcome. If you want, send the next feature or bug fix request and I'll route it correctly.")
	}
	if _, ok := gratitudeTokens[stripped]; ok {
		return socialDecision("Interius: You're welcome. If you want, send the next feature or bug fix request and I'll route it correctly.")
	}

	if tokenCount <= 4 {
		if _, ok := greetingTokens[strings.TrimRight(normalized, "!.?")]; ok {
			return socialDecision("Interius: Hi. Tell me what you need help with, and I'll either answer directly or start the pipeline if it's a build request.")
		}
	}
	return nil
}

func socialDecision(reply string) *InterfaceDecision {
	return &InterfaceDecision{Intent: IntentSocial, AssistantReply: reply}
}
