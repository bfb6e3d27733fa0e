package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voyage/backend/internal/config"
	"github.com/zhouzirui/voyage/backend/internal/model/chat"
)

const historyLimit = 10

// Service rewrites canned assistant replies in a conversational tone.
type Service struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	prompts *PromptManager
	logger  *slog.Logger
}

// NewService creates the rephrasing service backed by an Ark chat model.
func NewService(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, logger)
}

// NewServiceWithModel builds the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, logger *slog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("Traveler said: {query}\nDraft reply: {draft}\nRewrite the draft reply for this traveler."),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rephrase chain: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		chain:   runnable,
		prompts: NewPromptManager(),
		logger:  logger.With("component", "ai"),
	}, nil
}

// Rephrase asks the model to restate draft as a reply to utterance.
// An empty model answer is an error so callers keep the draft.
func (s *Service) Rephrase(ctx context.Context, intent, utterance, draft string, history []chat.Message) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(intent),
		"history": buildHistoryMessages(history),
		"query":   utterance,
		"draft":   draft,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run rephrase chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", fmt.Errorf("rephrase chain returned an empty reply")
	}

	s.logger.Debug("rephrased reply", "intent", intent, "length", len(text))
	return text, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		if msg.Ephemeral {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}

	return history
}
