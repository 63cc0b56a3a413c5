package models

import (
	"database/sql/driver"
	"time"
)

// Bot is a tenant: a model configuration, a system prompt and a private knowledge base
type Bot struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Model          string          `json:"model"`
	Prompt         string          `json:"prompt"`
	PromptTemplate string          `json:"prompt_template,omitempty"`
	Settings       BotSettings     `json:"settings"`
	WidgetSettings WidgetSettings  `json:"widget_settings"`
	Tools          ToolDescriptors `json:"tools,omitempty"`
	AutoUpdateKB   bool            `json:"auto_update_kb"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BotSettings holds the generation parameters. A nil field defers to the provider default.
type BotSettings struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	FrequencyPenalty *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32 `json:"presence_penalty,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

func (s BotSettings) Value() (driver.Value, error) { return jsonValue(s) }
func (s *BotSettings) Scan(src any) error { return scanJSON(src, s) }

// WidgetSettings is presentation-only configuration for the chat widget
type WidgetSettings struct {
	Name                             *string  `json:"name,omitempty"`
	ShowHeader                       *bool    `json:"show_header,omitempty"`
	BackgroundColor                  *string  `json:"background_color,omitempty"`
	TextColor                        *string  `json:"text_color,omitempty"`
	BotBubbleColor                   *string  `json:"bot_bubble_color,omitempty"`
	BotBubbleTextColor               *string  `json:"bot_bubble_text_color,omitempty"`
	UserBubbleColor                  *string  `json:"user_bubble_color,omitempty"`
	UserBubbleTextColor              *string  `json:"user_bubble_text_color,omitempty"`
	BotPicture                       *string  `json:"bot_picture,omitempty"`
	InitialMessage                   *string  `json:"initial_message,omitempty"`
	SuggestedMessages                []string `json:"suggested_messages,omitempty"`
	SuggestedMessagesAlwaysDisplayed *bool    `json:"suggested_messages_always_displayed,omitempty"`
}

func (w WidgetSettings) Value() (driver.Value, error) { return jsonValue(w) }
func (w *WidgetSettings) Scan(src any) error { return scanJSON(src, w) }

// BotUpdate lists the mutable fields of a bot. Nil fields are left untouched.
type BotUpdate struct {
	Name           *string
	Description    *string
	Model          *string
	Prompt         *string
	PromptTemplate *string
	Settings       *BotSettings
	WidgetSettings *WidgetSettings
	Tools          *ToolDescriptors
	AutoUpdateKB   *bool
}

// Apply copies the set fields of u onto b.
func (u BotUpdate) Apply(b *Bot) {
	if u.Name != nil {
		b.Name = *u.Name
	}
	if u.Description != nil {
		b.Description = *u.Description
	}
	if u.Model != nil {
		b.Model = *u.Model
	}
	if u.Prompt != nil {
		b.Prompt = *u.Prompt
	}
	if u.PromptTemplate != nil {
		b.PromptTemplate = *u.PromptTemplate
	}
	if u.Settings != nil {
		b.Settings = *u.Settings
	}
	if u.WidgetSettings != nil {
		b.WidgetSettings = *u.WidgetSettings
	}
	if u.Tools != nil {
		b.Tools = *u.Tools
	}
	if u.AutoUpdateKB != nil {
		b.AutoUpdateKB = *u.AutoUpdateKB
	}
}

// CrawlerLink is a crawler result feed the knowledge base of a bot is refreshed from
type CrawlerLink struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
