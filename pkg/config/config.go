package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. SURVEYBOT_TELEGRAM_TOKEN.
const EnvPrefix = "SURVEYBOT_"

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" env:"TELEGRAM_ENABLED"`
	Token     string   `json:"token" env:"TELEGRAM_TOKEN"`
	AllowFrom []string `json:"allowFrom" env:"TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" env:"DISCORD_ENABLED"`
	Token     string   `json:"token" env:"DISCORD_TOKEN"`
	AllowFrom []string `json:"allowFrom" env:"DISCORD_ALLOW_FROM"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled" env:"FEISHU_ENABLED"`
	AppID             string   `json:"appId" env:"FEISHU_APP_ID"`
	AppSecret         string   `json:"appSecret" env:"FEISHU_APP_SECRET"`
	EncryptKey        string   `json:"encryptKey" env:"FEISHU_ENCRYPT_KEY"`
	VerificationToken string   `json:"verificationToken" env:"FEISHU_VERIFICATION_TOKEN"`
	AllowFrom         []string `json:"allowFrom" env:"FEISHU_ALLOW_FROM"`
}

type DingTalkConfig struct {
	Enabled   bool     `json:"enabled" env:"DINGTALK_ENABLED"`
	ClientID  string   `json:"clientId" env:"DINGTALK_CLIENT_ID"`
	AppSecret string   `json:"appSecret" env:"DINGTALK_APP_SECRET"`
	RobotCode string   `json:"robotCode" env:"DINGTALK_ROBOT_CODE"`
	AllowFrom []string `json:"allowFrom" env:"DINGTALK_ALLOW_FROM"`
}

// WorkplaceConfig configures the Workplace/Messenger webhook channel.
type WorkplaceConfig struct {
	Enabled     bool     `json:"enabled" env:"WORKPLACE_ENABLED"`
	AppSecret   string   `json:"appSecret" env:"WORKPLACE_APP_SECRET"`
	VerifyToken string   `json:"verifyToken" env:"WORKPLACE_VERIFY_TOKEN"`
	AccessToken string   `json:"accessToken" env:"WORKPLACE_ACCESS_TOKEN"`
	GraphAPI    string   `json:"graphApi" env:"WORKPLACE_GRAPH_API"`
	AllowFrom   []string `json:"allowFrom" env:"WORKPLACE_ALLOW_FROM"`
}

type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Feishu    FeishuConfig    `json:"feishu"`
	DingTalk  DingTalkConfig  `json:"dingtalk"`
	Workplace WorkplaceConfig `json:"workplace"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"GATEWAY_HOST"`
	Port int    `json:"port" env:"GATEWAY_PORT"`
}

// CampaignConfig restarts the survey for a chat on a schedule: a five-field
// cron expression or a Go duration such as "168h".
type CampaignConfig struct {
	Channel string `json:"channel" env:"CHANNEL"`
	ChatID  string `json:"chatId" env:"CHAT_ID"`
	Cron    string `json:"cron,omitempty" env:"CRON"`
	Every   string `json:"every,omitempty" env:"EVERY"`
}

// Interval parses Every.
func (c CampaignConfig) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Every)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", c.Every)
	}
	return d, nil
}

// SurveyConfig selects the question script, where completed surveys are
// reported and which chats are surveyed on a schedule.
type SurveyConfig struct {
	ScriptPath    string           `json:"scriptPath" env:"SURVEY_SCRIPT"`
	ReportChannel string           `json:"reportChannel,omitempty" env:"SURVEY_REPORT_CHANNEL"`
	ReportChatID  string           `json:"reportChatId,omitempty" env:"SURVEY_REPORT_CHAT_ID"`
	Campaigns     []CampaignConfig `json:"campaigns,omitempty" envPrefix:"SURVEY_CAMPAIGNS_"`
}

type Config struct {
	Workspace string         `json:"workspace" env:"WORKSPACE"`
	Channels  ChannelsConfig `json:"channels"`
	Gateway   GatewayConfig  `json:"gateway"`
	Survey    SurveyConfig   `json:"survey"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".surveybot/workspace",
		Channels: ChannelsConfig{
			Workplace: WorkplaceConfig{GraphAPI: "https://graph.facebook.com/v2.6"},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Survey: SurveyConfig{
			ScriptPath: ".surveybot/survey.yaml",
		},
	}
}

// LoadConfig loads the configuration from the given path and applies
// SURVEYBOT_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(".surveybot", "config.json")
	}

	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks that every enabled channel has its credentials.
func (c *Config) Validate() error {
	ch := c.Channels
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		return fmt.Errorf("discord: token is required")
	}
	if ch.Feishu.Enabled && (ch.Feishu.AppID == "" || ch.Feishu.AppSecret == "") {
		return fmt.Errorf("feishu: appId and appSecret are required")
	}
	if d := ch.DingTalk; d.Enabled && (d.ClientID == "" || d.AppSecret == "" || d.RobotCode == "") {
		return fmt.Errorf("dingtalk: clientId, appSecret and robotCode are required")
	}
	if w := ch.Workplace; w.Enabled && (w.AppSecret == "" || w.VerifyToken == "" || w.AccessToken == "") {
		return fmt.Errorf("workplace: appSecret, verifyToken and accessToken are required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway: invalid port %d", c.Gateway.Port)
	}
	if (c.Survey.ReportChannel == "") != (c.Survey.ReportChatID == "") {
		return fmt.Errorf("survey: reportChannel and reportChatId must be set together")
	}
	for i, cp := range c.Survey.Campaigns {
		if cp.Channel == "" || cp.ChatID == "" {
			return fmt.Errorf("survey: campaign %d: channel and chatId are required", i)
		}
		if (cp.Cron == "") == (cp.Every == "") {
			return fmt.Errorf("survey: campaign %d: set exactly one of cron and every", i)
		}
		if cp.Every != "" {
			if _, err := cp.Interval(); err != nil {
				return fmt.Errorf("survey: campaign %d: %w", i, err)
			}
		}
	}
	return nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}
