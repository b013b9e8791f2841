// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package config loads the bridge configuration from the environment (or a
// .env file) and validates it at startup. The loaded struct is immutable
// and passed by reference; nothing reads the environment after boot.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the process-wide configuration.
type AppConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	LogFile     string `mapstructure:"log_file"`
	Debug       bool   `mapstructure:"debug"`

	// Carrier side.
	CarrierPath   string `mapstructure:"carrier_path" validate:"required"`
	CarrierAPIKey string `mapstructure:"carrier_api_key" validate:"required"`

	// Provider side.
	OpenAIAPIKey       string  `mapstructure:"openai_api_key" validate:"required"`
	OpenAIRealtimeURL  string  `mapstructure:"openai_realtime_url" validate:"required"`
	OpenAIModel        string  `mapstructure:"openai_model" validate:"required"`
	DefaultVoice       string  `mapstructure:"default_voice" validate:"required"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	// "inf" or an integer in [1, 4096].
	DefaultMaxOutputTokens string `mapstructure:"default_max_output_tokens" validate:"required"`
	DefaultAgentName   string  `mapstructure:"default_agent_name"`
	DefaultCompanyName string  `mapstructure:"default_company_name"`
	// "pcmu" keeps telephony audio end to end; "pcm16" negotiates linear
	// PCM with the provider (16 kHz up, 24 kHz down) and transcodes.
	ProviderAudioProfile string `mapstructure:"provider_audio_profile" validate:"oneof=pcmu pcm16"`

	// Prompts.
	EndingPrompt       string `mapstructure:"ending_prompt" validate:"required"`
	SuccessFarewell    string `mapstructure:"success_farewell"`
	EscalationFarewell string `mapstructure:"escalation_farewell"`

	// Downlink pacing.
	AudioBufferFrames int     `mapstructure:"audio_buffer_frames" validate:"min=1"`
	FrameSendInterval float64 `mapstructure:"frame_send_interval" validate:"gt=0"` // seconds
	AudioFrameBytes   int     `mapstructure:"audio_frame_bytes" validate:"min=1"`

	// Carrier rate limits.
	MessageRateLimit  float64 `mapstructure:"message_rate_limit" validate:"gt=0"`
	MessageBurstLimit float64 `mapstructure:"message_burst_limit" validate:"gt=0"`
	BinaryRateLimit   float64 `mapstructure:"binary_rate_limit" validate:"gt=0"`
	BinaryBurstLimit  float64 `mapstructure:"binary_burst_limit" validate:"gt=0"`

	// 429 backoff.
	RateLimitMaxRetries int `mapstructure:"rate_limit_max_retries" validate:"min=1"`

	// Tool policy.
	ToolChoice           string `mapstructure:"tool_choice" validate:"required"`
	MaxToolCalls         int    `mapstructure:"max_tool_calls" validate:"min=1"`
	MaxToolArgumentBytes int    `mapstructure:"max_tool_argument_bytes" validate:"min=1"`

	// Genesys Cloud data actions (optional).
	GenesysRegion               string  `mapstructure:"genesys_region"`
	GenesysBaseURL              string  `mapstructure:"genesys_base_url"`
	GenesysLoginURL             string  `mapstructure:"genesys_login_url"`
	GenesysClientID             string  `mapstructure:"genesys_client_id"`
	GenesysClientSecret         string  `mapstructure:"genesys_client_secret"`
	GenesysHTTPTimeoutSeconds   float64 `mapstructure:"genesys_http_timeout_seconds" validate:"gt=0"`
	GenesysHTTPRetryMax         int     `mapstructure:"genesys_http_retry_max" validate:"min=0"`
	GenesysHTTPRetryBackoffSecs float64 `mapstructure:"genesys_http_retry_backoff_seconds" validate:"gt=0"`
	GenesysTokenCacheTTLSeconds int     `mapstructure:"genesys_token_cache_ttl_seconds" validate:"min=1"`
	GenesysMaxToolsPerSession   int     `mapstructure:"genesys_max_tools_per_session" validate:"min=1"`
	GenesysAllowedActionIDs     string  `mapstructure:"genesys_allowed_data_action_ids"`
	GenesysRedactionFields      string  `mapstructure:"genesys_tool_output_redaction_fields"`
	GenesysToolsStrictMode      bool    `mapstructure:"genesys_tools_strict_mode"`

	// Teardown.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds" validate:"min=1"`
}

// FrameInterval returns the pacer's inter-frame gap.
func (c *AppConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameSendInterval * float64(time.Second))
}

// GenesysHTTPTimeout returns the data-action request timeout.
func (c *AppConfig) GenesysHTTPTimeout() time.Duration {
	return time.Duration(c.GenesysHTTPTimeoutSeconds * float64(time.Second))
}

// GenesysHTTPRetryBackoff returns the data-action retry base delay.
func (c *AppConfig) GenesysHTTPRetryBackoff() time.Duration {
	return time.Duration(c.GenesysHTTPRetryBackoffSecs * float64(time.Second))
}

// AllowedActionIDList splits the comma-separated allowlist.
func (c *AppConfig) AllowedActionIDList() []string {
	return splitTrimmed(c.GenesysAllowedActionIDs)
}

// RedactionFieldList splits the comma-separated redaction paths.
func (c *AppConfig) RedactionFieldList() []string {
	return splitTrimmed(c.GenesysRedactionFields)
}

func splitTrimmed(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, token := range strings.Split(raw, ",") {
		if token = strings.TrimSpace(token); token != "" {
			out = append(out, token)
		}
	}
	return out
}

const defaultEndingPrompt = `Please analyze this conversation and provide a structured summary as JSON including:
{
    "main_topics": [],
    "key_decisions": [],
    "action_items": [],
    "sentiment": ""
}`

// InitConfig builds the viper instance: .env file if present, environment
// variables always.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		log.Printf("no .env file found, reading from environment variables")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "audiobridge")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("DEBUG", false)

	v.SetDefault("CARRIER_PATH", "/audiohook")

	v.SetDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime")
	v.SetDefault("OPENAI_MODEL", "gpt-realtime")
	v.SetDefault("DEFAULT_VOICE", "sage")
	v.SetDefault("DEFAULT_TEMPERATURE", 0.8)
	v.SetDefault("DEFAULT_MAX_OUTPUT_TOKENS", "inf")
	v.SetDefault("DEFAULT_AGENT_NAME", "AI Assistant")
	v.SetDefault("DEFAULT_COMPANY_NAME", "Our Company")
	v.SetDefault("PROVIDER_AUDIO_PROFILE", "pcmu")

	v.SetDefault("ENDING_PROMPT", defaultEndingPrompt)
	v.SetDefault("SUCCESS_FAREWELL", "")
	v.SetDefault("ESCALATION_FAREWELL", "")

	v.SetDefault("AUDIO_BUFFER_FRAMES", 50)
	v.SetDefault("FRAME_SEND_INTERVAL", 0.15)
	v.SetDefault("AUDIO_FRAME_BYTES", 1600)

	v.SetDefault("MESSAGE_RATE_LIMIT", 5)
	v.SetDefault("MESSAGE_BURST_LIMIT", 25)
	v.SetDefault("BINARY_RATE_LIMIT", 5)
	v.SetDefault("BINARY_BURST_LIMIT", 25)
	v.SetDefault("RATE_LIMIT_MAX_RETRIES", 3)

	v.SetDefault("TOOL_CHOICE", "auto")
	v.SetDefault("MAX_TOOL_CALLS", 10)
	v.SetDefault("MAX_TOOL_ARGUMENT_BYTES", 16384)

	v.SetDefault("GENESYS_REGION", "")
	v.SetDefault("GENESYS_BASE_URL", "")
	v.SetDefault("GENESYS_LOGIN_URL", "")
	v.SetDefault("GENESYS_CLIENT_ID", "")
	v.SetDefault("GENESYS_CLIENT_SECRET", "")
	v.SetDefault("GENESYS_HTTP_TIMEOUT_SECONDS", 10)
	v.SetDefault("GENESYS_HTTP_RETRY_MAX", 2)
	v.SetDefault("GENESYS_HTTP_RETRY_BACKOFF_SECONDS", 0.5)
	v.SetDefault("GENESYS_TOKEN_CACHE_TTL_SECONDS", 3600)
	v.SetDefault("GENESYS_MAX_TOOLS_PER_SESSION", 8)
	v.SetDefault("GENESYS_ALLOWED_DATA_ACTION_IDS", "")
	v.SetDefault("GENESYS_TOOL_OUTPUT_REDACTION_FIELDS", "")
	v.SetDefault("GENESYS_TOOLS_STRICT_MODE", true)

	v.SetDefault("SHUTDOWN_GRACE_SECONDS", 10)
}

// GetApplicationConfig unmarshals and validates the loaded configuration.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
