package config

import (
	"errors"
	"fmt"
)

// RequireDatabase checks that a database URL is configured
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("database URL not configured. Set DATABASE_URL or database.url in config file")
	}
	return nil
}

// RequireLLM checks credentials for the selected LLM provider
func (c *Config) RequireLLM() error {
	switch c.LLM.Provider {
	case "azure":
		if c.LLM.Azure.APIKey == "" || c.LLM.Azure.Endpoint == "" || c.LLM.Azure.Deployment == "" {
			return errors.New("azure OpenAI requires AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_DEPLOYMENT")
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return errors.New("OpenAI API key not configured. Set OPENAI_API_KEY")
		}
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return errors.New("Anthropic API key not configured. Set ANTHROPIC_API_KEY")
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			return errors.New("Gemini API key not configured. Set GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown LLM provider: %s", c.LLM.Provider)
	}
	return nil
}

// RequireDiffbot checks that a DiffBot token is available
func (c *Config) RequireDiffbot() error {
	if c.Extraction.Diffbot.Token == "" {
		return errors.New("DiffBot token not configured. Set DIFFBOT_API_KEY")
	}
	return nil
}

// RequireGmail checks the Gmail OAuth file locations
func (c *Config) RequireGmail() error {
	if c.Gmail.CredentialsPath == "" || c.Gmail.TokenPath == "" {
		return errors.New("gmail requires GMAIL_CREDENTIALS_PATH and GMAIL_TOKEN_PATH")
	}
	return nil
}

// RequireTelegram checks the Telegram application credentials
func (c *Config) RequireTelegram() error {
	if c.Telegram.AppID == 0 || c.Telegram.AppHash == "" {
		return errors.New("telegram requires TELEGRAM_API_ID and TELEGRAM_API_HASH")
	}
	if len(c.Telegram.Channels) == 0 {
		return errors.New("no telegram channels configured. Set telegram.channels or TELEGRAM_CHANNELS")
	}
	return nil
}
