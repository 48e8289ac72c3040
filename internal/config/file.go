package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the shape of CONFIG_FILE. Only provider credentials live
// there; everything else is environment-only.
type fileConfig struct {
	Twilio TwilioConfig `yaml:"twilio"`
	Resend ResendConfig `yaml:"resend"`
}

// overlayFile fills provider settings that the environment left empty.
func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	tw := &cfg.Providers.Twilio
	fill(&tw.AccountSID, fc.Twilio.AccountSID)
	fill(&tw.AuthToken, fc.Twilio.AuthToken)
	fill(&tw.SMSFrom, fc.Twilio.SMSFrom)
	fill(&tw.WhatsAppFrom, fc.Twilio.WhatsAppFrom)
	fill(&tw.BaseURL, fc.Twilio.BaseURL)
	fill(&tw.WebhookBaseURL, fc.Twilio.WebhookBaseURL)

	rs := &cfg.Providers.Resend
	fill(&rs.APIKey, fc.Resend.APIKey)
	fill(&rs.From, fc.Resend.From)
	fill(&rs.BaseURL, fc.Resend.BaseURL)
	return nil
}

// fill sets *dst to v when *dst is empty; env values win.
func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
