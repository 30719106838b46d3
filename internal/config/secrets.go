package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.VenueA.KeyPassword)
	redact(&out.VenueB.KeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Engine.TiersBuyASellB != nil {
		out.Engine.TiersBuyASellB = make([]TierConfig, len(cfg.Engine.TiersBuyASellB))
		copy(out.Engine.TiersBuyASellB, cfg.Engine.TiersBuyASellB)
	}
	if cfg.Engine.TiersBuyBSellA != nil {
		out.Engine.TiersBuyBSellA = make([]TierConfig, len(cfg.Engine.TiersBuyBSellA))
		copy(out.Engine.TiersBuyBSellA, cfg.Engine.TiersBuyBSellA)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
