package config

// Cli holds every flag/env value the render worker and API server read at
// startup. Populated by main via flag.FlagSet + ff.Parse(ff.WithEnvVarPrefix
// ("RENDER")), mirroring the teacher's bootstrap.
type Cli struct {
	HTTPAddress       string
	TranscodedRoot    string
	TranscoderBinary  string
	PackagerBinary    string
	RedisURL          string
	DatabaseURL       string
	TemplatesFile     string
	WebhookMaxRetries int
	PromPort          int
	JanitorSchedule   string
}
