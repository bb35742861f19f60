// Package config centralizes environment-driven settings with defaults.
package config

import (
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds everything the probe needs to run.
type Config struct {
	ServerHost   string
	ServerPort   int
	PublicDomain string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioPhoneFrom  string
	TargetPhone      string

	DeepgramAPIKey    string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	OpenAIAPIKey      string
	OpenAIModel       string

	// SilenceThreshold is how long the remote party must stay quiet before
	// their turn is considered over.
	SilenceThreshold time.Duration
	// MaxTurns caps the number of patient utterances per call.
	MaxTurns int
	// CallTimeout bounds one call end to end.
	CallTimeout time.Duration
	// InterCallDelay spaces sequential calls apart.
	InterCallDelay time.Duration
	// GenerationTimeout bounds one LLM completion.
	GenerationTimeout time.Duration
	// STTMaxRetries bounds recognizer reconnect attempts.
	STTMaxRetries int

	TranscriptsDir string
	ReportsDir     string
	ScenarioFile   string
	Concurrency    int

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

// Load reads .env plus the environment and applies defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("config: no .env file loaded")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8765)
	v.SetDefault("TARGET_PHONE_NUMBER", "+18054398008")
	v.SetDefault("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("SILENCE_THRESHOLD_MS", 2500)
	v.SetDefault("MAX_TURNS", 16)
	v.SetDefault("CALL_TIMEOUT_SECONDS", 120)
	v.SetDefault("INTER_CALL_DELAY_SECONDS", 10)
	v.SetDefault("GENERATION_TIMEOUT_SECONDS", 10)
	v.SetDefault("STT_MAX_RETRIES", 3)
	v.SetDefault("TRANSCRIPTS_DIR", "transcripts")
	v.SetDefault("REPORTS_DIR", "reports")
	v.SetDefault("CONCURRENCY", 1)
	v.SetDefault("SUPABASE_BUCKET", "transcripts")

	return Config{
		ServerHost:   v.GetString("SERVER_HOST"),
		ServerPort:   v.GetInt("SERVER_PORT"),
		PublicDomain: v.GetString("NGROK_DOMAIN"),

		TwilioAccountSID: v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioPhoneFrom:  v.GetString("TWILIO_PHONE_FROM"),
		TargetPhone:      v.GetString("TARGET_PHONE_NUMBER"),

		DeepgramAPIKey:    v.GetString("DEEPGRAM_API_KEY"),
		ElevenLabsAPIKey:  v.GetString("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: v.GetString("ELEVENLABS_VOICE_ID"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		OpenAIModel:       v.GetString("OPENAI_MODEL"),

		SilenceThreshold:  time.Duration(v.GetInt("SILENCE_THRESHOLD_MS")) * time.Millisecond,
		MaxTurns:          v.GetInt("MAX_TURNS"),
		CallTimeout:       time.Duration(v.GetInt("CALL_TIMEOUT_SECONDS")) * time.Second,
		InterCallDelay:    time.Duration(v.GetInt("INTER_CALL_DELAY_SECONDS")) * time.Second,
		GenerationTimeout: time.Duration(v.GetInt("GENERATION_TIMEOUT_SECONDS")) * time.Second,
		STTMaxRetries:     v.GetInt("STT_MAX_RETRIES"),

		TranscriptsDir: v.GetString("TRANSCRIPTS_DIR"),
		ReportsDir:     v.GetString("REPORTS_DIR"),
		ScenarioFile:   v.GetString("SCENARIO_FILE"),
		Concurrency:    v.GetInt("CONCURRENCY"),

		SupabaseURL:    v.GetString("SUPABASE_URL"),
		SupabaseKey:    v.GetString("SUPABASE_KEY"),
		SupabaseBucket: v.GetString("SUPABASE_BUCKET"),
	}
}

// Validate returns the names of required settings that are missing for
// placing live calls.
func (c Config) Validate() []string {
	required := map[string]string{
		"TWILIO_ACCOUNT_SID": c.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN":  c.TwilioAuthToken,
		"TWILIO_PHONE_FROM":  c.TwilioPhoneFrom,
		"DEEPGRAM_API_KEY":   c.DeepgramAPIKey,
		"ELEVENLABS_API_KEY": c.ElevenLabsAPIKey,
		"OPENAI_API_KEY":     c.OpenAIAPIKey,
		"NGROK_DOMAIN":       c.PublicDomain,
	}
	var missing []string
	for _, name := range []string{
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_FROM",
		"DEEPGRAM_API_KEY", "ELEVENLABS_API_KEY", "OPENAI_API_KEY", "NGROK_DOMAIN",
	} {
		if required[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
