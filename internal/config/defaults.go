package config

// Provider names accepted in fallback order lists.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

const (
	defaultWorkDir              = "~/.local/share/autovideo/work"
	defaultLogDir               = "~/.local/share/autovideo/logs"
	defaultStateDir             = "~/.local/share/autovideo/state"
	defaultAPIBind              = "127.0.0.1:7590"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultPausePollIntervalMS  = 500
	defaultMinFreeDiskMB        = 512
	defaultStatusLogLimit       = 50
	defaultRedisPrefix          = "autovideo:"
	defaultCacheNamespace       = "responses"
	defaultCacheTTLSeconds      = 3600
	defaultCacheFlushSeconds    = 60
	defaultCacheMaxEntries      = 5000
	defaultCallTimeoutSeconds   = 120
	defaultTransientRetries     = 2
	defaultTransientBackoffMS   = 2000
	defaultResetZone            = "UTC"
	defaultThrottleFloorMS      = 1000
	defaultThrottleMultiplier   = 1.5
	defaultThrottleMaxSeconds   = 300
	defaultGeminiTextModel      = "gemini-2.0-flash"
	defaultOpenAITextModel      = "gpt-4o-mini"
	defaultOpenAISpeechModel    = "tts-1"
	defaultOpenAIImageModel     = "dall-e-3"
	defaultOpenAIVoice          = "alloy"
	defaultGeminiMaxPerMinute   = 15
	defaultGeminiMaxPerHour     = 600
	defaultOpenAIMaxPerMinute   = 50
	defaultOpenAIMaxPerHour     = 2000
	defaultNtfyTimeoutSeconds   = 10
)

// DefaultStages is the full content-generation workflow in execution order.
var DefaultStages = []string{
	"extraction",
	"title_generation",
	"premise_generation",
	"script_generation",
	"script_postprocessing",
	"speech_synthesis",
	"image_generation",
	"media_assembly",
	"cleanup",
}

func defaultThrottleSteps() []int {
	return []int{10, 20, 40}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Workflow: Workflow{
			Stages:              append([]string(nil), DefaultStages...),
			PausePollIntervalMS: defaultPausePollIntervalMS,
			CheckpointsEnabled:  true,
			MinFreeDiskMB:       defaultMinFreeDiskMB,
			StatusLogLimit:      defaultStatusLogLimit,
		},
		Storage: Storage{
			Backend:     StorageFile,
			RedisPrefix: defaultRedisPrefix,
		},
		Cache: Cache{
			Enabled:              true,
			Namespace:            defaultCacheNamespace,
			DefaultTTLSeconds:    defaultCacheTTLSeconds,
			FlushIntervalSeconds: defaultCacheFlushSeconds,
			MaxEntries:           defaultCacheMaxEntries,
			ContentTTLs: map[string]int{
				"channel":  24 * 3600,
				"playlist": 6 * 3600,
				"video":    15 * 60,
				"search":   10 * 60,
			},
		},
		Providers: Providers{
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
			TransientRetries:   defaultTransientRetries,
			TransientBackoffMS: defaultTransientBackoffMS,
			ResetZone:          defaultResetZone,
			TextOrder:          []string{ProviderGemini, ProviderOpenAI},
			SpeechOrder:        []string{ProviderOpenAI},
			ImageOrder:         []string{ProviderOpenAI},
			Gemini: Provider{
				Enabled:              true,
				TextModel:            defaultGeminiTextModel,
				MaxPerMinute:         defaultGeminiMaxPerMinute,
				MaxPerHour:           defaultGeminiMaxPerHour,
				ThrottleFloorMS:      defaultThrottleFloorMS,
				ThrottleStepsSeconds: defaultThrottleSteps(),
				ThrottleMultiplier:   defaultThrottleMultiplier,
				ThrottleMaxSeconds:   defaultThrottleMaxSeconds,
			},
			OpenAI: Provider{
				Enabled:              true,
				TextModel:            defaultOpenAITextModel,
				SpeechModel:          defaultOpenAISpeechModel,
				ImageModel:           defaultOpenAIImageModel,
				Voice:                defaultOpenAIVoice,
				MaxPerMinute:         defaultOpenAIMaxPerMinute,
				MaxPerHour:           defaultOpenAIMaxPerHour,
				ThrottleFloorMS:      defaultThrottleFloorMS,
				ThrottleStepsSeconds: defaultThrottleSteps(),
				ThrottleMultiplier:   defaultThrottleMultiplier,
				ThrottleMaxSeconds:   defaultThrottleMaxSeconds,
			},
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			NotifyCompleted:       true,
			NotifyFailed:          true,
		},
	}
}
