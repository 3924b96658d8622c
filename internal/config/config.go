package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Media     MediaConfig
	Preview   PreviewConfig
	Pipeline  PipelineConfig
	Overlay   OverlayConfig
	Basemap   BasemapConfig
	Sync      SyncConfig
	History   HistoryConfig
	R2        R2Config
	MQTT      MQTTConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled bool
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	PreviewPerMin   int
	GeneratePerHour int
}

// MediaConfig locates the external codec tools and sets encoder options.
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	VideoCodec  string
	Preset      string
	CRF         int
	AudioCodec  string
}

type PreviewConfig struct {
	Timeout time.Duration
}

type PipelineConfig struct {
	ProgressInterval time.Duration
	FrameBuffer      int
}

// OverlayConfig holds layout constants and derived-metric windows.
type OverlayConfig struct {
	Units               string
	GradeWindow         time.Duration
	GradeMinDistance    float64 // meters
	GradeClamp          float64 // percent
	MapZoom             int
	MapSize             int // pixels at 1080p
	ElevationWindow     time.Duration
	ElevationHeight     int // pixels at 1080p
	ElevationResolution int
}

// BasemapConfig controls the raster tiles drawn under the map route.
// URLTemplate uses {z}, {x} and {y} placeholders. Offline serves only tiles
// already in CacheDir. Timeout bounds loading one job's tiles.
type BasemapConfig struct {
	Enabled     bool
	URLTemplate string
	CacheDir    string
	Offline     bool
	Timeout     time.Duration
	MaxTiles    int
	UserAgent   string
}

type SyncConfig struct {
	CacheTTL time.Duration
}

type HistoryConfig struct {
	Enabled bool
	Path    string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Prefix          string
	// LinkExpiry bounds presigned output links when PublicURL is empty
	LinkExpiry time.Duration
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.enabled", "REDIS_ENABLED")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("media.ffmpeg_path", "FFMPEG_PATH")
	_ = v.BindEnv("media.ffprobe_path", "FFPROBE_PATH")
	_ = v.BindEnv("media.video_codec", "VIDEO_CODEC")
	_ = v.BindEnv("preview.timeout", "PREVIEW_TIMEOUT")
	_ = v.BindEnv("overlay.units", "OVERLAY_UNITS")
	_ = v.BindEnv("basemap.enabled", "BASEMAP_ENABLED")
	_ = v.BindEnv("basemap.url_template", "BASEMAP_URL_TEMPLATE")
	_ = v.BindEnv("basemap.cache_dir", "BASEMAP_CACHE_DIR")
	_ = v.BindEnv("basemap.offline", "BASEMAP_OFFLINE")
	_ = v.BindEnv("history.enabled", "HISTORY_ENABLED")
	_ = v.BindEnv("history.path", "HISTORY_PATH")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("mqtt.enabled", "MQTT_ENABLED")
	_ = v.BindEnv("mqtt.broker", "MQTT_BROKER")
	_ = v.BindEnv("mqtt.client_id", "MQTT_CLIENT_ID")
	_ = v.BindEnv("mqtt.topic_prefix", "MQTT_TOPIC_PREFIX")

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.preview_per_min", 120)
	v.SetDefault("ratelimit.generate_per_hour", 30)

	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.video_codec", "libx264")
	v.SetDefault("media.preset", "medium")
	v.SetDefault("media.crf", 18)
	v.SetDefault("media.audio_codec", "copy")

	v.SetDefault("preview.timeout", "10s")
	v.SetDefault("pipeline.progress_interval", "500ms")
	v.SetDefault("pipeline.frame_buffer", 8)

	v.SetDefault("overlay.units", "imperial")
	v.SetDefault("overlay.grade_window", "10s")
	v.SetDefault("overlay.grade_min_distance", 5.0)
	v.SetDefault("overlay.grade_clamp", 40.0)
	v.SetDefault("overlay.map_zoom", 15)
	v.SetDefault("overlay.map_size", 300)
	v.SetDefault("overlay.elevation_window", "5m")
	v.SetDefault("overlay.elevation_height", 150)
	v.SetDefault("overlay.elevation_resolution", 240)

	v.SetDefault("basemap.enabled", true)
	v.SetDefault("basemap.url_template", "https://tile.openstreetmap.org/{z}/{x}/{y}.png")
	v.SetDefault("basemap.cache_dir", "tiles")
	v.SetDefault("basemap.offline", false)
	v.SetDefault("basemap.timeout", "20s")
	v.SetDefault("basemap.max_tiles", 400)
	v.SetDefault("basemap.user_agent", "veloverlay/1.0")

	v.SetDefault("sync.cache_ttl", "24h")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "veloverlay.db")
	v.SetDefault("r2.prefix", "renders")
	v.SetDefault("r2.link_expiry", "24h")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.client_id", "veloverlay")
	v.SetDefault("mqtt.topic_prefix", "veloverlay")
	v.SetDefault("mqtt.qos", 0)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			PreviewPerMin:   v.GetInt("ratelimit.preview_per_min"),
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
		},
		Media: MediaConfig{
			FFmpegPath:  v.GetString("media.ffmpeg_path"),
			FFprobePath: v.GetString("media.ffprobe_path"),
			VideoCodec:  v.GetString("media.video_codec"),
			Preset:      v.GetString("media.preset"),
			CRF:         v.GetInt("media.crf"),
			AudioCodec:  v.GetString("media.audio_codec"),
		},
		Preview: PreviewConfig{
			Timeout: v.GetDuration("preview.timeout"),
		},
		Pipeline: PipelineConfig{
			ProgressInterval: v.GetDuration("pipeline.progress_interval"),
			FrameBuffer:      v.GetInt("pipeline.frame_buffer"),
		},
		Overlay: OverlayConfig{
			Units:               v.GetString("overlay.units"),
			GradeWindow:         v.GetDuration("overlay.grade_window"),
			GradeMinDistance:    v.GetFloat64("overlay.grade_min_distance"),
			GradeClamp:          v.GetFloat64("overlay.grade_clamp"),
			MapZoom:             v.GetInt("overlay.map_zoom"),
			MapSize:             v.GetInt("overlay.map_size"),
			ElevationWindow:     v.GetDuration("overlay.elevation_window"),
			ElevationHeight:     v.GetInt("overlay.elevation_height"),
			ElevationResolution: v.GetInt("overlay.elevation_resolution"),
		},
		Basemap: BasemapConfig{
			Enabled:     v.GetBool("basemap.enabled"),
			URLTemplate: v.GetString("basemap.url_template"),
			CacheDir:    v.GetString("basemap.cache_dir"),
			Offline:     v.GetBool("basemap.offline"),
			Timeout:     v.GetDuration("basemap.timeout"),
			MaxTiles:    v.GetInt("basemap.max_tiles"),
			UserAgent:   v.GetString("basemap.user_agent"),
		},
		Sync: SyncConfig{
			CacheTTL: v.GetDuration("sync.cache_ttl"),
		},
		History: HistoryConfig{
			Enabled: v.GetBool("history.enabled"),
			Path:    v.GetString("history.path"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Prefix:          v.GetString("r2.prefix"),
			LinkExpiry:      v.GetDuration("r2.link_expiry"),
		},
		MQTT: MQTTConfig{
			Enabled:     v.GetBool("mqtt.enabled"),
			Broker:      v.GetString("mqtt.broker"),
			ClientID:    v.GetString("mqtt.client_id"),
			TopicPrefix: v.GetString("mqtt.topic_prefix"),
			QoS:         v.GetInt("mqtt.qos"),
		},
	}
}
