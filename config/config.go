package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"

	"twitch-chat-relay/errutil"
)

// Config агрегирует значения конфигурации из переменных окружения.
type Config struct {
	Twitch   TwitchConfig
	HTTP     HTTPConfig
	Relay    RelayConfig
	Upstream UpstreamConfig
	Emotes   EmoteConfig
	Archive  ArchiveConfig
	Postgres PostgresConfig
	Batch    BatchConfig
	Log      LogConfig
}

// TwitchConfig содержит учётные данные и стартовые каналы для Twitch IRC клиента.
// Без логина и токена клиент подключается анонимно.
type TwitchConfig struct {
	Username   string   `env:"TWITCH_USERNAME"`
	OAuthToken string   `env:"TWITCH_OAUTH_TOKEN"`
	Channels   []string `env:"TWITCH_CHANNELS" envSeparator:","`
}

// Anonymous сообщает, что учётные данные не заданы.
func (t TwitchConfig) Anonymous() bool {
	return t.Username == "" && t.OAuthToken == ""
}

// HTTPConfig содержит адрес HTTP сервера и разрешённые Origin для WebSocket.
type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR" envDefault:"127.0.0.1:3000"`
	OriginPatterns []string `env:"WS_ORIGIN_PATTERNS" envSeparator:","`
}

// RelayConfig задаёт параметры очередей клиентов и подписки на каналы.
type RelayConfig struct {
	QueueSize      int           `env:"RELAY_QUEUE_SIZE" envDefault:"100"`
	SendTimeout    time.Duration `env:"RELAY_SEND_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"10s"`
	JoinRetries    uint64        `env:"RELAY_JOIN_RETRIES" envDefault:"3"`
	JoinRetryDelay time.Duration `env:"RELAY_JOIN_RETRY_BASE" envDefault:"200ms"`
}

// UpstreamConfig управляет переподключением к Twitch.
type UpstreamConfig struct {
	BackoffBase time.Duration `env:"UPSTREAM_BACKOFF_BASE" envDefault:"1s"`
	BackoffMax  time.Duration `env:"UPSTREAM_BACKOFF_MAX" envDefault:"1m"`
	StableAfter time.Duration `env:"UPSTREAM_STABLE_AFTER" envDefault:"1m"`
}

// EmoteConfig включает провайдеров эмоутов. Helix включается парой TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET.
type EmoteConfig struct {
	FFZEnabled   bool          `env:"FFZ_ENABLED" envDefault:"true"`
	FFZBaseURL   string        `env:"FFZ_BASE_URL"`
	ClientID     string        `env:"TWITCH_CLIENT_ID"`
	ClientSecret string        `env:"TWITCH_CLIENT_SECRET"`
	HelixBaseURL string        `env:"HELIX_BASE_URL"`
	OAuthURL     string        `env:"TWITCH_OAUTH_URL"`
	TokenFile    string        `env:"TOKEN_FILE" envDefault:".secrets/twitch_tokens.json"`
	RefreshEvery time.Duration `env:"EMOTE_REFRESH_EVERY" envDefault:"0s"`
}

// HelixEnabled сообщает, заданы ли учётные данные приложения.
func (e EmoteConfig) HelixEnabled() bool {
	return e.ClientID != "" && e.ClientSecret != ""
}

// ArchiveConfig включает запись сообщений в Postgres.
type ArchiveConfig struct {
	Enabled bool `env:"ARCHIVE_ENABLED" envDefault:"false"`
}

// PostgresConfig хранит параметры подключения к пулу базы данных.
type PostgresConfig struct {
	Host     string `env:"POSTGRES_HOST"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	DB       string `env:"POSTGRES_DB"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
}

// DSN собирает строку подключения для pgx/pgxpool.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, p.Port, p.DB)
}

// BatchConfig задаёт параметры батчинга и флашей при записи чатов.
type BatchConfig struct {
	MaxBatch      int           `env:"ARCHIVE_MAX_BATCH" envDefault:"100"`
	FlushEvery    time.Duration `env:"ARCHIVE_FLUSH_EVERY" envDefault:"1500ms"`
	ChanBuffer    int           `env:"ARCHIVE_BUFFER" envDefault:"4096"`
	StatsLogEvery time.Duration `env:"ARCHIVE_STATS_EVERY" envDefault:"5m"`
	FlushTimeout  time.Duration `env:"ARCHIVE_FLUSH_TIMEOUT" envDefault:"5s"`
}

// LogConfig задаёт формат и уровень логов.
type LogConfig struct {
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load читает переменные окружения и возвращает валидированную Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, oops.Code(errutil.CodeConfig).Wrapf(err, "разбор переменных окружения")
	}

	cfg.Twitch.Username = strings.TrimSpace(cfg.Twitch.Username)
	cfg.Twitch.OAuthToken = strings.TrimSpace(cfg.Twitch.OAuthToken)
	cfg.Twitch.Channels = splitAndTrim(cfg.Twitch.Channels)
	cfg.HTTP.OriginPatterns = splitAndTrim(cfg.HTTP.OriginPatterns)
	cfg.Emotes.ClientID = strings.TrimSpace(cfg.Emotes.ClientID)
	cfg.Emotes.ClientSecret = strings.TrimSpace(cfg.Emotes.ClientSecret)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if (c.Twitch.Username == "") != (c.Twitch.OAuthToken == "") {
		return configError("TWITCH_USERNAME и TWITCH_OAUTH_TOKEN задаются вместе")
	}
	if (c.Emotes.ClientID == "") != (c.Emotes.ClientSecret == "") {
		return configError("TWITCH_CLIENT_ID и TWITCH_CLIENT_SECRET задаются вместе")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return configError("требуется HTTP_ADDR")
	}

	if c.Relay.QueueSize <= 0 {
		return configError("RELAY_QUEUE_SIZE должен быть больше нуля")
	}
	if c.Relay.SendTimeout <= 0 {
		return configError("RELAY_SEND_TIMEOUT должен быть больше нуля")
	}
	if c.Relay.WriteTimeout <= 0 {
		return configError("RELAY_WRITE_TIMEOUT должен быть больше нуля")
	}
	if c.Relay.JoinRetryDelay <= 0 {
		return configError("RELAY_JOIN_RETRY_BASE должен быть больше нуля")
	}

	if c.Upstream.BackoffBase <= 0 || c.Upstream.BackoffMax < c.Upstream.BackoffBase {
		return configError("UPSTREAM_BACKOFF_BASE должен быть больше нуля и не больше UPSTREAM_BACKOFF_MAX")
	}
	if c.Emotes.RefreshEvery < 0 {
		return configError("EMOTE_REFRESH_EVERY не может быть отрицательным")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return configError("LOG_FORMAT должен быть text или json")
	}

	if !c.Archive.Enabled {
		return nil
	}

	if c.Postgres.Host == "" {
		return configError("требуется POSTGRES_HOST")
	}
	if c.Postgres.Port == "" {
		return configError("требуется POSTGRES_PORT")
	}
	if c.Postgres.DB == "" {
		return configError("требуется POSTGRES_DB")
	}
	if c.Postgres.User == "" {
		return configError("требуется POSTGRES_USER")
	}
	if c.Postgres.Password == "" {
		return configError("требуется POSTGRES_PASSWORD")
	}

	if c.Batch.MaxBatch <= 0 {
		return configError("Batch.MaxBatch должен быть больше нуля")
	}
	if c.Batch.FlushEvery <= 0 {
		return configError("Batch.FlushEvery должен быть больше нуля")
	}
	if c.Batch.ChanBuffer <= 0 {
		return configError("Batch.ChanBuffer должен быть больше нуля")
	}
	if c.Batch.StatsLogEvery <= 0 {
		return configError("Batch.StatsLogEvery должен быть больше нуля")
	}
	if c.Batch.FlushTimeout <= 0 {
		return configError("Batch.FlushTimeout должен быть больше нуля")
	}

	return nil
}

func configError(msg string) error {
	return oops.Code(errutil.CodeConfig).Errorf("%s", msg)
}

func splitAndTrim(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "#"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
