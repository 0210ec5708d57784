package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port    string        `mapstructure:"port" validate:"required"`
	Mode    string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MongoConfig struct {
	URI                     string `mapstructure:"uri" validate:"required"`
	Database                string `mapstructure:"database" validate:"required"`
	AppointmentsCollection  string `mapstructure:"appointments_collection" validate:"required"`
	UsersCollection         string `mapstructure:"users_collection" validate:"required"`
	NotificationsCollection string `mapstructure:"notifications_collection" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// RabbitMQConfig is optional; an empty URL disables audit fan-out.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	AuditQueue string `mapstructure:"audit_queue"`
}

// FirebaseConfig carries the push provider credentials. When CredentialsFile
// is empty server-side dispatch stays disabled.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type ReminderConfig struct {
	Enabled                       bool          `mapstructure:"enabled"`
	Schedule                      string        `mapstructure:"schedule" validate:"required"`
	Timeout                       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	LockTTL                       time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	BusinessName                  string        `mapstructure:"business_name" validate:"required"`
	Title                         string        `mapstructure:"title" validate:"required"`
	Link                          string        `mapstructure:"link" validate:"omitempty,url,startswith=https://"`
	WindowMinutes                 int           `mapstructure:"window_minutes" validate:"gt=0"`
	MarkNotifiedOnDispatchFailure bool          `mapstructure:"mark_notified_on_dispatch_failure"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`
}

// PushConfigured reports whether provider credentials are present.
func (c *Config) PushConfigured() bool {
	return c.Firebase.CredentialsFile != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "salon")
	v.SetDefault("mongo.appointments_collection", "appointments")
	v.SetDefault("mongo.users_collection", "users")
	v.SetDefault("mongo.notifications_collection", "notifications")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "notifications.direct")
	v.SetDefault("rabbitmq.audit_queue", "notifications.audit")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.schedule", "*/30 * * * *")
	v.SetDefault("reminder.timeout", "20m")
	v.SetDefault("reminder.lock_ttl", "25m")
	v.SetDefault("reminder.business_name", "Salon")
	v.SetDefault("reminder.title", "Recordatorio de turno")
	v.SetDefault("reminder.link", "")
	v.SetDefault("reminder.window_minutes", 35)
	v.SetDefault("reminder.mark_notified_on_dispatch_failure", true)
	v.SetDefault("auth.jwt_secret", "")
}

func LoadConfig() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	// Read from environment, MONGO_URI overrides mongo.uri
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use environment variables
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
