// Package config loads process settings from the environment and the
// pipeline definition file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "DEALSIGNAL"

type Settings struct {
	Port          int
	Log           LogSettings
	PipelineFile  string
	DatabaseURL   string
	NATSURL       string
	RedisAddr     string
	SMTP          SMTPSettings
	EncryptionKey string
	Source        SourceSettings
	Scheduler     SchedulerSettings
	Frequencies   map[string]string
	Simulation    SimulationSettings
	Watchlist     []string
}

type LogSettings struct {
	Level       string
	Development bool
}

type SMTPSettings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	PasswordEnc string
	From        string
	Timeout     time.Duration
}

type SourceSettings struct {
	FetchTimeout time.Duration
	HealthTTL    time.Duration
	MaxRecords   int
}

type SchedulerSettings struct {
	ExecutionTimeout time.Duration
	Autostart        bool
	Demo             bool
}

type SimulationSettings struct {
	Enabled     bool
	Interval    time.Duration
	Probability float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("pipeline.file", "pipeline.yaml")
	v.SetDefault("database.url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.passwordEnc", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.timeout", 30*time.Second)
	v.SetDefault("encryption.key", "")
	v.SetDefault("source.fetchTimeout", 15*time.Second)
	v.SetDefault("source.healthTTL", 5*time.Minute)
	v.SetDefault("source.maxRecords", 1000)
	v.SetDefault("scheduler.executionTimeout", 2*time.Minute)
	v.SetDefault("scheduler.autostart", true)
	v.SetDefault("scheduler.demo", false)
	v.SetDefault("frequencies.hourly", "")
	v.SetDefault("frequencies.daily", "")
	v.SetDefault("frequencies.weekly", "")
	v.SetDefault("simulation.enabled", false)
	v.SetDefault("simulation.interval", 30*time.Second)
	v.SetDefault("simulation.probability", 0.3)
	v.SetDefault("watchlist", "")
}

// LoadSettings reads .env files, an optional config file and DEALSIGNAL_*
// environment variables, in increasing priority.
func LoadSettings(configFile string) (Settings, error) {
	if err := loadEnvFiles(); err != nil {
		return Settings{}, err
	}
	v := viper.New()
	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return fromViper(v)
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func fromViper(v *viper.Viper) (Settings, error) {
	s := Settings{
		Port: v.GetInt("port"),
		Log: LogSettings{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		PipelineFile:  v.GetString("pipeline.file"),
		DatabaseURL:   v.GetString("database.url"),
		NATSURL:       v.GetString("nats.url"),
		RedisAddr:     v.GetString("redis.addr"),
		EncryptionKey: v.GetString("encryption.key"),
		SMTP: SMTPSettings{
			Host:        v.GetString("smtp.host"),
			Port:        v.GetInt("smtp.port"),
			Username:    v.GetString("smtp.username"),
			Password:    v.GetString("smtp.password"),
			PasswordEnc: v.GetString("smtp.passwordEnc"),
			From:        v.GetString("smtp.from"),
			Timeout:     v.GetDuration("smtp.timeout"),
		},
		Source: SourceSettings{
			FetchTimeout: v.GetDuration("source.fetchTimeout"),
			HealthTTL:    v.GetDuration("source.healthTTL"),
			MaxRecords:   v.GetInt("source.maxRecords"),
		},
		Scheduler: SchedulerSettings{
			ExecutionTimeout: v.GetDuration("scheduler.executionTimeout"),
			Autostart:        v.GetBool("scheduler.autostart"),
			Demo:             v.GetBool("scheduler.demo"),
		},
		Frequencies: map[string]string{},
		Simulation: SimulationSettings{
			Enabled:     v.GetBool("simulation.enabled"),
			Interval:    v.GetDuration("simulation.interval"),
			Probability: v.GetFloat64("simulation.probability"),
		},
		Watchlist: stringList(v.Get("watchlist")),
	}
	for _, f := range []string{"hourly", "daily", "weekly"} {
		if spec := strings.TrimSpace(v.GetString("frequencies." + f)); spec != "" {
			s.Frequencies[f] = spec
		}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return Settings{}, fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Simulation.Probability < 0 || s.Simulation.Probability > 1 {
		return Settings{}, fmt.Errorf("simulation.probability %v must be within [0,1]", s.Simulation.Probability)
	}
	return s, nil
}

func stringList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	out := []string{}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
