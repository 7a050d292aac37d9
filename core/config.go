package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "VCLASS"

// Room codes are stored in a VARCHAR(12) column.
const (
	MinRoomCodeLength = 4
	MaxRoomCodeLength = 12
)

type (
	ServerConfig struct {
		Address                string
		Host                   string
		DebugHost              string
		ShutdownTimeout        time.Duration
		CleanupInterval        time.Duration
		JWTExpirationDelta     time.Duration
		RefreshExpirationDelta time.Duration
		RateLimit              float64
		AllowOrigins           []string
		DisableReqLogs         bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | mysql | sqlite
		Host          string
		Port          string
		User          string
		Password      string
		Name          string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
	}

	LiveKitConfig struct {
		URL       string
		APIKey    string
		APISecret string
		TokenTTL  time.Duration
	}

	PomodoroConfig struct {
		Focus      time.Duration
		ShortBreak time.Duration
		LongBreak  time.Duration
	}

	RoomConfig struct {
		CodeLength      int
		MaxParticipants int
	}

	TelemetryConfig struct {
		Endpoint    string
		ServiceName string
	}

	Config struct {
		Env                       string
		Build                     string
		Debug                     bool
		TestMode                  bool
		WorkDir                   string
		AppName                   string
		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		RollbarToken              string
		SendgridApiKey            string
		PasswordResetTimeoutDelta time.Duration

		Server    ServerConfig
		Database  DatabaseConfig
		LiveKit   LiveKitConfig
		Pomodoro  PomodoroConfig
		Room      RoomConfig
		Telemetry TelemetryConfig
	}
)

// Address returns the database host:port pair.
func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// LiveKitEnabled reports whether video tokens can be issued.
func (c *Config) LiveKitEnabled() bool {
	return c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Virtual Classroom")
	v.SetDefault("secretKey", "s3cr3t-v1rtu4l-cl4ssr00m-k3y-ch4ng3-m3-1n-pr0duct10n")
	v.SetDefault("frontendBaseURL", "http://localhost:4200")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.cleanupInterval", time.Minute)
	v.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	v.SetDefault("server.refreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.rateLimit", 20.0)
	v.SetDefault("server.allowOrigins", []string{"*"})
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "vclass")
	v.SetDefault("database.password", "vclass")
	v.SetDefault("database.name", "vclass")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 25)

	v.SetDefault("livekit.url", "ws://localhost:7880")
	v.SetDefault("livekit.apiKey", "")
	v.SetDefault("livekit.apiSecret", "")
	v.SetDefault("livekit.tokenTTL", 6*time.Hour)

	v.SetDefault("pomodoro.focus", 25*time.Minute)
	v.SetDefault("pomodoro.shortBreak", 5*time.Minute)
	v.SetDefault("pomodoro.longBreak", 15*time.Minute)

	v.SetDefault("room.codeLength", 6)
	v.SetDefault("room.maxParticipants", 25)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.serviceName", "virtualclassroom-api")
}

// NewConfig loads the app configuration from defaults, an optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with VCLASS_ and nested keys are joined with underscores
// (e.g. VCLASS_DATABASE_HOST).
func NewConfig() *Config {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("database.engine", "sqlite")
		v.SetDefault("database.name", ":memory:")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := configFromViper(v, env, wd)
	if err := conf.Validate(); err != nil {
		log.Fatalf("config.Validate(): %v", err)
	}
	return conf
}

// Validate checks the settings the database schema depends on.
func (conf *Config) Validate() error {
	if n := conf.Room.CodeLength; n < MinRoomCodeLength || n > MaxRoomCodeLength {
		return fmt.Errorf("room.codeLength must be between %d and %d, got %d", MinRoomCodeLength, MaxRoomCodeLength, n)
	}
	if n := conf.Room.MaxParticipants; n < 2 {
		return fmt.Errorf("room.maxParticipants must be at least 2, got %d", n)
	}
	return nil
}

func configFromViper(v *viper.Viper, env, wd string) *Config {
	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		WorkDir:                   wd,
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Address:                v.GetString("server.address"),
			Host:                   v.GetString("server.host"),
			DebugHost:              v.GetString("server.debugHost"),
			ShutdownTimeout:        v.GetDuration("server.shutdownTimeout"),
			CleanupInterval:        v.GetDuration("server.cleanupInterval"),
			JWTExpirationDelta:     v.GetDuration("server.jwtExpirationDelta"),
			RefreshExpirationDelta: v.GetDuration("server.refreshExpirationDelta"),
			RateLimit:              v.GetFloat64("server.rateLimit"),
			AllowOrigins:           v.GetStringSlice("server.allowOrigins"),
			DisableReqLogs:         v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        strings.ToLower(v.GetString("database.engine")),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			Name:          v.GetString("database.name"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
		},
		LiveKit: LiveKitConfig{
			URL:       v.GetString("livekit.url"),
			APIKey:    v.GetString("livekit.apiKey"),
			APISecret: v.GetString("livekit.apiSecret"),
			TokenTTL:  v.GetDuration("livekit.tokenTTL"),
		},
		Pomodoro: PomodoroConfig{
			Focus:      v.GetDuration("pomodoro.focus"),
			ShortBreak: v.GetDuration("pomodoro.shortBreak"),
			LongBreak:  v.GetDuration("pomodoro.longBreak"),
		},
		Room: RoomConfig{
			CodeLength:      v.GetInt("room.codeLength"),
			MaxParticipants: v.GetInt("room.maxParticipants"),
		},
		Telemetry: TelemetryConfig{
			Endpoint:    v.GetString("telemetry.endpoint"),
			ServiceName: v.GetString("telemetry.serviceName"),
		},
	}
	conf.DefaultFromEmail = mail.Address{Name: conf.AppName, Address: v.GetString("defaultFromEmail")}
	return conf
}

// NewTestConfig returns the configuration used by tests: sqlite in memory, debug off, fast password resets.
func NewTestConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.Set("debug", false)
	v.Set("testMode", true)
	v.Set("database.engine", "sqlite")
	v.Set("database.name", ":memory:")
	v.Set("server.disableReqLogs", true)
	v.Set("livekit.apiKey", "devkey")
	v.Set("livekit.apiSecret", "devsecret-devsecret-devsecret-32")
	conf := configFromViper(v, "TEST", "")
	return conf
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s) env=%s db=%s", c.AppName, c.Build, c.Env, c.Database.Engine)
}
