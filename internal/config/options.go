package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"

	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/notifier"
	"mangadexbot/internal/scan"
	"mangadexbot/internal/storage"
	"mangadexbot/pkg/logx"
)

// Options is the process configuration, read from flags with environment fallbacks.
type Options struct {
	// Telegram
	Token       string        `long:"token" env:"MANGADEX_BOT_TELEGRAM_TOKEN" description:"Telegram bot token" required:"true"`
	CommandChat int64         `long:"command-chat" env:"MANGADEX_BOT_COMMAND_CHAT" description:"Register the command menu only in this chat"`
	PollTimeout time.Duration `long:"poll-timeout" env:"MANGADEX_BOT_POLL_TIMEOUT" default:"10s" description:"Long polling timeout"`
	Workers     int           `long:"command-workers" env:"MANGADEX_BOT_COMMAND_WORKERS" default:"8" description:"Concurrent command handlers"`

	// Storage
	StorageDriver    string `long:"storage-driver" env:"MANGADEX_BOT_STORAGE_DRIVER" default:"sqlite" choice:"memory" choice:"file" choice:"sqlite" choice:"mongo" description:"Tracking store backend"`
	StoragePath      string `long:"storage-path" env:"MANGADEX_BOT_STORAGE_PATH" default:"./data/mangadexbot.db" description:"Database file (sqlite) or file prefix (file)"`
	ConnectionString string `long:"connection-string" env:"MANGADEX_BOT_CONNECTION_STRING" description:"MongoDB connection string"`
	Database         string `long:"database" env:"MANGADEX_BOT_DATABASE" default:"mangadex-bot" description:"MongoDB database"`
	Collection       string `long:"collection" env:"MANGADEX_BOT_COLLECTION" default:"manga" description:"MongoDB collection"`

	// Scanning
	ScanPeriod int           `long:"scan-period" env:"MANGADEX_BOT_SCAN_PERIOD" default:"21600" description:"Seconds between scan cycle starts"`
	ScanCron   string        `long:"scan-cron" env:"MANGADEX_BOT_SCAN_CRON" description:"Cron expression for scan cycle starts, overrides --scan-period"`
	ScanPacing time.Duration `long:"scan-pacing" env:"MANGADEX_BOT_SCAN_PACING" default:"250ms" description:"Pause after each manga in a cycle"`
	QueueSize  int           `long:"queue-size" env:"MANGADEX_BOT_QUEUE_SIZE" default:"256" description:"Pending update notifications"`

	// Upstream
	APIRoot         string        `long:"api-root" env:"MANGADEX_BOT_API_ROOT" default:"https://api.mangadex.org" description:"MangaDex API base URL"`
	SiteRoot        string        `long:"site-root" env:"MANGADEX_BOT_SITE_ROOT" default:"https://mangadex.org" description:"Base URL for chapter links"`
	RequestTimeout  time.Duration `long:"request-timeout" env:"MANGADEX_BOT_REQUEST_TIMEOUT" default:"15s" description:"Upstream request timeout"`
	UpstreamRate    float64       `long:"upstream-rate" env:"MANGADEX_BOT_UPSTREAM_RATE" default:"4" description:"Upstream requests per second"`
	ChapterLanguage string        `long:"chapter-language" env:"MANGADEX_BOT_CHAPTER_LANGUAGE" default:"en" description:"Translated language of tracked chapters"`

	// Delivery
	SendRate     int           `long:"send-rate" env:"MANGADEX_BOT_SEND_RATE" default:"20" description:"Outgoing messages per second"`
	SendTimeout  time.Duration `long:"send-timeout" env:"MANGADEX_BOT_SEND_TIMEOUT" default:"10s" description:"Timeout of one delivery"`
	DrainTimeout time.Duration `long:"drain-timeout" env:"MANGADEX_BOT_DRAIN_TIMEOUT" default:"30s" description:"How long shutdown waits for queued notifications"`

	// Logging
	LogLevel   string `long:"log-level" env:"MANGADEX_BOT_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogJSON    bool   `long:"log-json" env:"MANGADEX_BOT_LOG_JSON" description:"Write JSON lines to stdout instead of console format"`
	LogFile    string `long:"log-file" env:"MANGADEX_BOT_LOG_FILE" description:"Also append JSON logs to this file"`
	OpsChat    string `long:"ops-chat" env:"MANGADEX_BOT_OPS_CHAT" description:"Mirror warnings to this chat (id or id:thread)"`
	OpsChatMin string `long:"ops-chat-level" env:"MANGADEX_BOT_OPS_CHAT_LEVEL" default:"warn" description:"Minimum level mirrored to the ops chat"`

	RuntimeConfig string `long:"runtime-config" env:"MANGADEX_BOT_RUNTIME_CONFIG" description:"JSON or YAML file with hot-reloadable settings"`
}

// Parse reads options from args and the environment.
// It returns an error satisfying IsHelp when --help was requested.
func Parse(args []string) (*Options, error) {
	var o Options
	parser := flags.NewParser(&o, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func IsHelp(err error) bool {
	var fe *flags.Error
	return errors.As(err, &fe) && fe.Type == flags.ErrHelp
}

func (o *Options) Validate() error {
	if strings.TrimSpace(o.Token) == "" {
		return errors.New("token is required")
	}
	if o.StorageDriver == "mongo" && strings.TrimSpace(o.ConnectionString) == "" {
		return errors.New("--connection-string is required with the mongo driver")
	}
	if strings.TrimSpace(o.ScanCron) == "" && o.ScanPeriod <= 0 {
		return fmt.Errorf("--scan-period must be positive, got %d", o.ScanPeriod)
	}
	if _, err := scan.ParseSchedule(o.Scan()); err != nil {
		return err
	}
	if o.QueueSize <= 0 {
		return fmt.Errorf("--queue-size must be positive, got %d", o.QueueSize)
	}
	if o.ScanPacing < 0 {
		return errors.New("--scan-pacing must be >= 0")
	}
	return nil
}

func (o *Options) Storage() storage.Config {
	return storage.Config{
		Driver:     o.StorageDriver,
		Path:       o.StoragePath,
		URL:        o.ConnectionString,
		Database:   o.Database,
		Collection: o.Collection,
	}
}

func (o *Options) Upstream() mangadex.Config {
	return mangadex.Config{
		APIRoot:         o.APIRoot,
		Timeout:         o.RequestTimeout,
		RatePerSec:      o.UpstreamRate,
		ChapterLanguage: o.ChapterLanguage,
	}
}

func (o *Options) Scan() scan.Config {
	return scan.Config{
		Period: time.Duration(o.ScanPeriod) * time.Second,
		Cron:   o.ScanCron,
		Pacing: o.ScanPacing,
	}
}

func (o *Options) Notifier() notifier.Config {
	return notifier.Config{
		RatePerSec:  o.SendRate,
		SendTimeout: o.SendTimeout,
		SiteRoot:    o.SiteRoot,
	}
}

// Logging is the startup logging config; a runtime file replaces it on load.
func (o *Options) Logging() logx.Config {
	cfg := logx.Config{
		Level:   o.LogLevel,
		Console: !o.LogJSON,
	}
	if o.LogFile != "" {
		cfg.File = logx.FileConfig{Enabled: true, Path: o.LogFile}
	}
	if o.OpsChat != "" {
		cfg.OpsChat = logx.OpsChatConfig{Enabled: true, Target: o.OpsChat, MinLevel: o.OpsChatMin, RatePerSec: 1}
	}
	return cfg
}
