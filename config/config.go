// This package defines a common config struct which can be used by any subsystem within the client.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Debug              bool   `mapstructure:"debug"`
	RootDir            string `mapstructure:"root_dir" validate:"required"`
	LoggingPrefix      string `mapstructure:"logging_prefix"`
	FileSharingEnabled bool   `mapstructure:"file_sharing_enabled"`
	writer             io.Writer
}

func (c Config) Logger(source string) *zap.SugaredLogger {
	var p string
	if source == "" {
		p = c.LoggingPrefix
	} else {
		p = fmt.Sprintf("%s:%s", c.LoggingPrefix, source)
	}

	level := zapcore.InfoLevel
	if c.Debug {
		level = zapcore.DebugLevel
	}
	opts := []zap.Option{
		zap.Fields(zap.String("source", p)),
	}

	de := zap.NewDevelopmentEncoderConfig()
	fileEncoder := zapcore.NewJSONEncoder(de)
	consoleEncoder := zapcore.NewConsoleEncoder(de)
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(c.writer), level),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	)
	logger := zap.New(core, opts...)
	sugar := logger.Sugar()
	return sugar
}

type Option func(*Config)

func WithDebug(d bool) Option {
	return func(c *Config) {
		c.Debug = d
	}
}

func WithRootDir(d string) Option {
	return func(c *Config) {
		c.RootDir = d
	}
}

func WithLoggingPrefix(p string) Option {
	return func(c *Config) {
		c.LoggingPrefix = p
	}
}

func WithFileSharing(enabled bool) Option {
	return func(c *Config) {
		c.FileSharingEnabled = enabled
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:              os.Getenv("DEBUG") == "1",
		LoggingPrefix:      "",
		RootDir:            ".",
		FileSharingEnabled: true,

		writer: nil,
	}
	for _, o := range opts {
		o(c)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // disabled by default
	}
	c.writer = writer
	return c
}

// FromFile loads a config from a yaml file, applying any options on top of the loaded values.
func FromFile(path string, opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("debug", os.Getenv("DEBUG") == "1")
	v.SetDefault("root_dir", ".")
	v.SetDefault("logging_prefix", "")
	v.SetDefault("file_sharing_enabled", true)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: error reading %s: %w", path, err)
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: error unmarshalling %s: %w", path, err)
	}
	for _, o := range opts {
		o(c)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("config: invalid config %s: %w", path, err)
	}

	c.writer = &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // disabled by default
	}
	return c, nil
}
