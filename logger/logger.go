// Package logger 构建 zap logger，可选按天切割的文件输出
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luoxikang/wechat-work-archive/config"
)

// New 根据配置创建 logger，返回的 closer 用于关闭日志文件
func New(cfg config.LogConfig) (*zap.Logger, io.Closer, error) {
	level := zap.NewAtomicLevel()
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		w, err := newRotateWriter(cfg)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, zapcore.AddSync(w))
		closer = w
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), closer, nil
}

func newRotateWriter(cfg config.LogConfig) (*rotatelogs.RotateLogs, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotation := cfg.RotationTimeHours
	if rotation <= 0 {
		rotation = 24
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithRotationTime(time.Duration(rotation) * time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge) * 24 * time.Hour),
	}
	if cfg.MaxSizeMB > 0 {
		opts = append(opts, rotatelogs.WithRotationSize(int64(cfg.MaxSizeMB)*1024*1024))
	}
	return rotatelogs.New(cfg.File+".%Y%m%d", opts...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
