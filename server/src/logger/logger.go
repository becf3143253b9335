package logger

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Sync() error
}

var logger Logger

func init() {
	core, _ := observer.New(zap.InfoLevel)
	logger = zap.New(core).Sugar()
}

// Initialize the global logger once so every package can log through it.
// Production selects the JSON encoder; otherwise the console development
// encoder with debug level is used.
func NewGlobalLogger(production bool) {
	var err error
	var zapLogger *zap.Logger

	if production {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	logger = zapLogger.Sugar()
}

func Infow(msg string, keysAndValues ...interface{}) {
	logger.Infow(msg, keysAndValues...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	logger.Debugw(msg, keysAndValues...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	logger.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	logger.Errorw(msg, keysAndValues...)
}

func Fatalw(msg string, keysAndValues ...interface{}) {
	logger.Fatalw(msg, keysAndValues...)
}

func Sync() {
	logger.Sync()
}
