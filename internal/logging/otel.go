package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newDualCore creates a core writing to ws and, when enabled, to the OTEL log pipeline.
func newDualCore(cfg *Config, ws zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Console {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, leveledCore{
			Core: otelzap.NewCore("casesmith",
				otelzap.WithLoggerProvider(otelProvider),
			),
			level: cfg.Level,
		})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return newSampledCore(core, cfg.Sampling), nil
}

// leveledCore applies the configured level to a core that does not filter
// by level itself. The otelzap core accepts everything its provider does,
// which would ship trace-level LLM replies.
type leveledCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c leveledCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return leveledCore{Core: c.Core.With(fields), level: c.level}
}

func (c leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
