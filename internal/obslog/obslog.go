// Package obslog wires zap into imsec's scripting engine as one logger per
// pipeline stage, so a failure or a slow stage is traceable to tokenizer,
// parser, scheduler, or evaluator without grepping a single undifferentiated
// stream.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a pipeline stage; each gets its own *zap.Logger child with
// a "category" field, mirroring the per-subsystem logger split a larger
// codebase uses to keep unrelated concerns out of each other's output.
type Category string

const (
	CategoryLex       Category = "lex"
	CategoryParse     Category = "parse"
	CategoryInclude   Category = "include"
	CategoryDependency Category = "dependency"
	CategorySchedule  Category = "schedule"
	CategoryEvaluate  Category = "evaluate"
	CategoryBridge    Category = "bridge"
	CategoryExecutor  Category = "executor"
)

// Root wraps the process's base *zap.Logger and hands out category loggers.
type Root struct {
	base *zap.Logger
}

// New builds a Root. verbose raises the level to debug; otherwise the
// logger runs at zap's production default (info and above, JSON-encoded).
func New(verbose bool) (*Root, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Root{base: base}, nil
}

// NewNop returns a Root that discards everything, for tests.
func NewNop() *Root {
	return &Root{base: zap.NewNop()}
}

// For returns the *zap.Logger scoped to category.
func (r *Root) For(category Category) *zap.Logger {
	return r.base.With(zap.String("category", string(category)))
}

// Sync flushes any buffered log entries; call it before process exit.
func (r *Root) Sync() error {
	return r.base.Sync()
}
