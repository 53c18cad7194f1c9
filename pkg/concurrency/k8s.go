package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeForKubernetes aligns GOMAXPROCS with the container CPU quota.
// Call it at the very start of main, before LoadConfig reads the effective CPU count.
// The returned function restores the original GOMAXPROCS value.
func InitializeForKubernetes(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	undo, err := maxprocs.Set(maxprocs.Logger(sugar.Debugf))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Debug("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
