/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewZapLogger_Production(t *testing.T) {
	logger, err := newZapLogger("")
	if err != nil {
		t.Fatalf("newZapLogger returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("production logger should not enable debug level")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("production logger should enable info level")
	}
}

func TestNewZapLogger_Debug(t *testing.T) {
	for _, level := range []string{"debug", "trace"} {
		logger, err := newZapLogger(level)
		if err != nil {
			t.Fatalf("newZapLogger(%q) returned error: %v", level, err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Errorf("%s logger should enable debug level", level)
		}
	}
}

func TestNewZapLogger_Warn(t *testing.T) {
	logger, err := newZapLogger("warn")
	if err != nil {
		t.Fatalf("newZapLogger returned error: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("warn logger should not enable info level")
	}
	if !logger.Core().Enabled(zap.WarnLevel) {
		t.Error("warn logger should enable warn level")
	}
}

func TestNewZapLogger_Error(t *testing.T) {
	logger, err := newZapLogger("error")
	if err != nil {
		t.Fatalf("newZapLogger returned error: %v", err)
	}
	if logger.Core().Enabled(zap.WarnLevel) {
		t.Error("error logger should not enable warn level")
	}
}

func TestNewZapLogger_UnknownLevel(t *testing.T) {
	logger, err := newZapLogger("verbose")
	if err != nil {
		t.Fatalf("newZapLogger returned error: %v", err)
	}
	// Unknown levels fall through to production config
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("unknown level should fall through to production (no debug)")
	}
}

func TestNewLogger_UsesEnvVar(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")

	log, sync, err := NewLogger("")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if sync == nil {
		t.Fatal("expected non-nil sync function")
	}
	defer sync()

	if !log.GetSink().Enabled(int(zapcore.DebugLevel)) {
		t.Error("logger should be debug-enabled when LOG_LEVEL=debug")
	}
}

func TestNewLogger_ExplicitLevelWins(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")

	log, sync, err := NewLogger("info")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	defer sync()

	if log.V(1).Enabled() {
		t.Error("explicit info level should override LOG_LEVEL=debug")
	}
}
