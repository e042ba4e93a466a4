// Copyright 2026 Anasvag575
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package xlog is the allocator's package-level logging wrapper, mirroring
// the global-logger style of logutil2: callers log through free functions
// rather than threading a *zap.Logger through every constructor.
package xlog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Value // stores *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// SetLogger replaces the package-wide logger, for embedders that want the
// allocator's logs folded into their own zap configuration.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	global.Store(l)
}

func logger() *zap.Logger {
	return global.Load().(*zap.Logger).WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { logger().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { logger().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }

// Fatal logs at fatal level and terminates the process, the allocator's
// abort primitive for unrecoverable corruption (a bad header validity
// field, an impossible free).
func Fatal(msg string, fields ...zap.Field) { logger().Fatal(msg, fields...) }
