// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package log

var factory Factory = &noop{}

// SetFactory sets the static logger factory used by New and the package
// level helpers below. Host applications wire a real backend here; until
// they do, the module stays silent.
func SetFactory(f Factory) {
	factory = f
}

// New returns a new logger instance from the static factory.
func New() Logger {
	return factory.New()
}

// WithLevel returns a new logger instance with the given level threshold set.
func WithLevel(lvl Level) Logger {
	return factory.New().Level(lvl)
}

// Field returns a new logger instance with the given field set.
func Field(k string, v any) Logger {
	return factory.New().Field(k, v)
}

// Fields returns a new logger instance with the given fields set.
func Fields(data map[string]any) Logger {
	return factory.New().Fields(data)
}

// Error returns a new logger instance with the given error set.
func Error(err error) Logger {
	return factory.New().Error(err)
}
