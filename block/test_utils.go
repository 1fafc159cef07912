package block

import (
	"cosmossdk.io/log"
	"github.com/stretchr/testify/mock"
)

// MockLogger is a log.Logger recording calls for assertions in tests.
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, keyvals ...any) { m.Called(msg, keyvals) }
func (m *MockLogger) Info(msg string, keyvals ...any)  { m.Called(msg, keyvals) }
func (m *MockLogger) Warn(msg string, keyvals ...any)  { m.Called(msg, keyvals) }
func (m *MockLogger) Error(msg string, keyvals ...any) { m.Called(msg, keyvals) }
func (m *MockLogger) With(keyvals ...any) log.Logger   { return m }
func (m *MockLogger) Impl() any                        { return m }

// NewMockLogger returns a MockLogger accepting every call at every level.
func NewMockLogger() *MockLogger {
	logger := new(MockLogger)
	for _, level := range []string{"Debug", "Info", "Warn", "Error"} {
		logger.On(level, mock.Anything, mock.Anything).Maybe()
	}
	return logger
}
