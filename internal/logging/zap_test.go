package logging

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestZapLogger_FieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewZapLogger(zap.New(core)).With("component", "hub")

	ctx := context.Background()
	log.Debug(ctx, "d")
	log.Info(ctx, "i", "k", "v")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	entries := logs.All()
	assert.Len(t, entries, 4)
	assert.Equal(t, "i", entries[1].Message)
	fields := entries[1].ContextMap()
	assert.Equal(t, "v", fields["k"])
	assert.Equal(t, "hub", fields["component"])
}
