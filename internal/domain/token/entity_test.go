package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func grantAt(t *testing.T, typ Type) *GraceToken {
	t.Helper()
	tok, err := Grant("tok-1", "user-1", typ, "weekly quest reward", now, now.Add(DefaultExpiry))
	require.NoError(t, err)
	return tok
}

func TestGrant_Validation(t *testing.T) {
	_, err := Grant("", "user-1", TypeStreakSave, "r", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = Grant("tok-1", "user-1", "free_lunch", "r", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = Grant("tok-1", "user-1", TypeStreakSave, "r", now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestConsume_ExactlyOnce(t *testing.T) {
	tok := grantAt(t, TypeSessionExtension)

	cap1, err := tok.Consume(now.Add(time.Hour), "idle timeout forgiveness")
	require.NoError(t, err)
	assert.Equal(t, SessionExtensionMinutes, cap1.ExtensionMinutes)
	assert.True(t, tok.IsUsed())

	_, err = tok.Consume(now.Add(2*time.Hour), "again")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestConsume_LazyExpiry(t *testing.T) {
	tok := grantAt(t, TypeStreakSave)

	_, err := tok.Consume(now.Add(DefaultExpiry), "too late")
	assert.ErrorIs(t, err, shared.ErrExpired)
	assert.False(t, tok.IsUsed())
	assert.False(t, tok.IsActive(now.Add(DefaultExpiry)))
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, 1, grantAt(t, TypeStreakSave).Capability().FillDays)
	assert.True(t, grantAt(t, TypeQualityAdjustment).Capability().DropWorstQuality)
	assert.True(t, grantAt(t, TypeQuestRetry).Capability().RetryQuest)
	assert.Equal(t, SessionExtensionMinutes, grantAt(t, TypeSessionExtension).Capability().ExtensionMinutes)
}
