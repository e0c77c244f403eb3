package conference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigitMatcher_ExactAndPrefix(t *testing.T) {
	dm := NewDigitMatcher([]ControlBinding{
		{Digits: "1", Action: ControlMute},
		{Digits: "12", Action: ControlLock},
		{Digits: "3", Action: ControlHangup},
	}, 300*time.Millisecond)
	now := time.Now()

	fired, res := dm.Feed('3', now)
	assert.Equal(t, MatchExact, res)
	require.Len(t, fired, 1)
	assert.Equal(t, ControlHangup, fired[0].Action)

	fired, res = dm.Feed('1', now)
	assert.Equal(t, MatchPartial, res)
	assert.Empty(t, fired)

	fired, res = dm.Feed('2', now.Add(100*time.Millisecond))
	assert.Equal(t, MatchExact, res)
	require.Len(t, fired, 1)
	assert.Equal(t, ControlLock, fired[0].Action)
	assert.Empty(t, dm.Pending())
}

func TestDigitMatcher_Timeout(t *testing.T) {
	dm := NewDigitMatcher([]ControlBinding{
		{Digits: "1", Action: ControlMute},
		{Digits: "12", Action: ControlLock},
	}, 300*time.Millisecond)
	now := time.Now()

	dm.Feed('1', now)
	assert.Nil(t, dm.Poll(now.Add(100*time.Millisecond)))
	b := dm.Poll(now.Add(300 * time.Millisecond))
	require.NotNil(t, b)
	assert.Equal(t, ControlMute, b.Action)

	// Устаревший буфер разрешается при следующей цифре
	dm.Feed('1', now)
	fired, res := dm.Feed('1', now.Add(time.Second))
	assert.Equal(t, MatchPartial, res)
	require.Len(t, fired, 1)
	assert.Equal(t, ControlMute, fired[0].Action)
	assert.Equal(t, "1", dm.Pending())
}

func TestDigitMatcher_NoMatch(t *testing.T) {
	dm := NewDigitMatcher(DefaultCallerControls(), 0)
	fired, res := dm.Feed('D', time.Now())
	assert.Equal(t, MatchNone, res)
	assert.Empty(t, fired)
	assert.Empty(t, dm.Pending())
}

func TestControlBinding_Validate(t *testing.T) {
	assert.NoError(t, ControlBinding{Digits: "*9", Action: ControlEnergyUp}.Validate())
	assert.Error(t, ControlBinding{Digits: "", Action: ControlMute}.Validate())
	assert.Error(t, ControlBinding{Digits: "x", Action: ControlMute}.Validate())
	assert.Error(t, ControlBinding{Digits: "123456789", Action: ControlMute}.Validate())
	assert.Error(t, ControlBinding{Digits: "1", Action: "dance"}.Validate())
	assert.Error(t, ControlBinding{Digits: "1", Action: ControlTransfer}.Validate())
	assert.NoError(t, ControlBinding{Digits: "1", Action: ControlTransfer, Data: "conference:b"}.Validate())

	for _, b := range DefaultModeratorControls() {
		assert.NoError(t, b.Validate(), b.Digits)
	}
}
