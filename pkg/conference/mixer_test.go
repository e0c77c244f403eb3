package conference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixer_SelfExclusion(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "self", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{Name: "a", EnergyLevel: intPtr(0)})
	b, _ := addIdleMember(t, c, 2, JoinOptions{Name: "b", EnergyLevel: intPtr(0)})
	d, _ := addIdleMember(t, c, 3, JoinOptions{Name: "d", EnergyLevel: intPtr(0)})

	tone := toneFrame(c.samples, 8000, 1000, 8000)
	for tick := 0; tick < 5; tick++ {
		require.NoError(t, c.processInputFrame(a, tone))
		c.tickOnce()

		assert.True(t, isSilent(popOutput(t, c, a)), "участник слышит сам себя на тике %d", tick)
		assert.Equal(t, tone, popOutput(t, c, b))
		assert.Equal(t, tone, popOutput(t, c, d))
	}
}

func TestMixer_SumIsClampedPerListener(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "clamp", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})
	l, _ := addIdleMember(t, c, 3, JoinOptions{})

	pushInput(t, a, constFrame(c.samples, 30000))
	pushInput(t, b, constFrame(c.samples, 30000))
	c.tickOnce()

	// Сумма выходит за int16, но свой вклад вычитается до насыщения
	assert.Equal(t, constFrame(c.samples, 30000), popOutput(t, c, a))
	assert.Equal(t, constFrame(c.samples, 30000), popOutput(t, c, b))
	assert.Equal(t, constFrame(c.samples, 32767), popOutput(t, c, l))
}

func TestMixer_RelationshipPrecedence(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "rel", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{Name: "a"})
	m5, _ := addIdleMember(t, c, 5, JoinOptions{Name: "five"})
	m7, _ := addIdleMember(t, c, 7, JoinOptions{Name: "seven"})

	require.NoError(t, c.SetRelationship(a.id, WildcardID, false, true))
	require.NoError(t, c.SetRelationship(a.id, 5, true, true))
	assert.EqualValues(t, 2, c.relCount.Load())

	pushInput(t, m5, constFrame(c.samples, 1000))
	pushInput(t, m7, constFrame(c.samples, 300))
	c.tickOnce()

	assert.Equal(t, constFrame(c.samples, 1000), popOutput(t, c, a), "A слышит только участника 5")
	assert.Equal(t, constFrame(c.samples, 300), popOutput(t, c, m5))
	assert.Equal(t, constFrame(c.samples, 1000), popOutput(t, c, m7))
}

func TestMixer_RelationshipVetoFromSpeakerSide(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "veto", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})

	// Слушатель разрешает, говорящий запрещает: побеждает запрет
	require.NoError(t, c.SetRelationship(b.id, a.id, true, true))
	require.NoError(t, c.SetRelationship(a.id, b.id, true, false))

	pushInput(t, a, constFrame(c.samples, 500))
	c.tickOnce()
	assert.True(t, isSilent(popOutput(t, c, b)))

	require.NoError(t, c.ClearRelationship(a.id, b.id))
	pushInput(t, a, constFrame(c.samples, 500))
	c.tickOnce()
	popOutput(t, c, a)
	popOutput(t, c, a)
	assert.Equal(t, constFrame(c.samples, 500), popOutput(t, c, b))
}

func TestMixer_RelationshipCountFollowsMembers(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "relcount", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})
	require.NoError(t, c.SetRelationship(a.id, b.id, false, false))
	require.NoError(t, c.SetRelationship(a.id, 9, false, true))
	require.NoError(t, c.SetRelationship(a.id, 9, true, true))
	assert.EqualValues(t, 2, c.relCount.Load())

	err := c.ClearRelationship(a.id, 42)
	assert.True(t, HasErrorCode(err, ErrorCodeNotFound))

	require.NoError(t, c.DelMember(a))
	assert.EqualValues(t, 0, c.relCount.Load())

	err = c.SetRelationship(b.id, b.id, false, false)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidArgument))
}

// Неполный кадр дополняется нулями: слушатель получает только
// прочитанные отсчеты, а хвост прошлого кадра не повторяется.
func TestMixer_PartialFrameZeroPad(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "partial", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})

	pushInput(t, a, constFrame(c.samples, 900))
	c.tickOnce()
	popOutput(t, c, a)
	require.Equal(t, constFrame(c.samples, 900), popOutput(t, c, b))

	pushInput(t, a, constFrame(100, 400))
	c.tickOnce()

	assert.True(t, isSilent(popOutput(t, c, a)))
	out := popOutput(t, c, b)
	assert.Equal(t, constFrame(100, 400), out[:100])
	assert.True(t, isSilent(out[100:]), "хвост должен быть тишиной, а не остатком прошлого кадра")

	c.tickOnce()
	assert.True(t, isSilent(popOutput(t, c, a)))
	assert.True(t, isSilent(popOutput(t, c, b)))
}

func TestMixer_DeafMemberGetsNoMix(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "deaf", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{Deaf: true})

	pushInput(t, a, constFrame(c.samples, 100))
	c.tickOnce()

	b.audioOut.Lock()
	assert.Zero(t, b.outQueue.Len())
	b.audioOut.Unlock()

	require.NoError(t, c.UndeafMember(b.id))
	pushInput(t, a, constFrame(c.samples, 100))
	c.tickOnce()
	assert.Equal(t, constFrame(c.samples, 100), popOutput(t, c, b))
}

func TestMixer_OutputOverrunStopsOnlyThatMember(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	p := DefaultProfile()
	p.OutputQueueFrames = 2
	p.FlushBacklog = 2
	c := newIdleConference(t, reg, "overrun", p)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})

	c.tickOnce()
	c.tickOnce()
	popOutput(t, c, b)
	popOutput(t, c, b)
	c.tickOnce()

	require.Error(t, a.Err())
	assert.True(t, HasErrorCode(a.Err(), ErrorCodeQueueOverrun))
	assert.Equal(t, "NORMAL_TEMPORARY_FAILURE", string(a.HangupCause()))
	assert.NoError(t, b.Err())
	assert.False(t, c.IsDestructing())
}

func TestMixer_RecordingTapReceivesFullMix(t *testing.T) {
	rec := &memoryRecorders{}
	reg := newTestRegistry(t, Services{Recorders: rec})
	c := newIdleConference(t, reg, "rec", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})

	require.NoError(t, c.StartRecording("/tmp/rec.wav"))
	err := c.StartRecording("/tmp/rec.wav")
	assert.True(t, HasErrorCode(err, ErrorCodeAlreadyExists))

	pushInput(t, a, constFrame(c.samples, 100))
	pushInput(t, b, constFrame(c.samples, 200))
	c.tickOnce()

	tap := rec.tap("/tmp/rec.wav")
	require.NotNil(t, tap)
	require.Len(t, tap.frames, 1)
	assert.Equal(t, constFrame(c.samples, 300), tap.frames[0])

	n, err := c.StopRecording("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, tap.closed)
	assert.Empty(t, c.Recordings())
}

func TestMixer_DriftCorrectedUpdate(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "drift", nil)

	start := time.Now()
	c.lastMixAt = start

	c.mixUpdate(start.Add(10 * time.Millisecond))
	assert.EqualValues(t, 0, c.tickCount.Load(), "раньше интервала тик не выполняется")

	c.mixUpdate(start.Add(61 * time.Millisecond))
	assert.EqualValues(t, 3, c.tickCount.Load())
	assert.Equal(t, start.Add(60*time.Millisecond), c.lastMixAt)

	c.mixUpdate(start.Add(time.Second))
	assert.EqualValues(t, 3+maxCatchUpTicks, c.tickCount.Load(), "отставание ограничено")
	assert.Equal(t, start.Add(time.Second), c.lastMixAt)
}
