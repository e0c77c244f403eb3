package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInput_TalkDetection(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "talk", nil)
	ec := collectEvents(t, reg.Events(), actionFilter(ActionStartTalking, ActionStopTalking))

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	quiet := squareFrame(c.samples, 300)

	// Тихая речь выше порога: начало только после hangunder кадров
	for i := 0; i < c.profile.TalkHangunder-1; i++ {
		require.NoError(t, c.processInputFrame(a, quiet))
		assert.False(t, a.IsTalking(), "кадр %d", i)
	}
	require.NoError(t, c.processInputFrame(a, quiet))
	assert.True(t, a.IsTalking())

	// Окончание речи только после hangover кадров тишины
	silence := make([]int16, c.samples)
	for i := 0; i < c.profile.TalkHangover-1; i++ {
		require.NoError(t, c.processInputFrame(a, silence))
		require.True(t, a.IsTalking(), "кадр %d", i)
		resetInput(a)
	}
	require.NoError(t, c.processInputFrame(a, silence))
	assert.False(t, a.IsTalking())

	// Резкий скачок энергии включает речь сразу
	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 5000)))
	assert.True(t, a.IsTalking())

	assert.Eventually(t, func() bool {
		return ec.count(ActionStartTalking) == 2 && ec.count(ActionStopTalking) == 1
	}, eventWait, eventTick)
}

func TestInput_OnlyAcceptedAudioIsQueued(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "accept", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	queued := func() int {
		a.audioIn.Lock()
		defer a.audioIn.Unlock()
		return a.inQueue.Len()
	}

	// Шум ниже порога не попадает в очередь
	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 50)))
	assert.Zero(t, queued())

	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 4000)))
	assert.Equal(t, c.samples, queued())

	require.NoError(t, c.MuteMember(a.id))
	assert.Zero(t, queued(), "остаток очереди сбрасывается при отключении микрофона")
	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 4000)))
	assert.Zero(t, queued())
}

func TestInput_QueueOverrun(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "inoverrun", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{EnergyLevel: intPtr(0)})
	frame := squareFrame(c.samples, 1000)
	for i := 0; i < c.profile.InputQueueFrames; i++ {
		require.NoError(t, c.processInputFrame(a, frame))
	}
	err := c.processInputFrame(a, frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueOverrun)
}

func TestInput_MuteDetect(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "mutedetect", nil)
	ec := collectEvents(t, reg.Events(), actionFilter(ActionMuteDetect))

	a, _ := addIdleMember(t, c, 1, JoinOptions{Muted: true, MuteDetect: true})
	for i := 0; i < 3; i++ {
		require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 5000)))
	}
	assert.Eventually(t, func() bool { return ec.count(ActionMuteDetect) == 1 }, eventWait, eventTick)
}

func TestInput_WaitForModerator(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	p := DefaultProfile()
	p.WaitForModerator = true
	c := newIdleConference(t, reg, "waitmod", p)

	a, _ := addIdleMember(t, c, 1, JoinOptions{EnergyLevel: intPtr(0)})
	require.True(t, c.WaitingForModerator())
	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 1000)))
	a.audioIn.Lock()
	assert.Zero(t, a.inQueue.Len())
	a.audioIn.Unlock()

	addIdleMember(t, c, 2, JoinOptions{Moderator: true})
	assert.False(t, c.WaitingForModerator())
	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 1000)))
	a.audioIn.Lock()
	assert.Equal(t, c.samples, a.inQueue.Len())
	a.audioIn.Unlock()
}

func TestInput_FloorHolderStability(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "floor", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{Name: "a"})
	b, _ := addIdleMember(t, c, 2, JoinOptions{Name: "b"})

	loud := squareFrame(c.samples, 3000)
	silence := make([]int16, c.samples)
	feed := func(m *Member, frame []int16) {
		require.NoError(t, c.processInputFrame(m, frame))
		resetInput(m)
	}

	feed(a, loud)
	require.EqualValues(t, a.id, c.FloorHolder())

	// Оба говорят громко: держатель не меняется
	for i := 0; i < 20; i++ {
		feed(a, loud)
		feed(b, loud)
		require.EqualValues(t, a.id, c.FloorHolder(), "кадр %d", i)
	}

	// Держатель затихает, но еще считается говорящим
	switched := false
	for i := 0; i < c.profile.TalkHangover-1; i++ {
		feed(a, silence)
		holderIIR := a.ScoreIIR()
		feed(b, loud)
		if c.FloorHolder() == b.id {
			switched = true
			assert.True(t, a.IsTalking(), "слово передано по громкости, пока держатель говорит")
			assert.Less(t, holderIIR, ScoreIIRSpeakingMin)
			assert.Greater(t, b.ScoreIIR(), ScoreIIRSpeakingMax)
			break
		}
		assert.GreaterOrEqual(t, holderIIR, ScoreIIRSpeakingMin, "держатель сменился при iir %d", holderIIR)
	}
	assert.True(t, switched)
}

func TestInput_FloorReleasedWhenHolderLeaves(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	c := newIdleConference(t, reg, "floorleave", nil)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{})
	d, _ := addIdleMember(t, c, 3, JoinOptions{})

	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 3000)))
	require.NoError(t, c.processInputFrame(b, squareFrame(c.samples, 3000)))
	require.EqualValues(t, a.id, c.FloorHolder())

	require.NoError(t, c.DelMember(a))
	assert.EqualValues(t, b.id, c.FloorHolder())

	require.NoError(t, c.DelMember(b))
	assert.Zero(t, c.FloorHolder())
	assert.Equal(t, 1, c.Count())
	assert.True(t, d.InTree())
}

func TestInput_VideoFloorOnly(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	p := DefaultProfile()
	p.VideoFloorOnly = true
	c := newIdleConference(t, reg, "video", p)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	b, _ := addIdleMember(t, c, 2, JoinOptions{HasVideo: true})

	require.NoError(t, c.processInputFrame(a, squareFrame(c.samples, 3000)))
	assert.Zero(t, c.FloorHolder())
	require.NoError(t, c.processInputFrame(b, squareFrame(c.samples, 3000)))
	assert.EqualValues(t, b.id, c.FloorHolder())
}

func TestInput_AGCConvergence(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	p := DefaultProfile()
	p.AGCLevel = DefaultAGCLevel
	c := newIdleConference(t, reg, "agc", p)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	frame := squareFrame(c.samples, 4000)
	period := c.profile.agcPeriodFrames()

	prev := 0
	for i := 0; i < 60*period; i++ {
		require.NoError(t, c.processInputFrame(a, frame))
		resetInput(a)

		_, _, _, vol := a.levels()
		require.LessOrEqual(t, vol, prev, "смещение AGC должно меняться монотонно")
		require.GreaterOrEqual(t, vol, prev-1, "не больше одного шага за период")
		prev = vol
	}

	assert.Negative(t, prev)
	score := int(a.score.Load())
	assert.InDelta(t, DefaultAGCLevel, score, AGCDeadband, "средняя энергия вернулась в мертвую зону")
}

func TestInput_AGCRejectsSpikes(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	p := DefaultProfile()
	p.AGCLevel = DefaultAGCLevel
	c := newIdleConference(t, reg, "agcspike", p)

	a, _ := addIdleMember(t, c, 1, JoinOptions{})
	period := c.profile.agcPeriodFrames()
	low := squareFrame(c.samples, 1100)
	high := squareFrame(c.samples, 6000)

	// Чередование выбросов не дает периоду завершиться
	for i := 0; i < 4*period; i++ {
		frame := low
		if i%2 == 1 {
			frame = high
		}
		require.NoError(t, c.processInputFrame(a, frame))
		resetInput(a)
	}
	_, _, _, vol := a.levels()
	assert.Zero(t, vol)
}
