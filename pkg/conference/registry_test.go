package conference

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndFind(t *testing.T) {
	reg := newTestRegistry(t, Services{})

	c, err := reg.Create("room", "")
	require.NoError(t, err)
	assert.Equal(t, "room", c.Name())
	assert.NotEmpty(t, c.UUID())
	assert.Equal(t, 8000, c.Rate())

	found, err := reg.Find("room")
	require.NoError(t, err)
	assert.Same(t, c, found)

	_, err = reg.Create("room", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	same, err := reg.FindOrCreate("room", "")
	require.NoError(t, err)
	assert.Same(t, c, same)

	_, err = reg.Find("missing")
	assert.Equal(t, StatusNotFound, StatusOf(err))

	_, err = reg.Create("", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = reg.Create("other", "no-such-profile")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_MaxConferences(t *testing.T) {
	reg, err := NewRegistry(RegistryConfig{MaxConferences: 1, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	_, err = reg.Create("first", "")
	require.NoError(t, err)
	_, err = reg.Create("second", "")
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Equal(t, StatusMemoryError, StatusOf(err))
}

func TestRegistry_DestructingRoomIsEvicted(t *testing.T) {
	reg := newTestRegistry(t, Services{})

	old, err := reg.Create("room", "")
	require.NoError(t, err)
	old.Destroy("")

	_, err = reg.Find("room")
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, err := reg.FindOrCreate("room", "")
	require.NoError(t, err)
	assert.NotEqual(t, old.UUID(), fresh.UUID())

	waitClosed(t, old.Done(), "старая комната не остановилась")
	found, err := reg.Find("room")
	require.NoError(t, err)
	assert.Same(t, fresh, found, "остановка старой комнаты не удаляет новую")
}

func TestRegistry_Profiles(t *testing.T) {
	wide := DefaultProfile()
	wide.Rate = 16000
	reg, err := NewRegistry(RegistryConfig{
		Profiles: map[string]*Profile{"wideband": wide},
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	assert.Equal(t, []string{"default", "wideband"}, reg.ProfileNames())

	p, err := reg.Profile("wideband")
	require.NoError(t, err)
	assert.Equal(t, "wideband", p.Name)
	p.Rate = 8000
	again, _ := reg.Profile("wideband")
	assert.Equal(t, 16000, again.Rate, "профиль отдается копией")

	c, err := reg.Create("hd", "wideband")
	require.NoError(t, err)
	assert.Equal(t, 16000, c.Rate())
	assert.Equal(t, 320, c.samples)

	bad := DefaultProfile()
	bad.Interval = 15 * time.Millisecond
	_, err = NewRegistry(RegistryConfig{Profiles: map[string]*Profile{"bad": bad}})
	assert.Error(t, err)
}

func TestRegistry_ListAndMemberIDs(t *testing.T) {
	reg := newTestRegistry(t, Services{})
	for _, name := range []string{"b", "c", "a"} {
		_, err := reg.Create(name, "")
		require.NoError(t, err)
	}
	var names []string
	for _, c := range reg.List() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	first := reg.NextMemberID()
	assert.Equal(t, first+1, reg.NextMemberID())
	assert.NotZero(t, first)
}
