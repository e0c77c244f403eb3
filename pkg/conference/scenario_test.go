package conference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

// Test100Suite сквозной сценарий двух участников в комнате test100
type Test100Suite struct {
	suite.Suite

	reg  *Registry
	room *Conference
	a    *Member
	b    *Member
	tone []int16
}

func (s *Test100Suite) SetupTest() {
	reg, err := NewRegistry(RegistryConfig{Logger: testLogger()})
	s.Require().NoError(err)
	s.reg = reg

	p := DefaultProfile()
	s.Require().Equal(8000, p.Rate)
	room, err := newConference(reg, "test100", p)
	s.Require().NoError(err)
	s.room = room

	s.a, _ = newTestMember(room, 1, JoinOptions{Name: "A", EnergyLevel: intPtr(0)})
	s.b, _ = newTestMember(room, 2, JoinOptions{Name: "B", EnergyLevel: intPtr(0)})
	s.Require().NoError(room.AddMember(s.a))
	s.Require().NoError(room.AddMember(s.b))

	s.tone = toneFrame(room.samples, p.Rate, 1000, 8000)
}

func (s *Test100Suite) TearDownTest() {
	s.Require().NoError(s.reg.Shutdown(context.Background()))
}

// replay подает тон в A на один тик и возвращает выходы A и B
func (s *Test100Suite) replay() (outA, outB []int16) {
	s.Require().NoError(s.room.processInputFrame(s.a, s.tone))
	s.room.tickOnce()
	return popOutput(s.T(), s.room, s.a), popOutput(s.T(), s.room, s.b)
}

func (s *Test100Suite) TestToneReachesOnlyOtherMember() {
	outA, outB := s.replay()
	s.Equal(s.tone, outB)
	s.True(isSilent(outA))
}

func (s *Test100Suite) TestListenerSideNoHear() {
	_, outB := s.replay()
	s.Require().Equal(s.tone, outB)

	s.Require().NoError(s.room.SetRelationship(s.b.ID(), s.a.ID(), false, true))
	outA, outB := s.replay()
	s.True(isSilent(outB), "B больше не слышит A")
	s.True(isSilent(outA))

	rels, err := s.room.Relationships(s.b.ID())
	s.Require().NoError(err)
	s.Equal([]Relationship{{ID: s.a.ID(), CanHear: false, CanSpeak: true}}, rels)
}

func (s *Test100Suite) TestSpeakerSideNoSpeak() {
	s.Require().NoError(s.room.SetRelationship(s.a.ID(), s.b.ID(), true, false))
	_, outB := s.replay()
	s.True(isSilent(outB))

	s.Require().NoError(s.room.ClearRelationship(s.a.ID(), s.b.ID()))
	_, outB = s.replay()
	s.Equal(s.tone, outB)
}

func (s *Test100Suite) TestMutedSpeakerNotMixed() {
	s.Require().NoError(s.room.MuteMember(s.a.ID()))
	_, outB := s.replay()
	s.True(isSilent(outB))

	s.Require().NoError(s.room.UnmuteMember(s.a.ID()))
	_, outB = s.replay()
	s.Equal(s.tone, outB)
}

func TestTest100Suite(t *testing.T) {
	suite.Run(t, new(Test100Suite))
}
