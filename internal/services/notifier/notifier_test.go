package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/fake"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/BearBump/PickupRelay/internal/services/composer"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const groupID = int64(-100)

type schedulerMock struct {
	mock.Mock
}

func (m *schedulerMock) ScheduleDelete(chatID int64, messageID int, after time.Duration) {
	m.Called(chatID, messageID, after)
}

type NotifierSuite struct {
	suite.Suite

	gw    *fake.Gateway
	reg   *registry.Registry
	sched *schedulerMock
	n     *Notifier
	req   models.PickupRequest
	cl    models.Claimant
}

func (s *NotifierSuite) SetupTest() {
	s.gw = fake.New()
	s.reg = registry.New(nil)
	s.sched = &schedulerMock{}
	s.n = New(s.gw, composer.New("pickup_bot", time.UTC, 15*time.Minute), s.reg, s.sched, groupID, 15*time.Minute)

	var err error
	s.req, err = s.reg.Create(models.PickupFields{
		Location:      "A-Block",
		Date:          "Thursday, 15 October",
		TimeWindow:    "14:00 - 16:00",
		ContactNumber: "+358 40 1234567",
	}, 15*time.Minute)
	s.Require().NoError(err)

	s.cl = models.Claimant{UserID: 42, ChatID: 42, DisplayName: "Anna", Username: "anna", TriggerMessageID: 5, RequestID: s.req.ID}
}

func (s *NotifierSuite) TestNotifyClaimant() {
	s.sched.On("ScheduleDelete", int64(42), 1001, 15*time.Minute).Once()

	s.Require().NoError(s.n.NotifyClaimant(context.Background(), s.cl, s.req))

	s.True(s.gw.WasDeleted(42, 5))
	private := s.gw.SentTo(42)
	s.Require().Len(private, 1)
	s.Contains(private[0].Text, "tel:+358401234567")

	group := s.gw.SentTo(groupID)
	s.Require().Len(group, 1)
	s.Contains(group[0].Text, "(@anna)")
	s.NotContains(group[0].Text, "1234567")

	got, err := s.reg.Get(s.req.ID)
	s.Require().NoError(err)
	s.Equal(models.PickupStatusClaimed, got.Status)
	s.sched.AssertExpectations(s.T())
}

func (s *NotifierSuite) TestNotifyClaimant_PrivateSendFails() {
	s.gw.FailSend(42, errors.New("bot was blocked by the user"))

	err := s.n.NotifyClaimant(context.Background(), s.cl, s.req)
	s.Require().Error(err)
	s.True(errors.Is(err, messenger.ErrDelivery))
	s.Empty(s.gw.SentTo(groupID))
	s.sched.AssertNotCalled(s.T(), "ScheduleDelete", mock.Anything, mock.Anything, mock.Anything)

	got, _ := s.reg.Get(s.req.ID)
	s.Equal(models.PickupStatusOpen, got.Status)
}

func (s *NotifierSuite) TestNotifyClaimant_GroupConfirmationIsBestEffort() {
	s.sched.On("ScheduleDelete", mock.Anything, mock.Anything, mock.Anything).Once()
	s.gw.FailSend(groupID, errors.New("chat not found"))
	s.gw.FailDelete(true)

	s.NoError(s.n.NotifyClaimant(context.Background(), s.cl, s.req))
	s.Len(s.gw.SentTo(42), 1)
}

func (s *NotifierSuite) TestNotifyDenial() {
	s.True(s.n.NotifyDenial(context.Background(), s.req))

	group := s.gw.SentTo(groupID)
	s.Require().Len(group, 1)
	s.Contains(group[0].Text, "no one has time")

	got, _ := s.reg.Get(s.req.ID)
	s.Equal(models.PickupStatusExpired, got.Status)
}

func (s *NotifierSuite) TestNotifyDenial_SendFails() {
	s.gw.FailSend(groupID, errors.New("chat not found"))
	s.False(s.n.NotifyDenial(context.Background(), s.req))
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func TestNew_DefaultRetention(t *testing.T) {
	n := New(fake.New(), nil, nil, nil, 0, 0)
	require.Equal(t, 15*time.Minute, n.retention)
}
