package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wechat-bridge/domain"
	"wechat-bridge/errors"
	"wechat-bridge/mocks"
	"wechat-bridge/repositories"
)

func Test_Handshake_Retries_After_Wrong_Domain_Bounce(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	protocol := mocks.NewMockWebProtocolClient(ctrl)
	service := newTestService(t, protocol)

	protocol.EXPECT().GetChallenge(gomock.Any()).
		Return(domain.Challenge{ID: "c1", QRData: "qr", IssuedAt: time.Now()}, nil).
		Times(2)
	protocol.EXPECT().AwaitScan(gomock.Any(), gomock.Any()).
		Return(domain.SessionPrecursor{
			RedirectURI:   "https://wx.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage",
			SelfSessionID: "@self",
		}, nil).
		Times(2)

	// First init bounces with a stale precursor, second one succeeds
	var inits int32
	protocol.EXPECT().InitSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.SessionPrecursor) (domain.SessionToken, error) {
			if atomic.AddInt32(&inits, 1) == 1 {
				return "", errors.ErrSessionInvalid
			}
			return "token", nil
		}).
		Times(2)
	protocol.EXPECT().FetchContacts(gomock.Any(), domain.SessionToken("token")).
		Return(nil, nil).
		Times(1)
	protocol.EXPECT().LongPoll(gomock.Any(), domain.SessionToken("token")).
		DoAndReturn(func(ctx context.Context, _ domain.SessionToken) (domain.EventBatch, error) {
			<-ctx.Done()
			return domain.EventBatch{}, ctx.Err()
		}).
		AnyTimes()
	protocol.EXPECT().LogoutRaw(gomock.Any(), domain.SessionToken("token")).
		Return(nil).
		Times(1)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	self, err := service.Login(ctx, domain.LoginOptions{AgentName: "tester", RememberLoginVariant: true})
	req.NoError(err)
	req.Equal(domain.SessionID("@self"), self.SessionID)
	req.Equal(domain.Ready, service.Phase())

	// The bounce left the alternate-domain marker in the durable store
	value, found, err := service.store.Get(repositories.FlagKey(AlternateLoginFlag))
	req.NoError(err)
	req.True(found)
	req.Equal("true", value)

	req.NoError(service.Logout(context.Background()))
}

func Test_Handshake_Bounce_Without_OptIn_Leaves_No_Flag(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	protocol := mocks.NewMockWebProtocolClient(ctrl)
	service := newTestService(t, protocol)

	protocol.EXPECT().GetChallenge(gomock.Any()).
		Return(domain.Challenge{ID: "c1", QRData: "qr", IssuedAt: time.Now()}, nil).
		Times(2)
	protocol.EXPECT().AwaitScan(gomock.Any(), gomock.Any()).
		Return(domain.SessionPrecursor{SelfSessionID: "@self"}, nil).
		Times(2)

	var inits int32
	protocol.EXPECT().InitSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.SessionPrecursor) (domain.SessionToken, error) {
			if atomic.AddInt32(&inits, 1) == 1 {
				return "", errors.ErrSessionInvalid
			}
			return "token", nil
		}).
		Times(2)
	protocol.EXPECT().FetchContacts(gomock.Any(), domain.SessionToken("token")).
		Return(nil, nil).
		Times(1)
	protocol.EXPECT().LongPoll(gomock.Any(), domain.SessionToken("token")).
		DoAndReturn(func(ctx context.Context, _ domain.SessionToken) (domain.EventBatch, error) {
			<-ctx.Done()
			return domain.EventBatch{}, ctx.Err()
		}).
		AnyTimes()
	protocol.EXPECT().LogoutRaw(gomock.Any(), domain.SessionToken("token")).
		Return(nil).
		Times(1)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	_, err := service.Login(ctx, domain.LoginOptions{AgentName: "tester"})
	req.NoError(err)

	_, found, err := service.store.Get(repositories.FlagKey(AlternateLoginFlag))
	req.NoError(err)
	req.False(found)

	req.NoError(service.Logout(context.Background()))
}
