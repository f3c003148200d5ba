package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGatewayFixture(fc *fakeCloud) (*gatewayService, *memGatewaysRepo, *memDeviceRepo) {
	gatewaysRepo := newMemGatewaysRepo()
	deviceRepo := newMemDeviceRepo()
	svc := NewGatewayService(
		gatewaysRepo, deviceRepo,
		fc, &fixedStores{storeID: "store-1"},
		zap.NewNop(),
	).(*gatewayService)
	return svc, gatewaysRepo, deviceRepo
}

func TestRegisterGatewayNormalizesMac(t *testing.T) {
	fc := &fakeCloud{}
	svc, gatewaysRepo, _ := newGatewayFixture(fc)

	resp, err := svc.RegisterGateway(context.Background(), RegisterGatewayRequest{
		TenantID: "t1", Mac: "aa:bb:cc:11:22:33", Name: "entrance",
	})
	require.NoError(t, err)
	require.Equal(t, "AABBCC112233", resp.Mac)
	require.Equal(t, 1, fc.callCount("addGateway:AABBCC112233"))

	g, err := gatewaysRepo.GetGatewayByMac(context.Background(), "t1", "AABBCC112233")
	require.NoError(t, err)
	require.Equal(t, "entrance", g.Name)
}

func TestRegisterGatewayDuplicateIsConflict(t *testing.T) {
	fc := &fakeCloud{}
	svc, gatewaysRepo, _ := newGatewayFixture(fc)
	gatewaysRepo.createErr = &pq.Error{Code: "23505"}

	_, err := svc.RegisterGateway(context.Background(), RegisterGatewayRequest{
		TenantID: "t1", Mac: "aabbcc112233",
	})
	require.Error(t, err)
	require.True(t, cloud.IsConflict(err))
}

func TestRegisterGatewayCloudFailureAborts(t *testing.T) {
	fc := &fakeCloud{addGatewayErr: &cloud.TransientError{Op: "addGateway", Err: fmt.Errorf("503")}}
	svc, gatewaysRepo, _ := newGatewayFixture(fc)

	_, err := svc.RegisterGateway(context.Background(), RegisterGatewayRequest{
		TenantID: "t1", Mac: "aabbcc112233",
	})
	require.Error(t, err)

	gateways, err := gatewaysRepo.ListGateways(context.Background(), "t1")
	require.NoError(t, err)
	require.Empty(t, gateways)
}

func TestDeleteGatewayForceOverridesCloudFailure(t *testing.T) {
	fc := &fakeCloud{delGatewayErr: &cloud.TransientError{Op: "deleteGateway", Err: fmt.Errorf("503")}}
	svc, gatewaysRepo, _ := newGatewayFixture(fc)
	id, err := gatewaysRepo.CreateGateway(context.Background(), &domain.Gateway{
		TenantID: "t1", MacAddress: "AABBCC112233",
	})
	require.NoError(t, err)

	// 非 force：云端失败阻断本地删除
	err = svc.DeleteGateway(context.Background(), DeleteGatewayRequest{TenantID: "t1", GatewayID: id})
	require.Error(t, err)
	_, err = gatewaysRepo.GetGateway(context.Background(), "t1", id)
	require.NoError(t, err)

	// force：忽略云端失败
	err = svc.DeleteGateway(context.Background(), DeleteGatewayRequest{TenantID: "t1", GatewayID: id, Force: true})
	require.NoError(t, err)
	_, err = gatewaysRepo.GetGateway(context.Background(), "t1", id)
	require.Error(t, err)
}

// 云端清单的 MAC 书写格式不稳定：精确匹配 + 后缀模糊匹配，
// 匹配不到的本地网关按离线处理
func TestSyncGatewayStatusMacMatching(t *testing.T) {
	fc := &fakeCloud{gateways: []cloud.CloudGatewayInfo{
		{GatewayID: "g1", Mac: "aa-bb-cc-11-22-33", IsOnline: true},
		{GatewayID: "g2", Mac: "CC112244", IsOnline: true}, // 厂家只回了后缀
	}}
	svc, gatewaysRepo, deviceRepo := newGatewayFixture(fc)
	for _, mac := range []string{"AABBCC112233", "AABBCC112244", "AABBCC112255"} {
		_, err := gatewaysRepo.CreateGateway(context.Background(), &domain.Gateway{
			TenantID: "t1", MacAddress: mac,
		})
		require.NoError(t, err)
	}

	resp, err := svc.SyncGatewayStatus(context.Background(), SyncGatewayStatusRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Matched)
	require.Equal(t, 1, resp.Unmatched)
	require.Equal(t, 2, resp.Online)

	d1, err := deviceRepo.GetByDeviceID(context.Background(), "t1", "aabbcc112233")
	require.NoError(t, err)
	require.True(t, d1.IsOnline)
	require.Equal(t, "gateway", d1.DeviceType)

	d3, err := deviceRepo.GetByDeviceID(context.Background(), "t1", "aabbcc112255")
	require.NoError(t, err)
	require.False(t, d3.IsOnline)
}
