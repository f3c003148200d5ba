package service

import (
	"context"
	"testing"

	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpdateMetadataOnlyTouchesManualFields(t *testing.T) {
	deviceRepo := newMemDeviceRepo()
	svc := NewDeviceService(deviceRepo, zap.NewNop())
	deviceRepo.put(&domain.DeviceStatus{
		TenantID: "t1", DeviceID: "aabbcc112233", DeviceType: "tag", IsOnline: true,
	})

	name := "dairy shelf 3"
	err := svc.UpdateMetadata(context.Background(), UpdateMetadataRequest{
		TenantID: "t1", DeviceMac: "AA:BB:CC:11:22:33", Name: &name,
	})
	require.NoError(t, err)

	d, err := svc.GetDevice(context.Background(), "t1", "aabbcc112233")
	require.NoError(t, err)
	require.Equal(t, "dairy shelf 3", d.Name.String)
	require.False(t, d.Location.Valid)
	// 同步字段不受人工编辑影响
	require.True(t, d.IsOnline)
}

func TestUpdateMetadataValidation(t *testing.T) {
	svc := NewDeviceService(newMemDeviceRepo(), zap.NewNop())

	name := "x"
	err := svc.UpdateMetadata(context.Background(), UpdateMetadataRequest{
		TenantID: "t1", DeviceMac: "nope", Name: &name,
	})
	require.Error(t, err)

	err = svc.UpdateMetadata(context.Background(), UpdateMetadataRequest{
		TenantID: "t1", DeviceMac: "aabbcc112233",
	})
	require.Error(t, err, "empty update must be rejected")

	err = svc.UpdateMetadata(context.Background(), UpdateMetadataRequest{
		TenantID: "t1", DeviceMac: "aabbcc112233", Name: &name,
	})
	require.Error(t, err, "unknown device must be rejected")
}

func TestListDevicesScopedToTenant(t *testing.T) {
	deviceRepo := newMemDeviceRepo()
	svc := NewDeviceService(deviceRepo, zap.NewNop())
	deviceRepo.put(&domain.DeviceStatus{TenantID: "t1", DeviceID: "aabbcc112233"})
	deviceRepo.put(&domain.DeviceStatus{TenantID: "t2", DeviceID: "aabbcc112244"})

	devices, err := svc.ListDevices(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "aabbcc112233", devices[0].DeviceID)
}
