package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/config"
	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		DedupWindow:   60 * time.Second,
		MaxRetries:    3,
		BackoffBase:   30 * time.Second,
		BackoffCap:    30 * time.Minute,
		RetentionDays: 30,
	}
}

func newQueueFixture(fc *fakeCloud) (*syncQueueService, *memQueueRepo, *memProductsRepo, *memDeviceRepo) {
	queueRepo := newMemQueueRepo()
	productsRepo := newMemProductsRepo()
	deviceRepo := newMemDeviceRepo()
	svc := NewSyncQueueService(
		queueRepo, productsRepo, deviceRepo,
		fc, &fixedStores{storeID: "store-1"},
		testSyncConfig(), zap.NewNop(),
	).(*syncQueueService)
	return svc, queueRepo, productsRepo, deviceRepo
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, _, _ := newQueueFixture(&fakeCloud{})

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpCreate,
	})
	require.Error(t, err)

	_, err = svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: "upsert",
	})
	require.Error(t, err)
}

func TestDispatchGoodsCreateBackfillsCloudID(t *testing.T) {
	fc := &fakeCloud{createGoodsID: "cg-100"}
	svc, queueRepo, productsRepo, _ := newQueueFixture(fc)
	productsRepo.put(&domain.Product{ProductID: "p1", TenantID: "t1", Name: "milk", Barcode: "693", Price: "3.50"})

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpCreate,
	})
	require.NoError(t, err)

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Processed)
	require.Equal(t, 1, resp.Succeeded)

	p, err := productsRepo.GetProduct(context.Background(), "t1", "p1")
	require.NoError(t, err)
	require.True(t, p.CloudGoodsID.Valid)
	require.Equal(t, "cg-100", p.CloudGoodsID.String)

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.SyncStatusSuccess])
}

func TestDispatchGoodsUpdateUsesExistingCloudID(t *testing.T) {
	fc := &fakeCloud{}
	svc, _, productsRepo, _ := newQueueFixture(fc)
	productsRepo.put(&domain.Product{
		ProductID: "p1", TenantID: "t1", Name: "milk", Price: "3.60",
		CloudGoodsID: sql.NullString{String: "cg-9", Valid: true},
	})

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpUpdate,
	})
	require.NoError(t, err)

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Succeeded)
	require.Equal(t, 1, fc.callCount("updateGoods:cg-9"))
	require.Equal(t, 0, fc.callCount("createGoods"))
}

// 瞬态失败重试 MaxRetries 次后进入 failed 终态
func TestDispatchTransientExhaustsToFailed(t *testing.T) {
	fc := &fakeCloud{createGoodsErr: &cloud.TransientError{Op: "createGoods", Err: fmt.Errorf("503")}}
	svc, queueRepo, productsRepo, _ := newQueueFixture(fc)
	productsRepo.put(&domain.Product{ProductID: "p1", TenantID: "t1", Name: "milk", Barcode: "693", Price: "3.50"})

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpCreate,
	})
	require.NoError(t, err)

	// 往后拨时钟跳过退避等待，逐轮派发直到终态
	clock := time.Now()
	svc.now = func() time.Time { return clock }
	for i := 0; i < 5; i++ {
		clock = clock.Add(time.Hour)
		if _, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.SyncStatusFailed])
	require.Equal(t, 0, counts[domain.SyncStatusPending])
	// 首轮 + 重试到 MaxRetries-1 共 2 次重试，执行 3 次
	require.Equal(t, 3, fc.callCount("createGoods"))
}

// 认证失败不消耗重试额度，且中止本轮派发
func TestDispatchAuthFailureStopsRun(t *testing.T) {
	fc := &fakeCloud{createGoodsErr: &cloud.AuthError{Msg: "token rejected"}}
	svc, queueRepo, productsRepo, _ := newQueueFixture(fc)
	productsRepo.put(&domain.Product{ProductID: "p1", TenantID: "t1", Name: "a", Barcode: "1", Price: "1"})
	productsRepo.put(&domain.Product{ProductID: "p2", TenantID: "t1", Name: "b", Barcode: "2", Price: "2"})

	for _, id := range []string{"p1", "p2"} {
		_, err := svc.Enqueue(context.Background(), EnqueueRequest{
			TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: id, Operation: domain.SyncOpCreate,
		})
		require.NoError(t, err)
	}

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	// 第一项触发认证失败后第二项不再派发
	require.Equal(t, 1, resp.Processed)
	require.Equal(t, 1, resp.Retried)

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 2, counts[domain.SyncStatusPending])
	items, _, err := queueRepo.ListItems(context.Background(), "t1", domain.SyncStatusPending, 1, 10)
	require.NoError(t, err)
	for _, it := range items {
		require.Equal(t, 0, it.RetryCount, "auth failure must not consume a retry attempt")
	}
}

// 永久性失败（校验类）不重试，直接 failed
func TestDispatchPermanentFailureSkipsRetry(t *testing.T) {
	svc, queueRepo, _, _ := newQueueFixture(&fakeCloud{})

	// goods delete 缺 cloud_goods_id 属于校验失败
	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpDelete,
	})
	require.NoError(t, err)

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Failed)

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.SyncStatusFailed])
}

// 云端已删除的 goods delete 视为幂等成功
func TestDispatchGoodsDeleteNotFoundIsSuccess(t *testing.T) {
	fc := &fakeCloud{deleteGoodsErr: &cloud.NotFoundError{Resource: "goods", ID: "cg-9"}}
	svc, queueRepo, _, _ := newQueueFixture(fc)

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1", Operation: domain.SyncOpDelete,
		Payload: map[string]any{"cloud_goods_id": "cg-9"},
	})
	require.NoError(t, err)

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Succeeded)

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.SyncStatusSuccess])
}

func TestDispatchTagBindUpdatesShadow(t *testing.T) {
	fc := &fakeCloud{}
	svc, _, _, deviceRepo := newQueueFixture(fc)

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: "t1", EntityType: domain.SyncEntityTag, EntityID: "AA:BB:CC:11:22:33", Operation: domain.SyncOpBind,
		Payload: map[string]any{"goods_id": "cg-5"},
	})
	require.NoError(t, err)

	resp, err := svc.Dispatch(context.Background(), DispatchRequest{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Succeeded)
	require.Equal(t, 1, fc.callCount("bindAuto:aabbcc112233"))

	d, err := deviceRepo.GetByDeviceID(context.Background(), "t1", "aabbcc112233")
	require.NoError(t, err)
	require.True(t, d.Bound)
	require.Equal(t, "cg-5", d.BoundGoodsID.String)
}

func TestRetryFailedResetsToPending(t *testing.T) {
	svc, queueRepo, _, _ := newQueueFixture(&fakeCloud{})

	id, err := queueRepo.Enqueue(context.Background(), &domain.SyncQueueItem{
		TenantID: "t1", EntityType: domain.SyncEntityGoods, EntityID: "p1",
		Operation: domain.SyncOpDelete, MaxRetries: 3, ScheduledAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = queueRepo.ClaimNext(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	require.NoError(t, queueRepo.MarkFailed(context.Background(), id, "boom"))

	resp, err := svc.RetryFailed(context.Background(), RetryFailedRequest{TenantID: "t1", ItemIDs: []string{id}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Reset)

	counts, err := queueRepo.CountByStatus(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, counts[domain.SyncStatusPending])
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 30 * time.Second
	limit := 30 * time.Minute
	require.Equal(t, 30*time.Second, backoff(base, limit, 1))
	require.Equal(t, 60*time.Second, backoff(base, limit, 2))
	require.Equal(t, 120*time.Second, backoff(base, limit, 3))
	require.Equal(t, limit, backoff(base, limit, 20))
}
