package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/domain"
)

// 本包测试用的内存仓储与厂家云桩。

type fixedStores struct {
	storeID string
	err     error
}

func (f *fixedStores) GetDefaultStoreID(ctx context.Context) (string, error) {
	return f.storeID, f.err
}

// --- 队列仓储 ---

type memQueueRepo struct {
	mu    sync.Mutex
	seq   int
	items []*domain.SyncQueueItem
}

func newMemQueueRepo() *memQueueRepo { return &memQueueRepo{} }

func (m *memQueueRepo) Enqueue(ctx context.Context, item *domain.SyncQueueItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *item
	cp.ItemID = fmt.Sprintf("item-%d", m.seq)
	cp.Status = domain.SyncStatusPending
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.items = append(m.items, &cp)
	return cp.ItemID, nil
}

func (m *memQueueRepo) ClaimNext(ctx context.Context, tenantID string, now time.Time) (*domain.SyncQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.SyncQueueItem
	for _, it := range m.items {
		if it.TenantID != tenantID || it.Status != domain.SyncStatusPending || it.ScheduledAt.After(now) {
			continue
		}
		if best == nil || it.ScheduledAt.Before(best.ScheduledAt) {
			best = it
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = domain.SyncStatusProcessing
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

func (m *memQueueRepo) get(itemID string) *domain.SyncQueueItem {
	for _, it := range m.items {
		if it.ItemID == itemID {
			return it
		}
	}
	return nil
}

func (m *memQueueRepo) MarkSuccess(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.get(itemID)
	if it == nil || it.Status != domain.SyncStatusProcessing {
		return fmt.Errorf("item not processing: %s", itemID)
	}
	it.Status = domain.SyncStatusSuccess
	return nil
}

func (m *memQueueRepo) MarkRetry(ctx context.Context, itemID string, retryCount int, scheduledAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.get(itemID)
	if it == nil || it.Status != domain.SyncStatusProcessing {
		return fmt.Errorf("item not processing: %s", itemID)
	}
	it.Status = domain.SyncStatusPending
	it.RetryCount = retryCount
	it.ScheduledAt = scheduledAt
	it.LastError = sql.NullString{String: lastError, Valid: true}
	return nil
}

func (m *memQueueRepo) MarkFailed(ctx context.Context, itemID string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.get(itemID)
	if it == nil || it.Status != domain.SyncStatusProcessing {
		return fmt.Errorf("item not processing: %s", itemID)
	}
	it.Status = domain.SyncStatusFailed
	it.LastError = sql.NullString{String: lastError, Valid: true}
	return nil
}

func (m *memQueueRepo) ResetFailed(ctx context.Context, tenantID string, itemIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range itemIDs {
		it := m.get(id)
		if it == nil || it.TenantID != tenantID || it.Status != domain.SyncStatusFailed {
			continue
		}
		it.Status = domain.SyncStatusPending
		it.RetryCount = 0
		it.ScheduledAt = time.Now()
		n++
	}
	return n, nil
}

func (m *memQueueRepo) CountByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, it := range m.items {
		if it.TenantID == tenantID {
			counts[it.Status]++
		}
	}
	return counts, nil
}

func (m *memQueueRepo) ListItems(ctx context.Context, tenantID string, status string, page, size int) ([]domain.SyncQueueItem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncQueueItem
	for _, it := range m.items {
		if it.TenantID != tenantID {
			continue
		}
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, len(out), nil
}

func (m *memQueueRepo) PurgeTerminal(ctx context.Context, horizon time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*domain.SyncQueueItem
	var purged int64
	for _, it := range m.items {
		terminal := it.Status == domain.SyncStatusSuccess || it.Status == domain.SyncStatusFailed
		if terminal && it.UpdatedAt.Before(horizon) {
			purged++
			continue
		}
		kept = append(kept, it)
	}
	m.items = kept
	return purged, nil
}

// --- 商品仓储 ---

type memProductsRepo struct {
	mu       sync.Mutex
	products map[string]*domain.Product // key: productID
}

func newMemProductsRepo() *memProductsRepo {
	return &memProductsRepo{products: map[string]*domain.Product{}}
}

func (m *memProductsRepo) put(p *domain.Product) { m.products[p.ProductID] = p }

func (m *memProductsRepo) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (m *memProductsRepo) GetByCloudGoodsID(ctx context.Context, tenantID, cloudGoodsID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.TenantID == tenantID && p.CloudGoodsID.Valid && p.CloudGoodsID.String == cloudGoodsID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memProductsRepo) ListProducts(ctx context.Context, tenantID string, productIDs []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	if len(productIDs) > 0 {
		for _, id := range productIDs {
			if p, ok := m.products[id]; ok && p.TenantID == tenantID {
				out = append(out, *p)
			}
		}
		return out, nil
	}
	for _, p := range m.products {
		if p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *memProductsRepo) SetCloudGoodsID(ctx context.Context, tenantID, productID, cloudGoodsID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.TenantID != tenantID {
		return sql.ErrNoRows
	}
	p.CloudGoodsID = sql.NullString{String: cloudGoodsID, Valid: true}
	return nil
}

// --- 价签影子仓储 ---

type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*domain.DeviceStatus // key: tenantID+"/"+deviceID

	bindingErr error // SetBinding 注入错误
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{devices: map[string]*domain.DeviceStatus{}}
}

func devKey(tenantID, deviceID string) string { return tenantID + "/" + deviceID }

func (m *memDeviceRepo) put(d *domain.DeviceStatus) {
	m.devices[devKey(d.TenantID, d.DeviceID)] = d
}

func (m *memDeviceRepo) GetByDeviceID(ctx context.Context, tenantID, deviceID string) (*domain.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[devKey(tenantID, deviceID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *memDeviceRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeviceStatus
	for _, d := range m.devices {
		if d.TenantID == tenantID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *memDeviceRepo) UpsertFromSync(ctx context.Context, d *domain.DeviceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := devKey(d.TenantID, d.DeviceID)
	if cur, ok := m.devices[key]; ok {
		cur.IsOnline = d.IsOnline
		cur.BatteryLevel = d.BatteryLevel
		cur.LastSyncAt = d.LastSyncAt
		cur.CloudStoreID = d.CloudStoreID
		cur.Bound = d.Bound
		cur.BoundGoodsID = d.BoundGoodsID
		return nil
	}
	cp := *d
	m.devices[key] = &cp
	return nil
}

func (m *memDeviceRepo) UpdateSyncState(ctx context.Context, tenantID, deviceID string, isOnline bool, batteryLevel *int, lastSyncAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[devKey(tenantID, deviceID)]
	if !ok {
		return sql.ErrNoRows
	}
	d.IsOnline = isOnline
	if batteryLevel != nil {
		d.BatteryLevel = sql.NullInt64{Int64: int64(*batteryLevel), Valid: true}
	}
	d.LastSyncAt = sql.NullTime{Time: lastSyncAt, Valid: true}
	return nil
}

func (m *memDeviceRepo) SetBinding(ctx context.Context, tenantID, deviceID string, bound bool, goodsID string, boundAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindingErr != nil {
		return m.bindingErr
	}
	d, ok := m.devices[devKey(tenantID, deviceID)]
	if !ok {
		d = &domain.DeviceStatus{TenantID: tenantID, DeviceID: deviceID, DeviceType: "tag"}
		m.devices[devKey(tenantID, deviceID)] = d
	}
	d.Bound = bound
	if bound {
		d.BoundGoodsID = sql.NullString{String: goodsID, Valid: true}
		d.BoundAt = sql.NullTime{Time: boundAt, Valid: true}
	} else {
		d.BoundGoodsID = sql.NullString{}
		d.BoundAt = sql.NullTime{}
	}
	return nil
}

func (m *memDeviceRepo) SetOnline(ctx context.Context, tenantID, deviceID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[devKey(tenantID, deviceID)]
	if !ok {
		return sql.ErrNoRows
	}
	d.IsOnline = online
	return nil
}

func (m *memDeviceRepo) UpdateMetadata(ctx context.Context, tenantID, deviceID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[devKey(tenantID, deviceID)]
	if !ok {
		return sql.ErrNoRows
	}
	if v, ok := payload["name"]; ok {
		d.Name = sql.NullString{String: v.(string), Valid: true}
	}
	if v, ok := payload["location"]; ok {
		d.Location = sql.NullString{String: v.(string), Valid: true}
	}
	return nil
}

// --- 补货请求仓储 ---

type memReplenishRepo struct {
	mu       sync.Mutex
	seq      int
	requests []*domain.ReplenishmentRequest
}

func newMemReplenishRepo() *memReplenishRepo { return &memReplenishRepo{} }

func (m *memReplenishRepo) CreateRequest(ctx context.Context, r *domain.ReplenishmentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *r
	cp.RequestID = fmt.Sprintf("req-%d", m.seq)
	m.requests = append(m.requests, &cp)
	return cp.RequestID, nil
}

func (m *memReplenishRepo) ExistsButtonRequestInWindow(ctx context.Context, tenantID, productID, deviceID string, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.TenantID != tenantID || r.ProductID != productID || r.RequestMethod != domain.RequestMethodButton {
			continue
		}
		if !r.SourceDeviceID.Valid || r.SourceDeviceID.String != deviceID {
			continue
		}
		if !r.CreatedAt.Before(start) && !r.CreatedAt.After(end) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memReplenishRepo) ListRequests(ctx context.Context, tenantID string, status string, page, size int) ([]domain.ReplenishmentRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReplenishmentRequest
	for _, r := range m.requests {
		if r.TenantID != tenantID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

// --- 用户仓储 ---

type memUsersRepo struct {
	actorID string
}

func (m *memUsersRepo) ResolveSystemActor(ctx context.Context, tenantID string) (string, error) {
	if m.actorID == "" {
		return "system-actor", nil
	}
	return m.actorID, nil
}

// --- 网关仓储 ---

type memGatewaysRepo struct {
	mu       sync.Mutex
	seq      int
	gateways map[string]*domain.Gateway // key: gatewayID

	createErr error // CreateGateway 注入错误
}

func newMemGatewaysRepo() *memGatewaysRepo {
	return &memGatewaysRepo{gateways: map[string]*domain.Gateway{}}
}

func (m *memGatewaysRepo) CreateGateway(ctx context.Context, g *domain.Gateway) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	m.seq++
	cp := *g
	cp.GatewayID = fmt.Sprintf("gw-%d", m.seq)
	cp.CreatedAt = time.Now()
	m.gateways[cp.GatewayID] = &cp
	return cp.GatewayID, nil
}

func (m *memGatewaysRepo) GetGateway(ctx context.Context, tenantID, gatewayID string) (*domain.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gateways[gatewayID]
	if !ok || g.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (m *memGatewaysRepo) GetGatewayByMac(ctx context.Context, tenantID, mac string) (*domain.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.gateways {
		if g.TenantID == tenantID && g.MacAddress == mac {
			cp := *g
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memGatewaysRepo) ListGateways(ctx context.Context, tenantID string) ([]domain.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Gateway
	for _, g := range m.gateways {
		if g.TenantID == tenantID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayID < out[j].GatewayID })
	return out, nil
}

func (m *memGatewaysRepo) DeleteGateway(ctx context.Context, tenantID, gatewayID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gateways[gatewayID]
	if !ok || g.TenantID != tenantID {
		return sql.ErrNoRows
	}
	delete(m.gateways, gatewayID)
	return nil
}

// --- 厂家云桩 ---

// fakeCloud 可注入错误的厂家云桩，记录调用留痕
type fakeCloud struct {
	mu    sync.Mutex
	calls []string

	createGoodsErr error
	createGoodsID  string
	updateGoodsErr error
	deleteGoodsErr error
	bindErr        error
	unbindErr      error
	addGatewayErr  error
	delGatewayErr  error
	wakeupErr      error
	buttonEvents   []cloud.ButtonEvent
	buttonErr      error
	bindings       map[string]*cloud.BindingInfo // key: mac
	checkErr       error
	batchFailures  []cloud.BatchBindFailure
	batchErr       error
	refreshErr     error
	gateways       []cloud.CloudGatewayInfo
	listGWErr      error
	tags           []cloud.CloudTag
	listTagsErr    error
}

func (f *fakeCloud) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCloud) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeCloud) CreateGoods(ctx context.Context, storeID, barcode, name, price string) (string, error) {
	f.record("createGoods:" + barcode)
	if f.createGoodsErr != nil {
		return "", f.createGoodsErr
	}
	if f.createGoodsID != "" {
		return f.createGoodsID, nil
	}
	return "cg-" + barcode, nil
}

func (f *fakeCloud) UpdateGoods(ctx context.Context, storeID, goodsID, name, price string) error {
	f.record("updateGoods:" + goodsID)
	return f.updateGoodsErr
}

func (f *fakeCloud) DeleteGoods(ctx context.Context, storeID, goodsID string) error {
	f.record("deleteGoods:" + goodsID)
	return f.deleteGoodsErr
}

func (f *fakeCloud) BindManual(ctx context.Context, storeID, mac, goodsID, templateID string) error {
	f.record("bindManual:" + mac)
	return f.bindErr
}

func (f *fakeCloud) BindAutomatic(ctx context.Context, storeID, mac, goodsID string) error {
	f.record("bindAuto:" + mac)
	return f.bindErr
}

func (f *fakeCloud) Unbind(ctx context.Context, storeID, mac string) error {
	f.record("unbind:" + mac)
	return f.unbindErr
}

func (f *fakeCloud) AddGateway(ctx context.Context, storeID, mac, name string) error {
	f.record("addGateway:" + mac)
	return f.addGatewayErr
}

func (f *fakeCloud) DeleteGateway(ctx context.Context, storeID, mac string) error {
	f.record("deleteGateway:" + mac)
	return f.delGatewayErr
}

func (f *fakeCloud) WakeupTags(ctx context.Context, storeID string, macs []string) error {
	f.record("wakeup")
	return f.wakeupErr
}

func (f *fakeCloud) GetButtonEvents(ctx context.Context, storeID string, start, end time.Time) ([]cloud.ButtonEvent, error) {
	f.record("getButtonEvents")
	if f.buttonErr != nil {
		return nil, f.buttonErr
	}
	var out []cloud.ButtonEvent
	for _, ev := range f.buttonEvents {
		if !ev.EventTime.Before(start) && !ev.EventTime.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCloud) CheckBinding(ctx context.Context, storeID, mac string) (*cloud.BindingInfo, error) {
	f.record("checkBinding:" + mac)
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	if info, ok := f.bindings[mac]; ok {
		return info, nil
	}
	return &cloud.BindingInfo{TagMac: mac, Bound: false}, nil
}

func (f *fakeCloud) BatchBind(ctx context.Context, storeID string, items []cloud.BatchBindItem) ([]cloud.BatchBindFailure, error) {
	f.record(fmt.Sprintf("batchBind:%d", len(items)))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.batchFailures, nil
}

func (f *fakeCloud) RefreshDisplays(ctx context.Context, storeID string, macs []string) error {
	f.record(fmt.Sprintf("refresh:%d", len(macs)))
	return f.refreshErr
}

func (f *fakeCloud) ListGateways(ctx context.Context, storeID string) ([]cloud.CloudGatewayInfo, error) {
	f.record("listGateways")
	if f.listGWErr != nil {
		return nil, f.listGWErr
	}
	return f.gateways, nil
}

func (f *fakeCloud) ListTags(ctx context.Context, storeID string, filters cloud.TagFilters) ([]cloud.CloudTag, int, error) {
	f.record(fmt.Sprintf("listTags:%d", filters.Page))
	if f.listTagsErr != nil {
		return nil, 0, f.listTagsErr
	}
	// 单页返回全部
	if filters.Page > 1 {
		return nil, len(f.tags), nil
	}
	return f.tags, len(f.tags), nil
}
