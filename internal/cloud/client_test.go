package cloud_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticTokenSource 测试用固定 token 来源
type staticTokenSource struct {
	token       string
	invalidated bool
}

func (s *staticTokenSource) GetToken(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokenSource) Invalidate(ctx context.Context)              { s.invalidated = true }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*cloud.Client, *staticTokenSource) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := cloud.NewClient(srv.URL, 5*time.Second, zap.NewNop())
	ts := &staticTokenSource{token: "tok-test"}
	c.UseTokenSource(ts)
	return c, ts
}

// writeEnvelope 写厂家响应包；显式设置 Content-Type，否则 resty 不做反序列化
func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(map[string]any{"code": code, "message": msg, "data": json.RawMessage(raw)})
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func TestClient_Login(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UnixMilli()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/login", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "merchant", body["account"])
		writeEnvelope(w, 200, "ok", map[string]any{
			"token":      "tok-live",
			"expiryTime": expiry,
			"storeId":    "store-9",
		})
	})

	res, err := c.Login(context.Background(), "merchant", "md5hash")
	require.NoError(t, err)
	require.Equal(t, "tok-live", res.Token)
	require.Equal(t, "store-9", res.StoreID)
	require.WithinDuration(t, time.UnixMilli(expiry), res.ExpiresAt, time.Second)
}

func TestClient_LoginRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1002, "account or password wrong", nil)
	})

	_, err := c.Login(context.Background(), "merchant", "badhash")
	require.Error(t, err)
	require.True(t, cloud.IsAuth(err))
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListGateways(context.Background(), "store-1")
	require.Error(t, err)
	require.True(t, cloud.IsTransient(err))
}

func TestClient_RateLimitIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.Unbind(context.Background(), "store-1", "aabbcc112233")
	require.Error(t, err)
	require.True(t, cloud.IsTransient(err))
}

func TestClient_TokenExpiredInvalidates(t *testing.T) {
	c, ts := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1001, "token expired", nil)
	})

	err := c.RefreshDisplays(context.Background(), "store-1", nil)
	require.Error(t, err)
	require.True(t, cloud.IsAuth(err))
	require.True(t, ts.invalidated)
}

func TestClient_BusinessNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1404, "esl not exist", nil)
	})

	_, err := c.GetTag(context.Background(), "aabbcc112233")
	require.Error(t, err)
	require.True(t, cloud.IsNotFound(err))
}

func TestClient_DuplicateIsConflict(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1409, "gateway already exists", nil)
	})

	err := c.AddGateway(context.Background(), "store-1", "AABBCC112233", "gw-1")
	require.Error(t, err)
	require.True(t, cloud.IsConflict(err))
}

func TestClient_ListTagsConvertsSentinels(t *testing.T) {
	battery := 87
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tok-test", r.Header.Get("Authorization"))
		writeEnvelope(w, 200, "ok", map[string]any{
			"total": 2,
			"items": []map[string]any{
				{"mac": "aabbcc112233", "storeId": "store-1", "bind": "1", "goodsId": "g-1", "demoId": "d-1", "battery": battery, "isOnline": 1, "firmwareType": "sleep", "lastSeen": time.Now().UnixMilli()},
				{"mac": "aabbcc112244", "storeId": "store-1", "bind": "0", "isOnline": 0},
			},
		})
	})

	tags, total, err := c.ListTags(context.Background(), "store-1", cloud.TagFilters{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, tags, 2)

	// "1"/"0" 和 0/1 哨兵编码在边界完成转换
	require.True(t, tags[0].Bound)
	require.True(t, tags[0].IsOnline)
	require.Equal(t, 87, tags[0].BatteryLevel)
	require.Equal(t, "g-1", tags[0].BoundGoodsID)

	require.False(t, tags[1].Bound)
	require.False(t, tags[1].IsOnline)
	require.Equal(t, -1, tags[1].BatteryLevel) // battery 缺省
}

func TestClient_GetButtonEvents(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotZero(t, body["startTime"])
		require.NotZero(t, body["endTime"])
		writeEnvelope(w, 200, "ok", []map[string]any{
			{"rowId": "r1", "mac": "aabbcc112233", "goodsId": "g-1", "gatewayMac": "ddeeff112233", "createTime": now.UnixMilli()},
		})
	})

	events, err := c.GetButtonEvents(context.Background(), "store-1", now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "aabbcc112233", events[0].TagMac)
	require.Equal(t, now.UnixMilli(), events[0].EventTime.UnixMilli())
}

func TestClient_ValidationRejectedLocally(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the cloud")
	})

	err := c.ImportTags(context.Background(), "store-1", nil)
	require.Error(t, err)
	require.True(t, cloud.IsValidation(err))
}
