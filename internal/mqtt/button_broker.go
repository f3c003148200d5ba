package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/config"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"
	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// ReceivedMessage 厂家推送消息外层格式（数组元素）
type ReceivedMessage struct {
	DataKey   string          `json:"dataKey"` // buttonPress / connectionStatus
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ButtonBroker 厂家 MQTT 推送处理。
// 推送只作为触发信号：收到按钮消息后以消息时间为中心拉取一轮事件对账，
// 幂等性仍由去重窗口保障，轮询兜底不受影响。
type ButtonBroker struct {
	cfg        config.MQTTConfig
	tenantID   string
	reconciler service.EventReconciler
	deviceRepo repository.DeviceStatusRepo
	logger     *zap.Logger
}

// NewButtonBroker 创建 ButtonBroker
func NewButtonBroker(
	cfg config.MQTTConfig,
	tenantID string,
	reconciler service.EventReconciler,
	deviceRepo repository.DeviceStatusRepo,
	logger *zap.Logger,
) *ButtonBroker {
	return &ButtonBroker{
		cfg:        cfg,
		tenantID:   tenantID,
		reconciler: reconciler,
		deviceRepo: deviceRepo,
		logger:     logger,
	}
}

// Start 订阅厂家主题并阻塞到上下文取消
func (b *ButtonBroker) Start(ctx context.Context, client *Client) error {
	topic := b.cfg.Topic
	if topic == "" {
		return fmt.Errorf("mqtt topic not configured")
	}

	if err := client.Subscribe(topic, b.cfg.QoS, b.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	b.logger.Info("MQTT button broker started", zap.String("topic", topic))

	<-ctx.Done()
	if err := client.Unsubscribe(topic); err != nil {
		b.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	b.logger.Info("MQTT button broker stopped")
	return nil
}

// HandleMessage 处理一批推送消息；单条失败不中断其它条
func (b *ButtonBroker) HandleMessage(topic string, payload []byte) error {
	var messages []ReceivedMessage
	if err := json.Unmarshal(payload, &messages); err != nil {
		b.logger.Error("Failed to unmarshal MQTT message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	for i := range messages {
		if err := b.processMessage(&messages[i]); err != nil {
			b.logger.Error("Failed to process message",
				zap.String("data_key", messages[i].DataKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (b *ButtonBroker) processMessage(msg *ReceivedMessage) error {
	switch msg.DataKey {
	case "buttonPress":
		return b.handleButtonPress(msg)
	case "connectionStatus":
		return b.handleConnectionStatus(msg.Data)
	default:
		b.logger.Debug("Unhandled data key", zap.String("data_key", msg.DataKey))
		return nil
	}
}

// handleButtonPress 以推送时间为中心触发一轮事件对账
func (b *ButtonBroker) handleButtonPress(msg *ReceivedMessage) error {
	center := time.Now()
	if msg.Timestamp > 0 {
		center = time.UnixMilli(msg.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := b.reconciler.ReconcileButtonEvents(ctx, service.ReconcileRequest{
		TenantID: b.tenantID,
		Start:    center.Add(-5 * time.Minute),
		End:      center.Add(5 * time.Minute),
	})
	if err != nil {
		return fmt.Errorf("reconcile triggered by push failed: %w", err)
	}

	b.logger.Info("Push-triggered reconcile finished",
		zap.Int("fetched", resp.Fetched),
		zap.Int("processed", resp.Processed),
		zap.Int("skipped", resp.Skipped),
	)
	return nil
}

// handleConnectionStatus 价签上下线推送直接刷新影子在线位
func (b *ButtonBroker) handleConnectionStatus(data json.RawMessage) error {
	var status struct {
		Mac    string `json:"mac"`
		Online int    `json:"online"` // 厂家用 0/1
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to unmarshal connection status: %w", err)
	}

	deviceID := identity.NormalizeMacLower(status.Mac)
	if !identity.IsValidMac(deviceID) {
		return fmt.Errorf("invalid mac in connection status: %s", status.Mac)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.deviceRepo.SetOnline(ctx, b.tenantID, deviceID, status.Online == 1); err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}

	b.logger.Debug("Connection status updated",
		zap.String("device_id", deviceID),
		zap.Bool("online", status.Online == 1),
	)
	return nil
}
