package portal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/smsportal/pkg/httpclient"
)

// Notifier はユーザーの電話番号へメッセージを届ける。
type Notifier interface {
	Send(ctx context.Context, phone, message string) error
}

// SMSNotifier はSMSゲートウェイのAPIを通じてメッセージを送信する。
type SMSNotifier struct {
	client *httpclient.Client
}

// NewSMSNotifier はSMSゲートウェイのベースURLとAPIキーからNotifierを生成する。
func NewSMSNotifier(baseURL, apiKey string) *SMSNotifier {
	return &SMSNotifier{client: httpclient.New(baseURL, httpclient.WithAPIKey(apiKey))}
}

// smsMessageRequest はSMSゲートウェイへの送信リクエスト。
type smsMessageRequest struct {
	// To は宛先の電話番号。
	To string `json:"to"`
	// Body はメッセージ本文。
	Body string `json:"body"`
}

// Send はNotifierを実装する。
func (n *SMSNotifier) Send(ctx context.Context, phone, message string) error {
	if phone == "" {
		return errors.New("宛先の電話番号が登録されていません")
	}
	if err := n.client.PostJSON(ctx, "/api/v1/messages", smsMessageRequest{To: phone, Body: message}, nil); err != nil {
		return fmt.Errorf("SMSの送信に失敗: %w", err)
	}
	return nil
}

// LogNotifier はメッセージをログに出力するだけのNotifier。
// SMSゲートウェイが設定されていない開発環境で使用する。
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier は新しいLogNotifierを生成する。
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send はNotifierを実装する。
func (n *LogNotifier) Send(_ context.Context, phone, message string) error {
	n.logger.Info("notification (log only)",
		zap.String("phone", phone),
		zap.String("message", message),
	)
	return nil
}
