// Package httpclient は外部サービス（SMSゲートウェイ等）と通信するためのHTTPクライアントを提供する。
//
// JSONリクエスト/レスポンスのシリアライズ、APIキーによる認証、
// タイムアウト設定、非2xx応答のエラー変換を行う。
package httpclient
