// Package middleware は管理ポータルのBFFで使用するGinミドルウェアを提供する。
//
// ページ遷移を制御するルートゲート、JWT認証トークンの検証、
// 構造化リクエストログ、パニックリカバリ、CORS設定を含む。
package middleware
