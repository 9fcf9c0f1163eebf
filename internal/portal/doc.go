// Package portal はSMS・課金管理ポータルのBFFサーバーを提供する。
//
// ブラウザからアクセスされる唯一の入口であり、ページ要求にはルートゲートを
// 適用したうえでフロントエンドへ転送する。サインアップ、サインイン、OTP検証、
// パスワード再設定の各フローで認証Cookieを発行し、プラットフォームAPIへの
// リクエストにはCookieのトークンをBearerヘッダーとして付与して転送する。
package portal
