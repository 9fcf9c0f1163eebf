// Package routegate は管理ポータルのページ遷移を制御するルートアクセスゲートを提供する。
//
// リクエストパスとCookieだけを入力とする純粋関数で、ページを表示するか
// 別のページへリダイレクトするかを決定する。I/Oや共有状態を持たないため、
// 複数のリクエストから同時に呼び出しても安全である。
//
// 判定は順序付きのルール列として表現され、先頭から評価して最初に
// 一致したルールの決定を採用する。どのルールにも一致しない場合は通過となる。
package routegate
