package routegate

import (
	"net/url"
)

// Action はゲートが下す判定の種類。
type Action int

const (
	// ActionPassThrough はリクエストをそのまま通過させる。
	ActionPassThrough Action = iota
	// ActionRedirect はリクエストを中断して別のページへリダイレクトする。
	ActionRedirect
)

// String はメトリクスやログで使うActionの名前を返す。
func (a Action) String() string {
	switch a {
	case ActionPassThrough:
		return "pass_through"
	case ActionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// RedirectQueryKey はリダイレクト後に元のページへ戻るためのクエリパラメータ名。
const RedirectQueryKey = "redirect"

// Decision はゲートの判定結果。
type Decision struct {
	// Action は判定の種類。
	Action Action
	// Target はリダイレクト先のパス。ActionRedirectの場合のみ設定される。
	Target string
	// ReturnTo はredirectクエリパラメータに載せる元のパス。空なら付与しない。
	ReturnTo string
	// Rule は判定を下したルールの名前。
	Rule string
}

// PassThrough は通過の判定を生成する。
func PassThrough(rule string) Decision {
	return Decision{Action: ActionPassThrough, Rule: rule}
}

// RedirectTo はtargetへのリダイレクト判定を生成する。
// returnToが空でなければredirectクエリパラメータとして付与される。
func RedirectTo(rule, target, returnTo string) Decision {
	return Decision{
		Action:   ActionRedirect,
		Target:   target,
		ReturnTo: returnTo,
		Rule:     rule,
	}
}

// IsRedirect はリダイレクト判定かどうかを返す。
func (d Decision) IsRedirect() bool {
	return d.Action == ActionRedirect
}

// Location はリクエストのオリジンを基準にリダイレクト先の絶対URLを組み立てる。
// 通過判定の場合はnilを返す。
func (d Decision) Location(origin *url.URL) *url.URL {
	if !d.IsRedirect() {
		return nil
	}
	loc := &url.URL{Path: d.Target}
	if origin != nil {
		loc.Scheme = origin.Scheme
		loc.Host = origin.Host
	}
	if d.ReturnTo != "" {
		loc.RawQuery = url.Values{RedirectQueryKey: {d.ReturnTo}}.Encode()
	}
	return loc
}
