// Package navigation は権限に応じた管理ポータルのメニューを構築する。
package navigation

// WildcardPermission はすべての権限を包含する特別な権限。
const WildcardPermission = "*"

// Item はメニューの1項目。Childrenを持つ項目はグループとして扱う。
type Item struct {
	// Title は表示名。
	Title string `json:"title"`
	// Href は遷移先のパス。グループの場合は空。
	Href string `json:"href,omitempty"`
	// Icon はフロントエンドが解釈するアイコン名。
	Icon string `json:"icon,omitempty"`
	// Permission は表示に必要な権限。空なら誰にでも表示する。
	Permission string `json:"-"`
	// Children はグループ配下の項目。
	Children []Item `json:"children,omitempty"`
}

// PermissionSet はユーザーが持つ権限の集合。
type PermissionSet map[string]struct{}

// NewPermissionSet は権限名のスライスから集合を生成する。
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has は権限を持つかどうかを返す。ワイルドカードを持つ場合は常に真。
func (s PermissionSet) Has(perm string) bool {
	if perm == "" {
		return true
	}
	if _, ok := s[WildcardPermission]; ok {
		return true
	}
	_, ok := s[perm]
	return ok
}

// Build は権限で表示可能な項目だけを残したメニューを返す。
// グループは表示可能な子項目が1つ以上ある場合のみ残る。
// 入力のスライスは変更しない。
func Build(items []Item, perms PermissionSet) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if !perms.Has(item.Permission) {
			continue
		}
		if len(item.Children) == 0 {
			out = append(out, item)
			continue
		}
		children := Build(item.Children, perms)
		if len(children) == 0 {
			continue
		}
		item.Children = children
		out = append(out, item)
	}
	return out
}

// DefaultItems はポータルの標準メニューを返す。
func DefaultItems() []Item {
	return []Item{
		{Title: "ダッシュボード", Href: "/dashboard", Icon: "home"},
		{Title: "クライアント", Href: "/admin/clients", Icon: "users", Permission: "clients:read"},
		{Title: "ドキュメント", Href: "/admin/documents", Icon: "file", Permission: "documents:read"},
		{
			Title: "メッセージ",
			Icon:  "message",
			Children: []Item{
				{Title: "送信履歴", Href: "/messaging/outbox", Permission: "messages:read"},
				{Title: "受信履歴", Href: "/messaging/inbox", Permission: "messages:read"},
			},
		},
		{Title: "チャージ申請", Href: "/topups", Icon: "wallet", Permission: "topups:read"},
		{
			Title: "管理",
			Icon:  "settings",
			Children: []Item{
				{Title: "ユーザー", Href: "/admin/users", Permission: "users:read"},
				{Title: "ロール", Href: "/admin/roles", Permission: "roles:read"},
				{Title: "監査ログ", Href: "/admin/audit", Permission: "audit:read"},
			},
		},
	}
}
