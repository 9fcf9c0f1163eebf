package routegate

// ポータル内で特別な意味を持つページパス。
const (
	// PathRoot はトップページ。
	PathRoot = "/"
	// PathSignIn はサインインページ。
	PathSignIn = "/signin"
	// PathSignUp はアカウント登録ページ。
	PathSignUp = "/signup"
	// PathForgotPassword はパスワード再設定の申請ページ。
	PathForgotPassword = "/forgot-password"
	// PathVerifyOTP はワンタイムパスワードの入力ページ。
	PathVerifyOTP = "/verify-otp"
	// PathTerms は利用規約ページ。
	PathTerms = "/terms"
	// PathPrivacy はプライバシーポリシーページ。
	PathPrivacy = "/privacy"
	// PathDashboard は認証後の既定の遷移先。
	PathDashboard = "/dashboard"
)

// publicPaths は認証なしで表示できるページの集合。
// 完全一致でのみ判定し、前方一致やワイルドカードは使わない。
var publicPaths = map[string]struct{}{
	PathSignIn:         {},
	PathSignUp:         {},
	PathForgotPassword: {},
	PathVerifyOTP:      {},
	PathTerms:          {},
	PathPrivacy:        {},
	PathRoot:           {},
}

// entryPaths は認証済みユーザーがアクセスするとダッシュボードへ送られるページ。
var entryPaths = map[string]struct{}{
	PathSignIn: {},
	PathSignUp: {},
	PathRoot:   {},
}

// IsPublic はpathが認証なしで到達できるページかどうかを返す。
// "/signin/extra" のような下位パスは公開ページとして扱わない。
func IsPublic(path string) bool {
	_, ok := publicPaths[path]
	return ok
}

// PublicPaths は公開ページのパス一覧を返す。順序は保証しない。
func PublicPaths() []string {
	paths := make([]string, 0, len(publicPaths))
	for p := range publicPaths {
		paths = append(paths, p)
	}
	return paths
}

func isEntryPath(path string) bool {
	_, ok := entryPaths[path]
	return ok
}
