package routegate

// ルール名。ログとメトリクスのラベルに使う。
const (
	RuleAuthenticatedEntryPage   = "authenticated-entry-page"
	RuleOTPBypass                = "otp-bypass"
	RuleUnauthenticatedProtected = "unauthenticated-protected"
	RuleDefault                  = "default"
)

// Input はルールが評価する入力。
type Input struct {
	// Path は正規化済みのリクエストパス。
	Path string
	// Session はCookieから読み取ったセッション状態。
	Session Session
}

// Rule はゲートを構成する1つのルール。
// Matchが真を返した場合にDecideの結果が採用され、以降のルールは評価されない。
type Rule struct {
	// Name はルールの名前。
	Name string
	// Match はルールが適用されるかを判定する。
	Match func(in Input) bool
	// Decide は適用時の判定を返す。
	Decide func(in Input) Decision
}

// Request はゲートへの入力となるリクエストの情報。
type Request struct {
	// Path はクエリ文字列を含まないリクエストパス。
	Path string
	// Cookies はリクエストのCookie。nilは全Cookie不在として扱う。
	Cookies CookieLookup
}

// Gate は順序付きルール列でアクセスを判定する。
// 生成後は不変であり、複数のゴルーチンから同時に使用できる。
type Gate struct {
	rules []Rule
}

// New は指定したルール列を先頭から評価するゲートを生成する。
func New(rules ...Rule) *Gate {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Gate{rules: copied}
}

// Default はポータルの標準ルールで構成したゲートを返す。
func Default() *Gate {
	return New(DefaultRules()...)
}

// DefaultRules はポータルの標準ルールを評価順に返す。
//
//  1. 認証済みでサインイン/登録/トップページにアクセスした場合はダッシュボードへ
//  2. OTP検証待ちで /verify-otp にアクセスした場合は認証状態に関わらず通過
//  3. 未認証で公開ページ以外にアクセスした場合はサインインへ
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: RuleAuthenticatedEntryPage,
			Match: func(in Input) bool {
				return in.Session.Authenticated && isEntryPath(in.Path)
			},
			Decide: func(Input) Decision {
				return RedirectTo(RuleAuthenticatedEntryPage, PathDashboard, "")
			},
		},
		{
			Name: RuleOTPBypass,
			Match: func(in Input) bool {
				return in.Path == PathVerifyOTP && in.Session.NeedsOTPVerification
			},
			Decide: func(Input) Decision {
				return PassThrough(RuleOTPBypass)
			},
		},
		{
			Name: RuleUnauthenticatedProtected,
			Match: func(in Input) bool {
				return !in.Session.Authenticated && !IsPublic(in.Path)
			},
			Decide: func(in Input) Decision {
				// /signin自体は公開ページなので通常ここには来ないが、
				// 自分自身へ戻るredirectパラメータは付けない。
				returnTo := in.Path
				if in.Path == PathSignIn {
					returnTo = ""
				}
				return RedirectTo(RuleUnauthenticatedProtected, PathSignIn, returnTo)
			},
		},
	}
}

// Evaluate はリクエストに対する判定を返す。失敗することはない。
func (g *Gate) Evaluate(req Request) Decision {
	in := Input{
		Path:    req.Path,
		Session: ReadSession(req.Cookies),
	}
	for _, r := range g.rules {
		if r.Match(in) {
			return r.Decide(in)
		}
	}
	return PassThrough(RuleDefault)
}

// Evaluate は標準ルールでpathとcookiesを判定する。
func Evaluate(path string, cookies CookieLookup) Decision {
	return defaultGate.Evaluate(Request{Path: path, Cookies: cookies})
}

var defaultGate = Default()
