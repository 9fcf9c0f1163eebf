package routegate

import "net/http"

// Cookie名。フロントエンドとBFFの間で共有する。
const (
	// CookieAuthToken は認証トークンを保持するCookie。
	CookieAuthToken = "authToken"
	// CookieNeedsOTP はOTP検証待ちであることを示すCookie。
	CookieNeedsOTP = "needs-otp-verification"
)

// CookieLookup はCookie名から値を引くための読み取り専用インターフェース。
// 第2戻り値はCookieが存在したかどうかを表し、空文字列の値と不在を区別する。
type CookieLookup interface {
	Lookup(name string) (string, bool)
}

// CookieMap はマップで表現したCookie集合。テストやリクエスト外での評価に使う。
type CookieMap map[string]string

// Lookup はCookieLookupを実装する。
func (m CookieMap) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// requestCookies は*http.RequestのCookieをCookieLookupとして公開する。
type requestCookies struct {
	r *http.Request
}

// RequestCookies はHTTPリクエストのCookieを参照するCookieLookupを返す。
func RequestCookies(r *http.Request) CookieLookup {
	return requestCookies{r: r}
}

// Lookup はCookieLookupを実装する。
// 解析できないCookieヘッダーは不在として扱う。
func (c requestCookies) Lookup(name string) (string, bool) {
	if c.r == nil {
		return "", false
	}
	cookie, err := c.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// Session はCookieから導出したセッションの状態。
type Session struct {
	// Authenticated は空でない認証トークンを保持しているかどうか。
	Authenticated bool
	// NeedsOTPVerification はOTP検証待ちフラグが "true" かどうか。
	NeedsOTPVerification bool
}

// ReadSession はCookieからセッション状態を読み取る。
// authTokenが空文字列の場合は、Cookieが存在しても未認証として扱う。
// needs-otp-verificationは大文字小文字を区別して "true" と完全一致した場合のみ真となる。
func ReadSession(cookies CookieLookup) Session {
	if cookies == nil {
		return Session{}
	}
	token, _ := cookies.Lookup(CookieAuthToken)
	flag, ok := cookies.Lookup(CookieNeedsOTP)
	return Session{
		Authenticated:        token != "",
		NeedsOTPVerification: ok && flag == "true",
	}
}
