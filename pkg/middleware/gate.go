package middleware

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/smsportal/pkg/routegate"
)

// GateObserver はゲートの判定を受け取る。メトリクス記録に使う。
type GateObserver interface {
	ObserveGateDecision(d routegate.Decision)
}

// RouteGate はルートゲートの判定をリクエストに適用するGinミドルウェアを返す。
// routegate.Appliesが偽を返すパスは判定せずに通過させる。
// リダイレクト判定の場合はoriginを基準に307で応答する。
// originがnilならリクエストの接続先オリジンを使う。
func RouteGate(gate *routegate.Gate, origin *url.URL, logger *zap.Logger, observer GateObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !routegate.Applies(path) {
			c.Next()
			return
		}

		d := gate.Evaluate(routegate.Request{
			Path:    path,
			Cookies: routegate.RequestCookies(c.Request),
		})
		if observer != nil {
			observer.ObserveGateDecision(d)
		}

		if !d.IsRedirect() {
			c.Next()
			return
		}

		base := origin
		if base == nil {
			base = RequestOrigin(c.Request)
		}
		location := d.Location(base).String()
		logger.Debug("route gate redirect",
			zap.String("rule", d.Rule),
			zap.String("path", path),
			zap.String("location", location),
		)
		c.Redirect(http.StatusTemporaryRedirect, location)
		c.Abort()
	}
}

// RequestOrigin はリクエストの接続先オリジンを返す。
// X-Forwarded-Host等のヘッダーはクライアントが自由に付けられるため参照しない。
// リバースプロキシ配下では公開URLを設定してRouteGateに渡すこと。
func RequestOrigin(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host}
}
