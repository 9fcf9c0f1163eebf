package routegate

import "strings"

// excludedPrefixes はゲートを適用しないパスの接頭辞（先頭の "/" を除いた部分）。
// フレームワークのアセット、静的ファイル、APIがこれに当たる。
var excludedPrefixes = []string{
	"_next",
	"static",
	"favicon.ico",
	"images",
	"api",
}

// Applies はpathにゲートを適用すべきかを返す。
//
// 先頭の "/" に続く部分が除外接頭辞のいずれかで始まるパスと、
// "." を含むパス（拡張子付きの静的ファイル）は対象外となる。
// 接頭辞は区切りを考慮しないため "/apiary" も対象外である。
func Applies(path string) bool {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return false
	}
	if strings.Contains(rest, ".") {
		return false
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(rest, prefix) {
			return false
		}
	}
	return true
}
