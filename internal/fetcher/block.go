package fetcher

import (
	"bytes"
	"net/http"
	"strings"
)

// BlockKind describes the kind of block detected.
type BlockKind string

// Block kinds.
const (
	BlockNone       BlockKind = ""
	BlockThrottled  BlockKind = "throttled"
	BlockForbidden  BlockKind = "forbidden"
	BlockProxyAuth  BlockKind = "proxy_auth"
	BlockCloudflare BlockKind = "cloudflare"
	BlockCaptcha    BlockKind = "captcha"
	BlockAuthWall   BlockKind = "auth_wall"
)

// Body markers are only trusted on short pages; long pages that merely
// mention a captcha are real content.
const markerBodyLimit = 64 << 10

var captchaMarkers = []string{
	"captcha",
	"are you a robot",
	"verify you are human",
	"unusual traffic",
	"checking your browser",
	"cf-browser-verification",
}

var authWallMarkers = []string{
	"authwall",
	"/checkpoint/challenge",
	"sign in to continue",
	"join now to see",
}

// DetectBlock inspects a response for throttling, anti-bot pages and auth
// walls.
func DetectBlock(resp Response) BlockKind {
	switch resp.StatusCode {
	case http.StatusTooManyRequests, 999:
		return BlockThrottled
	case http.StatusProxyAuthRequired:
		return BlockProxyAuth
	case http.StatusForbidden, http.StatusServiceUnavailable:
		if resp.Headers.Get("Cf-Ray") != "" || strings.EqualFold(resp.Headers.Get("Server"), "cloudflare") {
			return BlockCloudflare
		}
		if resp.StatusCode == http.StatusForbidden {
			return BlockForbidden
		}
	case http.StatusUnauthorized:
		return BlockAuthWall
	}

	if len(resp.Body) == 0 || len(resp.Body) > markerBodyLimit {
		return BlockNone
	}
	lower := bytes.ToLower(resp.Body)
	for _, m := range captchaMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return BlockCaptcha
		}
	}
	for _, m := range authWallMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return BlockAuthWall
		}
	}
	return BlockNone
}
