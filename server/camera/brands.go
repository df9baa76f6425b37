package camera

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CameraBrand selects a known snapshot URL layout, so that the config
// only needs the camera's root URL.
type CameraBrand string

const (
	// SYNC-CAMERA-BRANDS
	CameraBrandUnknown   CameraBrand = ""
	CameraBrandHikVision CameraBrand = "HikVision"
	CameraBrandReolink   CameraBrand = "Reolink"
)

var AllCameraBrands = []CameraBrand{
	CameraBrandHikVision,
	CameraBrandReolink,
}

// SnapshotURL returns the still image URL of a camera, given its root URL (eg http://192.168.10.5).
// Reolink cameras want their credentials in the query string instead of basic auth.
func SnapshotURL(brand CameraBrand, baseURL, username, password string) (string, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	switch brand {
	case CameraBrandHikVision:
		return baseURL + "ISAPI/Streaming/channels/101/picture", nil
	case CameraBrandReolink:
		q := url.Values{}
		q.Set("cmd", "Snap")
		q.Set("channel", "0")
		q.Set("rs", "firewatch")
		if username != "" {
			q.Set("user", username)
			q.Set("password", password)
		}
		return baseURL + "cgi-bin/api.cgi?" + q.Encode(), nil
	}
	return "", fmt.Errorf("Don't know the snapshot URL of camera brand '%v'", brand)
}

// Attempt to identify the camera from the HTTP response it sends when asked for its root page (eg http://192.168.10.5)
func IdentifyCameraFromHTTP(headers http.Header, body string) CameraBrand {
	if headers.Get("Server") == "webserver" && strings.Contains(body, "去除edge下将数字处理成电话的错误") {
		return CameraBrandHikVision
	}
	if headers.Get("Server") == "App-webs/" && strings.Contains(body, "//使其IE窗口最大化") {
		return CameraBrandHikVision
	}
	if strings.Contains(body, "Reolink") {
		return CameraBrandReolink
	}
	return CameraBrandUnknown
}
