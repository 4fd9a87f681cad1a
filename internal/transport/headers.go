// ABOUTME: Browser-equivalent header set for backend-api requests
// ABOUTME: The upstream rejects clients whose headers do not look like its own web app

package transport

import "net/http"

// defaultUserAgent is pinned to the Chrome build the rest of the header set
// claims to be.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

// placeholderDeviceID is sent when no device cookie is available. The
// backend accepts any well-formed value here.
const placeholderDeviceID = "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx"

// browserHeaders returns the full header set the upstream web client sends.
// Order is not significant; completeness is.
func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("accept", "*/*")
	h.Set("accept-language", "en-PH,en-GB;q=0.9,en-US;q=0.8,en;q=0.7,fil;q=0.6")
	h.Set("cache-control", "no-cache")
	h.Set("oai-client-build-number", "4480993")
	h.Set("oai-client-version", "prod-7c2e8d83df2cf0b6eaa11ba7b37f1605384da182")
	h.Set("oai-device-id", placeholderDeviceID)
	h.Set("oai-language", "en-US")
	h.Set("pragma", "no-cache")
	h.Set("origin", "https://chatgpt.com")
	h.Set("priority", "u=1, i")
	h.Set("referer", "https://chatgpt.com/")
	h.Set("sec-ch-ua", `"Not(A:Brand";v="8", "Chromium";v="144", "Google Chrome";v="144"`)
	h.Set("sec-ch-ua-arch", `"x86"`)
	h.Set("sec-ch-ua-bitness", `"64"`)
	h.Set("sec-ch-ua-full-version", `"144.0.7559.133"`)
	h.Set("sec-ch-ua-full-version-list", `"Not(A:Brand";v="8.0.0.0", "Chromium";v="144.0.7559.133", "Google Chrome";v="144.0.7559.133"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-model", `""`)
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("sec-ch-ua-platform-version", `"10.0.0"`)
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
	h.Set("user-agent", defaultUserAgent)
	return h
}

// applyAuth attaches the bearer token and cookie to a request. An empty
// cookie falls back to a bare device id so the upstream still sees a
// cookie header.
func applyAuth(req *http.Request, token, cookie string) {
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	if cookie == "" {
		cookie = "oai-did=" + placeholderDeviceID
	}
	req.Header.Set("cookie", cookie)
}
