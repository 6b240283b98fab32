package backend

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// TestParseShareLink_Shadowsocks covers both ss:// encodings.
func TestParseShareLink_Shadowsocks(t *testing.T) {
	userinfo := base64.RawURLEncoding.EncodeToString([]byte("aes-256-gcm:secret"))
	ob, err := parseShareLink("ss://" + userinfo + "@server.example:8388#My%20Server")
	require.NoError(t, err)

	assert.Equal(t, "shadowsocks", gjson.Get(ob, "type").String())
	assert.Equal(t, "My Server", gjson.Get(ob, "tag").String())
	assert.Equal(t, "server.example", gjson.Get(ob, "server").String())
	assert.Equal(t, int64(8388), gjson.Get(ob, "server_port").Int())
	assert.Equal(t, "aes-256-gcm", gjson.Get(ob, "method").String())
	assert.Equal(t, "secret", gjson.Get(ob, "password").String())

	// Legacy form: the whole body is base64.
	body := base64.StdEncoding.EncodeToString([]byte("chacha20-ietf-poly1305:pw@host.example:443"))
	ob, err = parseShareLink("ss://" + body)
	require.NoError(t, err)
	assert.Equal(t, "chacha20-ietf-poly1305", gjson.Get(ob, "method").String())
	assert.Equal(t, "host.example", gjson.Get(ob, "server").String())
	assert.Equal(t, int64(443), gjson.Get(ob, "server_port").Int())
}

// TestParseShareLink_Vmess verifies the base64 JSON body form with ws
// transport and TLS.
func TestParseShareLink_Vmess(t *testing.T) {
	body := `{"v":"2","ps":"JP Node","add":"jp.example","port":"443","id":"8f43d492-5e8d-4c4e-9a6f-92b3b0b8a6f1",` +
		`"aid":"0","scy":"auto","net":"ws","host":"cdn.example","path":"/ws","tls":"tls","sni":"jp.example"}`
	link := "vmess://" + base64.StdEncoding.EncodeToString([]byte(body))

	ob, err := parseShareLink(link)
	require.NoError(t, err)

	assert.Equal(t, "vmess", gjson.Get(ob, "type").String())
	assert.Equal(t, "JP Node", gjson.Get(ob, "tag").String())
	assert.Equal(t, "jp.example", gjson.Get(ob, "server").String())
	assert.Equal(t, int64(443), gjson.Get(ob, "server_port").Int())
	assert.Equal(t, "8f43d492-5e8d-4c4e-9a6f-92b3b0b8a6f1", gjson.Get(ob, "uuid").String())
	assert.True(t, gjson.Get(ob, "tls.enabled").Bool())
	assert.Equal(t, "jp.example", gjson.Get(ob, "tls.server_name").String())
	assert.Equal(t, "ws", gjson.Get(ob, "transport.type").String())
	assert.Equal(t, "/ws", gjson.Get(ob, "transport.path").String())
	assert.Equal(t, "cdn.example", gjson.Get(ob, "transport.headers.Host").String())
}

// TestParseShareLink_VlessReality verifies REALITY and flow parameters.
func TestParseShareLink_VlessReality(t *testing.T) {
	link := "vless://3c8459b2-4f62-4a87-a06c-7e3bbacd7d41@vps.example:443" +
		"?security=reality&sni=www.example.com&fp=chrome&pbk=PUBKEY&sid=0123ab&flow=xtls-rprx-vision&type=tcp#VPS"

	ob, err := parseShareLink(link)
	require.NoError(t, err)

	assert.Equal(t, "vless", gjson.Get(ob, "type").String())
	assert.Equal(t, "VPS", gjson.Get(ob, "tag").String())
	assert.Equal(t, "xtls-rprx-vision", gjson.Get(ob, "flow").String())
	assert.True(t, gjson.Get(ob, "tls.enabled").Bool())
	assert.Equal(t, "www.example.com", gjson.Get(ob, "tls.server_name").String())
	assert.True(t, gjson.Get(ob, "tls.reality.enabled").Bool())
	assert.Equal(t, "PUBKEY", gjson.Get(ob, "tls.reality.public_key").String())
	assert.Equal(t, "0123ab", gjson.Get(ob, "tls.reality.short_id").String())
	assert.True(t, gjson.Get(ob, "tls.utls.enabled").Bool())
	assert.Equal(t, "chrome", gjson.Get(ob, "tls.utls.fingerprint").String())
	assert.False(t, gjson.Get(ob, "transport").Exists())
}

// TestParseShareLink_Trojan verifies TLS defaults when no security param
// is present.
func TestParseShareLink_Trojan(t *testing.T) {
	ob, err := parseShareLink("trojan://mypassword@t.example:8443?type=grpc&serviceName=grpc-svc#TR")
	require.NoError(t, err)

	assert.Equal(t, "trojan", gjson.Get(ob, "type").String())
	assert.Equal(t, "mypassword", gjson.Get(ob, "password").String())
	assert.True(t, gjson.Get(ob, "tls.enabled").Bool())
	assert.Equal(t, "t.example", gjson.Get(ob, "tls.server_name").String())
	assert.Equal(t, "grpc", gjson.Get(ob, "transport.type").String())
	assert.Equal(t, "grpc-svc", gjson.Get(ob, "transport.service_name").String())
}

// TestParseShareLink_Hysteria2 covers both scheme aliases and the
// salamander obfuscation.
func TestParseShareLink_Hysteria2(t *testing.T) {
	for _, scheme := range []string{"hysteria2", "hy2"} {
		ob, err := parseShareLink(scheme + "://pass@h.example:443?sni=h.example&obfs=salamander&obfs-password=op&insecure=1#H2")
		require.NoError(t, err, scheme)

		assert.Equal(t, "hysteria2", gjson.Get(ob, "type").String())
		assert.Equal(t, "pass", gjson.Get(ob, "password").String())
		assert.Equal(t, "salamander", gjson.Get(ob, "obfs.type").String())
		assert.Equal(t, "op", gjson.Get(ob, "obfs.password").String())
		assert.True(t, gjson.Get(ob, "tls.insecure").Bool())
	}
}

// TestParseShareLink_Tuic verifies uuid:password userinfo and the alpn CSV.
func TestParseShareLink_Tuic(t *testing.T) {
	ob, err := parseShareLink("tuic://uuid-here:pw@q.example:443?congestion_control=bbr&udp_relay_mode=native&alpn=h3,spdy#T")
	require.NoError(t, err)

	assert.Equal(t, "tuic", gjson.Get(ob, "type").String())
	assert.Equal(t, "uuid-here", gjson.Get(ob, "uuid").String())
	assert.Equal(t, "pw", gjson.Get(ob, "password").String())
	assert.Equal(t, "bbr", gjson.Get(ob, "congestion_control").String())
	assert.Equal(t, "native", gjson.Get(ob, "udp_relay_mode").String())
	alpn := gjson.Get(ob, "tls.alpn").Array()
	require.Len(t, alpn, 2)
	assert.Equal(t, "h3", alpn[0].String())
}

// TestParseShareLink_Hysteria verifies the legacy scheme with bandwidth
// and peer parameters.
func TestParseShareLink_Hysteria(t *testing.T) {
	ob, err := parseShareLink("hysteria://h.example:443?auth=tok&upmbps=100&downmbps=250&peer=sni.example&obfs=xplus#HY")
	require.NoError(t, err)

	assert.Equal(t, "hysteria", gjson.Get(ob, "type").String())
	assert.Equal(t, "tok", gjson.Get(ob, "auth_str").String())
	assert.Equal(t, int64(100), gjson.Get(ob, "up_mbps").Int())
	assert.Equal(t, int64(250), gjson.Get(ob, "down_mbps").Int())
	assert.Equal(t, "xplus", gjson.Get(ob, "obfs").String())
	assert.Equal(t, "sni.example", gjson.Get(ob, "tls.server_name").String())
}

// TestParseShareLink_Unsupported verifies unknown schemes are flagged as
// unsupported, not invalid.
func TestParseShareLink_Unsupported(t *testing.T) {
	_, err := parseShareLink("wireguard://whatever")
	assert.True(t, IsCode(err, CodeUnsupportedLink))

	_, err = parseShareLink("no scheme at all")
	assert.True(t, IsCode(err, CodeImportInvalid))
}

// TestParseShareLink_BadInput verifies malformed links of known schemes.
func TestParseShareLink_BadInput(t *testing.T) {
	cases := []string{
		"vmess://!!!not-base64!!!",
		"vless://@:443",
		"trojan://pw@host.example:notaport",
		"ss://",
	}
	for _, link := range cases {
		_, err := parseShareLink(link)
		assert.Error(t, err, link)
	}
}

// TestSplitHostPort covers IPv6 literals and missing ports.
func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("[2001:db8::1]:443")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", host)
	assert.Equal(t, 443, port)

	_, _, err = splitHostPort("host.example")
	assert.Error(t, err)

	_, _, err = splitHostPort("host.example:70000")
	assert.Error(t, err)
}

// TestDecodeBase64 covers the alphabet variants.
func TestDecodeBase64(t *testing.T) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		got, err := decodeBase64(enc.EncodeToString([]byte("m?e/t:hod")))
		require.NoError(t, err)
		assert.Equal(t, "m?e/t:hod", got)
	}

	_, err := decodeBase64("!!!")
	assert.Error(t, err)
}
