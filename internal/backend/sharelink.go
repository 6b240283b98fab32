package backend

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// parseShareLink converts a single share link into an outbound JSON
// document. The scheme picks the parser; unknown schemes are reported as
// unsupported so the caller can warn instead of failing the whole import.
func parseShareLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	scheme, rest, ok := strings.Cut(link, "://")
	if !ok {
		return "", errf(CodeImportInvalid, "missing scheme")
	}
	switch strings.ToLower(scheme) {
	case "ss":
		return parseShadowsocks(rest)
	case "vmess":
		return parseVmess(rest)
	case "vless":
		return parseVless(link)
	case "trojan":
		return parseTrojan(link)
	case "hysteria":
		return parseHysteria(link)
	case "hysteria2", "hy2":
		return parseHysteria2(link)
	case "tuic":
		return parseTuic(link)
	default:
		return "", errf(CodeUnsupportedLink, "%s", scheme)
	}
}

// parseShadowsocks handles both encodings of ss:// links: the full
// base64 body and the plain userinfo@host:port form.
func parseShadowsocks(rest string) (string, error) {
	fragment := ""
	if i := strings.Index(rest, "#"); i >= 0 {
		fragment, _ = url.QueryUnescape(rest[i+1:])
		rest = rest[:i]
	}
	query := ""
	if i := strings.Index(rest, "?"); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}

	var method, password, hostport string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo := rest[:at]
		hostport = rest[at+1:]
		decoded, err := decodeBase64(userinfo)
		if err != nil {
			decoded, err = url.QueryUnescape(userinfo)
			if err != nil {
				decoded = userinfo
			}
		}
		method, password, _ = strings.Cut(decoded, ":")
	} else {
		decoded, err := decodeBase64(rest)
		if err != nil {
			return "", errf(CodeImportInvalid, "ss body is not base64")
		}
		creds, hp, ok := strings.Cut(decoded, "@")
		if !ok {
			return "", errf(CodeImportInvalid, "ss body missing host")
		}
		method, password, _ = strings.Cut(creds, ":")
		hostport = hp
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return "", err
	}

	ob := `{"type":"shadowsocks"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(fragment, host))
	ob, _ = sjson.Set(ob, "server", host)
	ob, _ = sjson.Set(ob, "server_port", port)
	ob, _ = sjson.Set(ob, "method", method)
	ob, _ = sjson.Set(ob, "password", password)

	params := queryMap(query)
	if plugin := params["plugin"]; plugin != "" {
		name, opts, _ := strings.Cut(plugin, ";")
		ob, _ = sjson.Set(ob, "plugin", name)
		if opts != "" {
			ob, _ = sjson.Set(ob, "plugin_opts", opts)
		}
	}
	return ob, nil
}

// parseVmess decodes the base64 JSON body of a vmess:// link.
func parseVmess(rest string) (string, error) {
	decoded, err := decodeBase64(rest)
	if err != nil || !gjson.Valid(decoded) {
		return "", errf(CodeImportInvalid, "vmess body is not base64 JSON")
	}
	body := gjson.Parse(decoded)

	port, err := strconv.Atoi(body.Get("port").String())
	if err != nil {
		return "", errf(CodeImportInvalid, "vmess port %q", body.Get("port").String())
	}

	ob := `{"type":"vmess"}`
	server := body.Get("add").String()
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(body.Get("ps").String(), server))
	ob, _ = sjson.Set(ob, "server", server)
	ob, _ = sjson.Set(ob, "server_port", port)
	ob, _ = sjson.Set(ob, "uuid", body.Get("id").String())
	ob, _ = sjson.Set(ob, "security", firstNonEmpty(body.Get("scy").String(), "auto"))
	if aid := body.Get("aid").Int(); aid > 0 {
		ob, _ = sjson.Set(ob, "alter_id", aid)
	}

	if body.Get("tls").String() == "tls" {
		tls := map[string]any{
			"enabled":     true,
			"server_name": firstNonEmpty(body.Get("sni").String(), server),
		}
		ob, _ = sjson.Set(ob, "tls", tls)
	}

	network := firstNonEmpty(body.Get("net").String(), body.Get("type").String())
	transport := buildTransport(network, map[string]string{
		"host":        body.Get("host").String(),
		"path":        body.Get("path").String(),
		"servicename": body.Get("path").String(),
	})
	if transport != "" {
		ob, _ = sjson.SetRaw(ob, "transport", transport)
	}
	return ob, nil
}

// parseVless handles vless:// links, including REALITY parameters.
func parseVless(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" || u.User == nil {
		return "", errf(CodeImportInvalid, "vless link is malformed")
	}
	port, err := portOf(u)
	if err != nil {
		return "", err
	}
	params := queryMap(u.RawQuery)

	ob := `{"type":"vless"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(u.Fragment, u.Hostname()))
	ob, _ = sjson.Set(ob, "server", u.Hostname())
	ob, _ = sjson.Set(ob, "server_port", port)
	ob, _ = sjson.Set(ob, "uuid", u.User.Username())
	if flow := params["flow"]; flow != "" {
		ob, _ = sjson.Set(ob, "flow", flow)
	}
	if tls := tlsFromParams(params, u.Hostname()); tls != "" {
		ob, _ = sjson.SetRaw(ob, "tls", tls)
	}
	if transport := buildTransport(params["type"], params); transport != "" {
		ob, _ = sjson.SetRaw(ob, "transport", transport)
	}
	return ob, nil
}

// parseTrojan handles trojan:// links.
func parseTrojan(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" || u.User == nil {
		return "", errf(CodeImportInvalid, "trojan link is malformed")
	}
	port, err := portOf(u)
	if err != nil {
		return "", err
	}
	params := queryMap(u.RawQuery)

	ob := `{"type":"trojan"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(u.Fragment, u.Hostname()))
	ob, _ = sjson.Set(ob, "server", u.Hostname())
	ob, _ = sjson.Set(ob, "server_port", port)
	ob, _ = sjson.Set(ob, "password", u.User.Username())
	tls := tlsFromParams(params, u.Hostname())
	if tls == "" {
		tls = fmt.Sprintf(`{"enabled":true,"server_name":%s}`, strconv.Quote(u.Hostname()))
	}
	ob, _ = sjson.SetRaw(ob, "tls", tls)
	if transport := buildTransport(params["type"], params); transport != "" {
		ob, _ = sjson.SetRaw(ob, "transport", transport)
	}
	return ob, nil
}

// parseHysteria handles legacy hysteria:// links.
func parseHysteria(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "", errf(CodeImportInvalid, "hysteria link is malformed")
	}
	port, err := portOf(u)
	if err != nil {
		return "", err
	}
	params := queryMap(u.RawQuery)

	ob := `{"type":"hysteria"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(u.Fragment, u.Hostname()))
	ob, _ = sjson.Set(ob, "server", u.Hostname())
	ob, _ = sjson.Set(ob, "server_port", port)
	if auth := firstNonEmpty(params["auth"], params["auth_str"]); auth != "" {
		ob, _ = sjson.Set(ob, "auth_str", auth)
	}
	if obfs := params["obfs"]; obfs != "" {
		ob, _ = sjson.Set(ob, "obfs", obfs)
	}
	if up := firstNonEmpty(params["upmbps"], params["up"]); up != "" {
		ob, _ = sjson.Set(ob, "up_mbps", atoiOr(up, 0))
	}
	if down := firstNonEmpty(params["downmbps"], params["down"]); down != "" {
		ob, _ = sjson.Set(ob, "down_mbps", atoiOr(down, 0))
	}

	tls := fmt.Sprintf(`{"enabled":true,"server_name":%s}`,
		strconv.Quote(firstNonEmpty(params["peer"], params["sni"], u.Hostname())))
	if params["insecure"] == "1" || params["insecure"] == "true" {
		tls, _ = sjson.Set(tls, "insecure", true)
	}
	if alpn := splitCSV(params["alpn"]); len(alpn) > 0 {
		tls, _ = sjson.Set(tls, "alpn", alpn)
	}
	ob, _ = sjson.SetRaw(ob, "tls", tls)
	return ob, nil
}

// parseHysteria2 handles hysteria2:// and hy2:// links.
func parseHysteria2(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "", errf(CodeImportInvalid, "hysteria2 link is malformed")
	}
	port, err := portOf(u)
	if err != nil {
		return "", err
	}
	params := queryMap(u.RawQuery)

	ob := `{"type":"hysteria2"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(u.Fragment, u.Hostname()))
	ob, _ = sjson.Set(ob, "server", u.Hostname())
	ob, _ = sjson.Set(ob, "server_port", port)
	if u.User != nil {
		ob, _ = sjson.Set(ob, "password", u.User.Username())
	}
	if params["obfs"] == "salamander" {
		ob, _ = sjson.Set(ob, "obfs.type", "salamander")
		ob, _ = sjson.Set(ob, "obfs.password", params["obfs-password"])
	}

	tls := fmt.Sprintf(`{"enabled":true,"server_name":%s}`,
		strconv.Quote(firstNonEmpty(params["sni"], u.Hostname())))
	if params["insecure"] == "1" || params["insecure"] == "true" {
		tls, _ = sjson.Set(tls, "insecure", true)
	}
	ob, _ = sjson.SetRaw(ob, "tls", tls)
	return ob, nil
}

// parseTuic handles tuic:// links.
func parseTuic(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" || u.User == nil {
		return "", errf(CodeImportInvalid, "tuic link is malformed")
	}
	port, err := portOf(u)
	if err != nil {
		return "", err
	}
	params := queryMap(u.RawQuery)

	ob := `{"type":"tuic"}`
	ob, _ = sjson.Set(ob, "tag", firstNonEmpty(u.Fragment, u.Hostname()))
	ob, _ = sjson.Set(ob, "server", u.Hostname())
	ob, _ = sjson.Set(ob, "server_port", port)
	ob, _ = sjson.Set(ob, "uuid", u.User.Username())
	if password, ok := u.User.Password(); ok {
		ob, _ = sjson.Set(ob, "password", password)
	}
	if cc := params["congestion_control"]; cc != "" {
		ob, _ = sjson.Set(ob, "congestion_control", cc)
	}
	if mode := params["udp_relay_mode"]; mode != "" {
		ob, _ = sjson.Set(ob, "udp_relay_mode", mode)
	}

	tls := fmt.Sprintf(`{"enabled":true,"server_name":%s}`,
		strconv.Quote(firstNonEmpty(params["sni"], u.Hostname())))
	if alpn := splitCSV(params["alpn"]); len(alpn) > 0 {
		tls, _ = sjson.Set(tls, "alpn", alpn)
	}
	ob, _ = sjson.SetRaw(ob, "tls", tls)
	return ob, nil
}

// tlsFromParams builds the tls section from query parameters, or returns
// empty when security is not requested.
func tlsFromParams(params map[string]string, server string) string {
	security := params["security"]
	if security != "tls" && security != "reality" {
		return ""
	}
	tls := fmt.Sprintf(`{"enabled":true,"server_name":%s}`,
		strconv.Quote(firstNonEmpty(params["sni"], server)))
	if params["allowinsecure"] == "1" || params["insecure"] == "1" {
		tls, _ = sjson.Set(tls, "insecure", true)
	}
	if alpn := splitCSV(params["alpn"]); len(alpn) > 0 {
		tls, _ = sjson.Set(tls, "alpn", alpn)
	}
	if fp := params["fp"]; fp != "" {
		tls, _ = sjson.Set(tls, "utls.enabled", true)
		tls, _ = sjson.Set(tls, "utls.fingerprint", fp)
	}
	if security == "reality" {
		tls, _ = sjson.Set(tls, "reality.enabled", true)
		tls, _ = sjson.Set(tls, "reality.public_key", params["pbk"])
		if sid := params["sid"]; sid != "" {
			tls, _ = sjson.Set(tls, "reality.short_id", sid)
		}
	}
	return tls
}

// buildTransport maps a link transport type onto a transport section, or
// returns empty for plain TCP.
func buildTransport(network string, params map[string]string) string {
	switch network {
	case "ws", "httpupgrade":
		t := fmt.Sprintf(`{"type":%s}`, strconv.Quote(network))
		if path := params["path"]; path != "" {
			t, _ = sjson.Set(t, "path", path)
		}
		if host := params["host"]; host != "" {
			t, _ = sjson.Set(t, "headers.Host", host)
		}
		return t
	case "http", "h2":
		t := `{"type":"http"}`
		if path := params["path"]; path != "" {
			t, _ = sjson.Set(t, "path", path)
		}
		if host := params["host"]; host != "" {
			t, _ = sjson.Set(t, "host", splitCSV(params["host"]))
		}
		return t
	case "grpc":
		t := `{"type":"grpc"}`
		if name := firstNonEmpty(params["servicename"], params["serviceName"], params["path"]); name != "" {
			t, _ = sjson.Set(t, "service_name", name)
		}
		return t
	case "quic":
		return `{"type":"quic"}`
	default:
		return ""
	}
}

// decodeBase64 tries the four common alphabets, padding as needed. Share
// link generators disagree on which one to use.
func decodeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if raw, err := enc.DecodeString(s); err == nil {
			return string(raw), nil
		}
	}
	return "", fmt.Errorf("not base64")
}

// queryMap flattens a raw query string into a map with lowercased keys.
func queryMap(raw string) map[string]string {
	params := make(map[string]string)
	values, err := url.ParseQuery(raw)
	if err != nil {
		return params
	}
	for key, vals := range values {
		if len(vals) > 0 {
			params[strings.ToLower(key)] = vals[0]
		}
	}
	return params
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitHostPort(hostport string) (string, int, error) {
	host := hostport
	portStr := ""
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return "", 0, errf(CodeImportInvalid, "unterminated IPv6 literal")
		}
		host = hostport[1:end]
		rest := hostport[end+1:]
		portStr = strings.TrimPrefix(rest, ":")
	} else if i := strings.LastIndex(hostport, ":"); i >= 0 {
		host = hostport[:i]
		portStr = hostport[i+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, errf(CodeImportInvalid, "port %q", portStr)
	}
	return host, port, nil
}

func portOf(u *url.URL) (int, error) {
	port, err := strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return 0, errf(CodeImportInvalid, "port %q", u.Port())
	}
	return port, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func atoiOr(s string, fallback int) int {
	// Bandwidth params sometimes carry a " Mbps" suffix.
	s = strings.TrimSpace(s)
	if i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
