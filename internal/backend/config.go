package backend

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

const (
	proxyTag   = "proxy"
	directTag  = "direct"
	geoipRuURL = "https://raw.githubusercontent.com/SagerNet/sing-geoip/rule-set/geoip-ru.srs"
)

// buildConfig turns the user profile plus the desired (mode, rules) pair
// into a complete engine config and writes it to the generated-config
// path. It returns that path.
func (b *Backend) buildConfig(mode domain.ProxyMode, rules []domain.AppRule) (string, error) {
	doc, err := b.ensureProfile()
	if err != nil {
		return "", err
	}

	outbounds := gjson.Get(doc, "outbounds")
	if !outbounds.Exists() {
		return "", errf(CodeOutboundsMissing, "%s", b.profilePath())
	}
	if !outbounds.IsArray() {
		return "", errf(CodeProfileInvalid, "outbounds must be an array")
	}

	doc, err = b.ensureProxySelector(doc)
	if err != nil {
		return "", err
	}
	doc = ensureDirectOutbound(doc)

	// The engine logs to stderr; the launcher owns the log file and fills
	// it from the output pipes.
	if !gjson.Get(doc, "log").Exists() {
		doc, _ = sjson.SetRaw(doc, "log", `{"level":"info","timestamp":true}`)
	}
	if !gjson.Get(doc, "dns").Exists() {
		doc, _ = sjson.SetRaw(doc, "dns", `{"servers":[{"tag":"dns-remote","address":"tls://1.1.1.1"}]}`)
	}

	doc, _ = sjson.SetRaw(doc, "inbounds", `[
		{"type":"tun","tag":"tun-in","address":["172.19.0.1/30"],"auto_route":true,"strict_route":true},
		{"type":"mixed","tag":"local-proxy","listen":"127.0.0.1","listen_port":2080}
	]`)

	doc, err = b.applyRoute(doc, mode, rules)
	if err != nil {
		return "", err
	}

	path := b.generatedConfigPath()
	pretty := gjson.Get(doc, "@pretty").Raw
	if err := os.WriteFile(path, []byte(pretty), 0o644); err != nil {
		return "", errf(CodePathError, "%v", err)
	}
	return path, nil
}

// ensureProxySelector guarantees that the "proxy" tag resolves to a
// selector so mode switches and the active tag work uniformly:
//
//   - an existing selector named "proxy" gets its candidate list and
//     default refreshed;
//   - a concrete outbound named "proxy" is renamed to "proxy-origin" and
//     wrapped in a new selector when other candidates exist;
//   - with no "proxy" outbound at all, a selector is synthesized over the
//     available candidates.
func (b *Backend) ensureProxySelector(doc string) (string, error) {
	activeTag := b.loadProfileState().ActiveTag

	list := gjson.Get(doc, "outbounds").Array()
	proxyIdx := -1
	for i, ob := range list {
		if ob.Get("tag").String() == proxyTag {
			proxyIdx = i
			break
		}
	}

	candidates := func(exclude string) []string {
		var tags []string
		for _, ob := range gjson.Get(doc, "outbounds").Array() {
			tag := ob.Get("tag").String()
			if tag == "" || tag == proxyTag || tag == directTag || tag == exclude {
				continue
			}
			switch ob.Get("type").String() {
			case "selector", "urltest", "block", "dns", "direct":
				continue
			}
			tags = append(tags, tag)
		}
		return tags
	}

	defaultTag := func(tags []string) string {
		for _, tag := range tags {
			if tag == activeTag {
				return activeTag
			}
		}
		if len(tags) > 0 {
			return tags[0]
		}
		return ""
	}

	if proxyIdx >= 0 && list[proxyIdx].Get("type").String() == "selector" {
		tags := candidates("")
		if len(tags) == 0 {
			return "", errf(CodeProxyTagMissing, "%s", b.profilePath())
		}
		doc, _ = sjson.Set(doc, pathIdx("outbounds", proxyIdx, "outbounds"), tags)
		doc, _ = sjson.Set(doc, pathIdx("outbounds", proxyIdx, "default"), defaultTag(tags))
		return doc, nil
	}

	if proxyIdx >= 0 {
		if len(candidates("")) == 0 {
			// A lone concrete "proxy" outbound is already usable as is.
			return doc, nil
		}
		used := make(map[string]struct{})
		for _, ob := range list {
			used[ob.Get("tag").String()] = struct{}{}
		}
		origin := uniqueTag("proxy-origin", used)
		doc, _ = sjson.Set(doc, pathIdx("outbounds", proxyIdx, "tag"), origin)
		if activeTag == proxyTag {
			activeTag = origin
			_ = b.saveProfileState(profileState{ActiveTag: origin})
		}
	}

	tags := candidates("")
	if len(tags) == 0 {
		return "", errf(CodeProxyTagMissing, "%s", b.profilePath())
	}
	selector := `{"type":"selector","tag":"proxy"}`
	selector, _ = sjson.Set(selector, "outbounds", tags)
	selector, _ = sjson.Set(selector, "default", defaultTag(tags))
	doc, _ = sjson.SetRaw(doc, "outbounds.-1", selector)
	return doc, nil
}

// ensureDirectOutbound appends a direct outbound when the profile lacks one.
func ensureDirectOutbound(doc string) string {
	for _, ob := range gjson.Get(doc, "outbounds").Array() {
		if ob.Get("tag").String() == directTag {
			return doc
		}
	}
	doc, _ = sjson.SetRaw(doc, "outbounds.-1", `{"type":"direct","tag":"direct"}`)
	return doc
}

// ruleTargets is the per-mode partition of app rules into the four route
// matcher lists, each sorted and deduplicated.
type ruleTargets struct {
	proxyPaths  []string
	proxyNames  []string
	directPaths []string
	directNames []string
}

func partitionRules(rules []domain.AppRule) ruleTargets {
	var t ruleTargets
	for _, rule := range rules {
		path := domain.NormalizePath(rule.Path)
		if path == "" {
			continue
		}
		isName := domain.IsProcessName(path)
		switch {
		case rule.Mode == domain.RuleModeProxy && isName:
			t.proxyNames = append(t.proxyNames, path)
		case rule.Mode == domain.RuleModeProxy:
			t.proxyPaths = append(t.proxyPaths, path)
		case isName:
			t.directNames = append(t.directNames, path)
		default:
			t.directPaths = append(t.directPaths, path)
		}
	}
	t.proxyPaths = sortedUnique(t.proxyPaths)
	t.proxyNames = sortedUnique(t.proxyNames)
	t.directPaths = sortedUnique(t.directPaths)
	t.directNames = sortedUnique(t.directNames)
	return t
}

func sortedUnique(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for i, v := range values {
		if i == 0 || values[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}

// applyRoute installs the route section for the desired mode. Off mode
// strips routing entirely so traffic flows untouched.
func (b *Backend) applyRoute(doc string, mode domain.ProxyMode, rules []domain.AppRule) (string, error) {
	if mode == domain.ModeOff {
		doc, _ = sjson.Delete(doc, "route")
		return doc, nil
	}

	targets := partitionRules(rules)
	var routeRules []string

	routeRules = append(routeRules, `{"protocol":"dns","action":"hijack-dns"}`)
	routeRules = append(routeRules, `{"port":53,"action":"hijack-dns"}`)

	// Russian destinations bypass the tunnel in both modes.
	bypass := `{"outbound":"direct"}`
	bypass, _ = sjson.Set(bypass, "domain_suffix", []string{".ru"})
	bypass, _ = sjson.Set(bypass, "rule_set", []string{"geoip-ru"})
	routeRules = append(routeRules, bypass)

	// Anything arriving on the local mixed listener opted into the proxy.
	routeRules = append(routeRules, `{"inbound":["local-proxy"],"outbound":"proxy"}`)

	switch mode {
	case domain.ModeFull:
		if rule := processRule(targets.directPaths, targets.directNames, directTag); rule != "" {
			routeRules = append(routeRules, rule)
		}
	case domain.ModeSelected:
		if rule := processRule(targets.proxyPaths, targets.proxyNames, proxyTag); rule != "" {
			routeRules = append(routeRules, rule)
		}
	}

	final := directTag
	if mode == domain.ModeFull {
		final = proxyTag
	}

	route := `{}`
	route, _ = sjson.SetRaw(route, "rules", "["+strings.Join(routeRules, ",")+"]")
	route, _ = sjson.SetRaw(route, "rule_set", "["+b.geoipRuleSet()+"]")
	route, _ = sjson.Set(route, "final", final)
	route, _ = sjson.Set(route, "auto_detect_interface", true)

	doc, err := sjson.SetRaw(doc, "route", route)
	if err != nil {
		return "", errf(CodeProfileInvalid, "%v", err)
	}
	return doc, nil
}

// processRule builds a single route rule steering the given process paths
// and names to an outbound, or returns empty when there is nothing to match.
func processRule(paths, names []string, outbound string) string {
	if len(paths) == 0 && len(names) == 0 {
		return ""
	}
	rule := `{}`
	if len(paths) > 0 {
		rule, _ = sjson.Set(rule, "process_path", paths)
	}
	if len(names) > 0 {
		rule, _ = sjson.Set(rule, "process_name", names)
	}
	rule, _ = sjson.Set(rule, "outbound", outbound)
	return rule
}

// geoipRuleSet prefers a locally provisioned rule-set file and falls back
// to the upstream download, fetched through the tunnel.
func (b *Backend) geoipRuleSet() string {
	local := b.ruleSetPath("geoip-ru.srs")
	if _, err := os.Stat(local); err == nil {
		rs := `{"type":"local","tag":"geoip-ru","format":"binary"}`
		rs, _ = sjson.Set(rs, "path", local)
		return rs
	}
	rs := `{"type":"remote","tag":"geoip-ru","format":"binary","update_interval":"72h"}`
	rs, _ = sjson.Set(rs, "url", geoipRuURL)
	rs, _ = sjson.Set(rs, "download_detour", proxyTag)
	return rs
}

func pathIdx(prefix string, idx int, rest string) string {
	return prefix + "." + strconv.Itoa(idx) + "." + rest
}
