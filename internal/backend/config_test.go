package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(DefaultConfig(t.TempDir()), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func writeProfile(t *testing.T, b *Backend, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(b.profilePath(), []byte(doc), 0o644))
}

func readGenerated(t *testing.T, b *Backend) string {
	t.Helper()
	raw, err := os.ReadFile(b.generatedConfigPath())
	require.NoError(t, err)
	return string(raw)
}

// TestBuildConfig_MissingProfileWritesTemplate verifies first-run behavior:
// the template is materialized and the error points the user at it.
func TestBuildConfig_MissingProfileWritesTemplate(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.buildConfig(domain.ModeFull, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeProfileMissing))
	assert.Contains(t, err.Error(), b.profilePath())

	raw, rerr := os.ReadFile(b.profilePath())
	require.NoError(t, rerr)
	assert.True(t, gjson.Valid(string(raw)))
	assert.Equal(t, "proxy", gjson.Get(string(raw), "outbounds.0.tag").String())
}

// TestBuildConfig_InvalidProfile verifies malformed JSON is rejected.
func TestBuildConfig_InvalidProfile(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, "{ not json")

	_, err := b.buildConfig(domain.ModeFull, nil)
	assert.True(t, IsCode(err, CodeProfileInvalid))
}

// TestBuildConfig_MissingOutbounds verifies a profile without outbounds.
func TestBuildConfig_MissingOutbounds(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"log":{"level":"debug"}}`)

	_, err := b.buildConfig(domain.ModeFull, nil)
	assert.True(t, IsCode(err, CodeOutboundsMissing))
}

// TestBuildConfig_FullMode verifies the full-mode config shape: proxy as
// the final route, bypass rules for Russian destinations, and direct
// process rules for the exempted apps.
func TestBuildConfig_FullMode(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[
		{"type":"vless","tag":"home","server":"example.com","server_port":443},
		{"type":"direct","tag":"direct"}
	]}`)
	require.NoError(t, b.saveProfileState(profileState{ActiveTag: "home"}))

	path, err := b.buildConfig(domain.ModeFull, []domain.AppRule{
		{Path: `C:\torrent\qbittorrent.exe`, Mode: domain.RuleModeDirect},
		{Path: "game.exe", Mode: domain.RuleModeDirect},
	})
	require.NoError(t, err)
	assert.Equal(t, b.generatedConfigPath(), path)

	doc := readGenerated(t, b)
	assert.Equal(t, "proxy", gjson.Get(doc, "route.final").String())
	assert.True(t, gjson.Get(doc, "route.auto_detect_interface").Bool())

	// Inbounds are always replaced with the tun plus local mixed pair.
	assert.Equal(t, "tun", gjson.Get(doc, "inbounds.0.type").String())
	assert.Equal(t, "mixed", gjson.Get(doc, "inbounds.1.type").String())
	assert.Equal(t, "local-proxy", gjson.Get(doc, "inbounds.1.tag").String())
	assert.Equal(t, "127.0.0.1", gjson.Get(doc, "inbounds.1.listen").String())
	assert.Equal(t, int64(2080), gjson.Get(doc, "inbounds.1.listen_port").Int())

	rules := gjson.Get(doc, "route.rules").Array()
	require.NotEmpty(t, rules)
	assert.Equal(t, "hijack-dns", rules[0].Get("action").String())
	assert.Equal(t, int64(53), rules[1].Get("port").Int())
	assert.Equal(t, ".ru", rules[2].Get("domain_suffix.0").String())
	assert.Equal(t, "geoip-ru", rules[2].Get("rule_set.0").String())
	assert.Equal(t, "local-proxy", rules[3].Get("inbound.0").String())

	direct := rules[4]
	assert.Equal(t, "direct", direct.Get("outbound").String())
	assert.Equal(t, `C:\torrent\qbittorrent.exe`, direct.Get("process_path.0").String())
	assert.Equal(t, "game.exe", direct.Get("process_name.0").String())

	// The proxy selector is synthesized around the active tag.
	selector := findOutbound(doc, "proxy")
	require.True(t, selector.Exists())
	assert.Equal(t, "selector", selector.Get("type").String())
	assert.Equal(t, "home", selector.Get("default").String())
}

// TestBuildConfig_SelectedMode verifies that selected mode keeps direct as
// the final route and steers only ruled processes at the proxy.
func TestBuildConfig_SelectedMode(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[
		{"type":"shadowsocks","tag":"srv","server":"s.example","server_port":8388,"method":"aes-256-gcm","password":"x"}
	]}`)

	_, err := b.buildConfig(domain.ModeSelected, []domain.AppRule{
		{Path: "zulu.exe", Mode: domain.RuleModeProxy},
		{Path: "alpha.exe", Mode: domain.RuleModeProxy},
		{Path: "alpha.exe", Mode: domain.RuleModeProxy},
	})
	require.NoError(t, err)

	doc := readGenerated(t, b)
	assert.Equal(t, "direct", gjson.Get(doc, "route.final").String())

	rules := gjson.Get(doc, "route.rules").Array()
	proxyRule := rules[len(rules)-1]
	assert.Equal(t, "proxy", proxyRule.Get("outbound").String())
	// Names come out sorted and deduplicated.
	names := proxyRule.Get("process_name").Array()
	require.Len(t, names, 2)
	assert.Equal(t, "alpha.exe", names[0].String())
	assert.Equal(t, "zulu.exe", names[1].String())

	// A direct outbound is appended when the profile lacks one.
	assert.True(t, findOutbound(doc, "direct").Exists())
}

// TestBuildConfig_RemoteRuleSet verifies the geoip rule set is fetched
// remotely through the proxy when no local file is provisioned.
func TestBuildConfig_RemoteRuleSet(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[{"type":"vless","tag":"home","server":"example.com","server_port":443}]}`)

	_, err := b.buildConfig(domain.ModeFull, nil)
	require.NoError(t, err)

	doc := readGenerated(t, b)
	rs := gjson.Get(doc, "route.rule_set.0")
	assert.Equal(t, "remote", rs.Get("type").String())
	assert.Equal(t, geoipRuURL, rs.Get("url").String())
	assert.Equal(t, "proxy", rs.Get("download_detour").String())
}

// TestBuildConfig_LocalRuleSet verifies a provisioned rule-set file wins
// over the remote download.
func TestBuildConfig_LocalRuleSet(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[{"type":"vless","tag":"home","server":"example.com","server_port":443}]}`)
	require.NoError(t, os.MkdirAll(filepath.Dir(b.ruleSetPath("geoip-ru.srs")), 0o755))
	require.NoError(t, os.WriteFile(b.ruleSetPath("geoip-ru.srs"), []byte{0x01}, 0o644))

	_, err := b.buildConfig(domain.ModeFull, nil)
	require.NoError(t, err)

	doc := readGenerated(t, b)
	rs := gjson.Get(doc, "route.rule_set.0")
	assert.Equal(t, "local", rs.Get("type").String())
	assert.Equal(t, b.ruleSetPath("geoip-ru.srs"), rs.Get("path").String())
}

// TestEnsureProxySelector_RenamesConcreteProxy verifies that a concrete
// outbound holding the proxy tag is renamed and wrapped in a selector when
// other candidates exist.
func TestEnsureProxySelector_RenamesConcreteProxy(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[
		{"type":"vmess","tag":"proxy","server":"old.example","server_port":443},
		{"type":"trojan","tag":"backup","server":"b.example","server_port":443}
	]}`)

	_, err := b.buildConfig(domain.ModeFull, nil)
	require.NoError(t, err)

	doc := readGenerated(t, b)
	origin := findOutbound(doc, "proxy-origin")
	require.True(t, origin.Exists())
	assert.Equal(t, "vmess", origin.Get("type").String())

	selector := findOutbound(doc, "proxy")
	require.True(t, selector.Exists())
	assert.Equal(t, "selector", selector.Get("type").String())
	candidates := selector.Get("outbounds").Array()
	tags := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tags = append(tags, c.String())
	}
	assert.Contains(t, tags, "proxy-origin")
	assert.Contains(t, tags, "backup")
}

// TestEnsureProxySelector_LoneConcreteProxyKept verifies that a single
// concrete proxy outbound is used as is.
func TestEnsureProxySelector_LoneConcreteProxyKept(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[{"type":"vmess","tag":"proxy","server":"only.example","server_port":443}]}`)

	_, err := b.buildConfig(domain.ModeFull, nil)
	require.NoError(t, err)

	doc := readGenerated(t, b)
	proxy := findOutbound(doc, "proxy")
	require.True(t, proxy.Exists())
	assert.Equal(t, "vmess", proxy.Get("type").String())
	assert.False(t, findOutbound(doc, "proxy-origin").Exists())
}

// TestBuildConfig_NoUsableCandidates verifies the dedicated error when
// nothing can serve as the proxy target.
func TestBuildConfig_NoUsableCandidates(t *testing.T) {
	b := newTestBackend(t)
	writeProfile(t, b, `{"outbounds":[{"type":"direct","tag":"direct"}]}`)

	_, err := b.buildConfig(domain.ModeFull, nil)
	assert.True(t, IsCode(err, CodeProxyTagMissing))
}

// TestPartitionRules verifies path/name splitting, sorting, and dedup.
func TestPartitionRules(t *testing.T) {
	targets := partitionRules([]domain.AppRule{
		{Path: "b.exe", Mode: domain.RuleModeProxy},
		{Path: "a.exe", Mode: domain.RuleModeProxy},
		{Path: "a.exe", Mode: domain.RuleModeProxy},
		{Path: `C:\z\app.exe`, Mode: domain.RuleModeProxy},
		{Path: "skip.exe", Mode: domain.RuleModeDirect},
		{Path: `"/usr/bin/tool"`, Mode: domain.RuleModeDirect},
		{Path: "  ", Mode: domain.RuleModeProxy},
	})

	assert.Equal(t, []string{"a.exe", "b.exe"}, targets.proxyNames)
	assert.Equal(t, []string{`C:\z\app.exe`}, targets.proxyPaths)
	assert.Equal(t, []string{"skip.exe"}, targets.directNames)
	assert.Equal(t, []string{"/usr/bin/tool"}, targets.directPaths)
}

func findOutbound(doc, tag string) gjson.Result {
	for _, ob := range gjson.Get(doc, "outbounds").Array() {
		if ob.Get("tag").String() == tag {
			return ob
		}
	}
	return gjson.Result{}
}
