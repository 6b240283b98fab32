package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tiredIsa/yotsubacore/internal/domain"
)

// defaultProfile is written the first time the profile is touched, so the
// user has a concrete file to edit.
const defaultProfile = `{
  "outbounds": [
    {
      "type": "socks",
      "tag": "proxy",
      "server": "example.com",
      "server_port": 1080
    },
    {
      "type": "direct",
      "tag": "direct"
    }
  ]
}
`

// ensureProfile returns the raw profile document. When the file does not
// exist it writes the template and reports PROFILE_MISSING with the path,
// which callers surface as actionable guidance rather than a hard failure.
func (b *Backend) ensureProfile() (string, error) {
	path := b.profilePath()
	if _, err := os.Stat(path); err != nil {
		if werr := os.WriteFile(path, []byte(defaultProfile), 0o644); werr != nil {
			return "", errf(CodeProfileInvalid, "%v", werr)
		}
		return "", errf(CodeProfileMissing, "%s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errf(CodeProfileInvalid, "%v", err)
	}
	doc := string(raw)
	if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return "", errf(CodeProfileInvalid, "root must be a JSON object")
	}
	return doc, nil
}

// loadProfile is ensureProfile with the missing case softened: the freshly
// written template is loaded and returned instead of an error.
func (b *Backend) loadProfile() (string, error) {
	doc, err := b.ensureProfile()
	if err == nil {
		return doc, nil
	}
	if !IsCode(err, CodeProfileMissing) {
		return "", err
	}
	raw, rerr := os.ReadFile(b.profilePath())
	if rerr != nil {
		return "", errf(CodeProfileInvalid, "%v", rerr)
	}
	return string(raw), nil
}

// saveProfile writes the raw profile document back, pretty-printed.
func (b *Backend) saveProfile(doc string) error {
	pretty := gjson.Get(doc, "@pretty").Raw
	if err := os.WriteFile(b.profilePath(), []byte(pretty), 0o644); err != nil {
		return errf(CodeProfileInvalid, "%v", err)
	}
	return nil
}

// profileData builds the wholesale profile view from a raw document.
func (b *Backend) profileData(doc string) domain.ProfileData {
	var outbounds []string
	for _, ob := range gjson.Get(doc, "outbounds").Array() {
		outbounds = append(outbounds, ob.Raw)
	}
	return domain.ProfileData{
		Outbounds: outbounds,
		ActiveTag: b.loadProfileState().ActiveTag,
	}
}

// GetProfiles returns the outbound documents and the active tag.
func (b *Backend) GetProfiles(ctx context.Context) (domain.ProfileData, error) {
	doc, err := b.loadProfile()
	if err != nil {
		return domain.ProfileData{}, err
	}
	return b.profileData(doc), nil
}

// SetActiveProfile records the selected outbound tag.
func (b *Backend) SetActiveProfile(ctx context.Context, tag string) (domain.ProfileData, error) {
	if err := b.saveProfileState(profileState{ActiveTag: tag}); err != nil {
		return domain.ProfileData{}, err
	}
	return b.GetProfiles(ctx)
}

// RemoveOutbound deletes the outbound with the given tag. The active tag is
// cleared when it pointed at the removed outbound.
func (b *Backend) RemoveOutbound(ctx context.Context, tag string) (domain.ProfileData, error) {
	doc, err := b.loadProfile()
	if err != nil {
		return domain.ProfileData{}, err
	}

	var kept []string
	for _, ob := range gjson.Get(doc, "outbounds").Array() {
		if ob.Get("tag").String() != tag {
			kept = append(kept, ob.Raw)
		}
	}
	doc, err = sjson.SetRaw(doc, "outbounds", "["+strings.Join(kept, ",")+"]")
	if err != nil {
		return domain.ProfileData{}, errf(CodeProfileInvalid, "%v", err)
	}
	if err := b.saveProfile(doc); err != nil {
		return domain.ProfileData{}, err
	}

	state := b.loadProfileState()
	if state.ActiveTag == tag {
		_ = b.saveProfileState(profileState{})
	}
	return b.profileData(doc), nil
}

// ImportShareLinks parses share links into outbounds. Bad links turn into
// per-item warnings; the call fails only when no link parses.
func (b *Backend) ImportShareLinks(ctx context.Context, links []string) (domain.ImportResult, error) {
	var outbounds []string
	var warnings []string
	for _, link := range links {
		if strings.TrimSpace(link) == "" {
			continue
		}
		ob, err := parseShareLink(link)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", link, err))
			continue
		}
		outbounds = append(outbounds, ob)
	}

	if len(outbounds) == 0 {
		detail := "no valid links"
		if len(warnings) > 0 {
			detail = strings.Join(warnings, "\n")
		}
		return domain.ImportResult{}, errf(CodeImportFailed, "%s", detail)
	}

	result, err := b.appendOutbounds(outbounds)
	if err != nil {
		return domain.ImportResult{}, err
	}
	result.Errors = append(result.Errors, warnings...)
	return result, nil
}

// ImportOutboundJSON imports a raw JSON payload: an array of outbounds, an
// object with an "outbounds" key, or a single outbound object.
func (b *Backend) ImportOutboundJSON(ctx context.Context, payload string) (domain.ImportResult, error) {
	if !gjson.Valid(payload) {
		return domain.ImportResult{}, errf(CodeImportInvalid, "invalid JSON")
	}

	parsed := gjson.Parse(payload)
	var outbounds []string
	switch {
	case parsed.IsArray():
		for _, ob := range parsed.Array() {
			outbounds = append(outbounds, ob.Raw)
		}
	case parsed.IsObject():
		if inner := parsed.Get("outbounds"); inner.Exists() {
			for _, ob := range inner.Array() {
				outbounds = append(outbounds, ob.Raw)
			}
		} else {
			outbounds = append(outbounds, parsed.Raw)
		}
	default:
		return domain.ImportResult{}, errf(CodeImportInvalid, "unsupported JSON format")
	}

	if len(outbounds) == 0 {
		return domain.ImportResult{}, errf(CodeImportInvalid, "no outbounds found")
	}
	return b.appendOutbounds(outbounds)
}

// appendOutbounds adds outbounds to the profile, uniquifying tags. The
// first added outbound becomes the active tag when none is set.
func (b *Backend) appendOutbounds(newOutbounds []string) (domain.ImportResult, error) {
	doc, err := b.loadProfile()
	if err != nil {
		return domain.ImportResult{}, err
	}

	used := make(map[string]struct{})
	for _, ob := range gjson.Get(doc, "outbounds").Array() {
		if tag := ob.Get("tag").String(); tag != "" {
			used[tag] = struct{}{}
		}
	}

	added := 0
	firstAdded := ""
	var warnings []string
	for _, ob := range newOutbounds {
		if !gjson.Valid(ob) || !gjson.Parse(ob).IsObject() {
			warnings = append(warnings, "invalid outbound object")
			continue
		}
		fallback := gjson.Get(ob, "type").String()
		if fallback == "" {
			fallback = "profile"
		}
		tag := uniqueTag(guessTag(ob, fallback), used)
		ob, err = sjson.Set(ob, "tag", tag)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("tag rewrite failed: %v", err))
			continue
		}
		doc, err = sjson.SetRaw(doc, "outbounds.-1", ob)
		if err != nil {
			return domain.ImportResult{}, errf(CodeProfileInvalid, "%v", err)
		}
		if firstAdded == "" {
			firstAdded = tag
		}
		added++
	}

	if err := b.saveProfile(doc); err != nil {
		return domain.ImportResult{}, err
	}

	state := b.loadProfileState()
	if state.ActiveTag == "" && firstAdded != "" {
		state.ActiveTag = firstAdded
		_ = b.saveProfileState(state)
	}

	return domain.ImportResult{
		Profile: b.profileData(doc),
		Added:   added,
		Errors:  warnings,
	}, nil
}

// guessTag picks a display tag from an outbound document: the explicit
// tag, the legacy "ps" name, or the fallback.
func guessTag(ob, fallback string) string {
	if tag := strings.TrimSpace(gjson.Get(ob, "tag").String()); tag != "" {
		return tag
	}
	if ps := gjson.Get(ob, "ps").String(); ps != "" {
		return ps
	}
	return fallback
}

// uniqueTag disambiguates a tag against the used set: "tag", "tag-2", ...
func uniqueTag(base string, used map[string]struct{}) string {
	candidate := base
	for i := 2; ; i++ {
		if _, taken := used[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	used[candidate] = struct{}{}
	return candidate
}
