package sdp

import (
	"strconv"
	"strings"
)

// StripLegacyCodecPreference removes preference marker lines left by legacy
// implementations (stage 1).
func StripLegacyCodecPreference(body string, cfg Config) string {
	markers := cfg.LegacyPreferenceMarkers
	if len(markers) == 0 {
		markers = []string{"a=x-google-flag:conference"}
	}
	lines := splitLines(body)
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		drop := false
		for _, marker := range markers {
			if strings.HasPrefix(line, marker) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, line)
		}
	}
	return joinLines(kept)
}

// ApplyCodecParameters injects per-codec fmtp overrides (stage 2): opus
// bitrate cap, stereo, DTX and FEC flags, and the video bitrate cap.
func ApplyCodecParameters(body string, cfg Config) string {
	lines := splitLines(body)

	opusPTs := payloadTypesForCodec(lines, "opus")
	videoPTs := make(map[string]bool)
	for _, codec := range []string{"VP8", "VP9", "H264"} {
		for pt := range payloadTypesForCodec(lines, codec) {
			videoPTs[pt] = true
		}
	}

	out := make([]string, 0, len(lines)+len(opusPTs)+len(videoPTs))
	fmtpSeen := make(map[string]bool)

	for _, line := range lines {
		if pt, params, ok := parseFmtp(line); ok {
			switch {
			case opusPTs[pt]:
				fmtpSeen[pt] = true
				out = append(out, "a=fmtp:"+pt+" "+mergeParams(params, opusOverrides(cfg.Opus)))
				continue
			case videoPTs[pt] && cfg.VideoMaxBitrateKbps > 0:
				fmtpSeen[pt] = true
				out = append(out, "a=fmtp:"+pt+" "+mergeParams(params, []kv{{"x-google-max-bitrate", strconv.Itoa(cfg.VideoMaxBitrateKbps)}}))
				continue
			}
		}
		out = append(out, line)
	}

	// Codecs advertised without an fmtp line get one appended after their
	// rtpmap entry.
	withNew := make([]string, 0, len(out))
	for _, line := range out {
		withNew = append(withNew, line)
		pt, ok := parseRtpmapPT(line)
		if !ok || fmtpSeen[pt] {
			continue
		}
		switch {
		case opusPTs[pt]:
			withNew = append(withNew, "a=fmtp:"+pt+" "+mergeParams("", opusOverrides(cfg.Opus)))
		case videoPTs[pt] && cfg.VideoMaxBitrateKbps > 0:
			withNew = append(withNew, "a=fmtp:"+pt+" x-google-max-bitrate="+strconv.Itoa(cfg.VideoMaxBitrateKbps))
		}
	}
	return joinLines(withNew)
}

// StripOrphanRetransmission drops rtx payload references whose apt target is
// not advertised in the body (stage 3).
func StripOrphanRetransmission(body string, cfg Config) string {
	lines := splitLines(body)

	advertised := make(map[string]bool)
	for _, line := range lines {
		if pt, ok := parseRtpmapPT(line); ok {
			advertised[pt] = true
		}
	}

	orphan := make(map[string]bool)
	for _, line := range lines {
		pt, params, ok := parseFmtp(line)
		if !ok {
			continue
		}
		for _, part := range strings.Split(params, ";") {
			part = strings.TrimSpace(part)
			if target, found := strings.CutPrefix(part, "apt="); found && !advertised[target] {
				orphan[pt] = true
			}
		}
	}
	if len(orphan) == 0 {
		return joinLines(lines)
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if pt, ok := parseRtpmapPT(line); ok && orphan[pt] {
			continue
		}
		if pt, _, ok := parseFmtp(line); ok && orphan[pt] {
			continue
		}
		if strings.HasPrefix(line, "m=") {
			line = stripPayloadsFromMediaLine(line, orphan)
		}
		kept = append(kept, line)
	}
	return joinLines(kept)
}

// StripUnsupportedFeedback removes rtcp-fb lines the remote endpoint cannot
// honor (stage 4).
func StripUnsupportedFeedback(body string, cfg Config) string {
	if len(cfg.UnsupportedFeedback) == 0 {
		return body
	}
	lines := splitLines(body)
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if fb, ok := parseRtcpFb(line); ok {
			unsupported := false
			for _, mechanism := range cfg.UnsupportedFeedback {
				if fb == mechanism {
					unsupported = true
					break
				}
			}
			if unsupported {
				continue
			}
		}
		kept = append(kept, line)
	}
	return joinLines(kept)
}

// RewriteSCTPPort replaces the data-channel transport port (stage 5). Both
// the current sctp-port attribute and the legacy sctpmap form are handled.
func RewriteSCTPPort(body string, cfg Config) string {
	if cfg.SCTPPort == 0 {
		return body
	}
	port := strconv.Itoa(cfg.SCTPPort)
	lines := splitLines(body)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "a=sctp-port:"):
			out = append(out, "a=sctp-port:"+port)
		case strings.HasPrefix(line, "a=sctpmap:"):
			fields := strings.Fields(strings.TrimPrefix(line, "a=sctpmap:"))
			if len(fields) >= 1 {
				fields[0] = port
				out = append(out, "a=sctpmap:"+strings.Join(fields, " "))
			} else {
				out = append(out, line)
			}
		default:
			out = append(out, line)
		}
	}
	return joinLines(out)
}

// StripBundleGroup removes the multiplexing group when bundling is disabled
// (stage 6).
func StripBundleGroup(body string, cfg Config) string {
	if !cfg.DisableBundle {
		return body
	}
	lines := splitLines(body)
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, "a=group:BUNDLE") {
			continue
		}
		kept = append(kept, line)
	}
	return joinLines(kept)
}

type kv struct {
	key   string
	value string
}

func opusOverrides(p OpusParams) []kv {
	overrides := make([]kv, 0, 4)
	if p.MaxAverageBitrate > 0 {
		overrides = append(overrides, kv{"maxaveragebitrate", strconv.Itoa(p.MaxAverageBitrate)})
	}
	overrides = append(overrides,
		kv{"stereo", boolFlag(p.Stereo)},
		kv{"usedtx", boolFlag(p.DTX)},
		kv{"useinbandfec", boolFlag(p.FEC)},
	)
	return overrides
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// mergeParams overlays overrides onto an existing fmtp parameter list,
// preserving the order of untouched parameters and appending new keys in
// override order.
func mergeParams(existing string, overrides []kv) string {
	parts := []string{}
	if existing != "" {
		parts = strings.Split(existing, ";")
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(parts)+len(overrides))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := part
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			key = part[:idx]
		}
		replaced := false
		for _, ov := range overrides {
			if ov.key == key {
				out = append(out, ov.key+"="+ov.value)
				seen[key] = true
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, part)
		}
	}
	for _, ov := range overrides {
		if !seen[ov.key] {
			out = append(out, ov.key+"="+ov.value)
		}
	}
	return strings.Join(out, ";")
}

// payloadTypesForCodec returns the payload types whose rtpmap encoding name
// matches codec (case-insensitive).
func payloadTypesForCodec(lines []string, codec string) map[string]bool {
	pts := make(map[string]bool)
	for _, line := range lines {
		rest, found := strings.CutPrefix(line, "a=rtpmap:")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			name = name[:idx]
		}
		if strings.EqualFold(name, codec) {
			pts[fields[0]] = true
		}
	}
	return pts
}

func parseRtpmapPT(line string) (string, bool) {
	rest, found := strings.CutPrefix(line, "a=rtpmap:")
	if !found {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return "", false
	}
	return fields[0], true
}

func parseFmtp(line string) (pt, params string, ok bool) {
	rest, found := strings.CutPrefix(line, "a=fmtp:")
	if !found {
		return "", "", false
	}
	idx := strings.IndexByte(rest, ' ')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func parseRtcpFb(line string) (mechanism string, ok bool) {
	rest, found := strings.CutPrefix(line, "a=rtcp-fb:")
	if !found {
		return "", false
	}
	idx := strings.IndexByte(rest, ' ')
	if idx < 0 {
		return "", false
	}
	return rest[idx+1:], true
}

func stripPayloadsFromMediaLine(line string, drop map[string]bool) string {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return line
	}
	kept := append(make([]string, 0, len(fields)), fields[:3]...)
	for _, pt := range fields[3:] {
		if drop[pt] {
			continue
		}
		kept = append(kept, pt)
	}
	return strings.Join(kept, " ")
}
