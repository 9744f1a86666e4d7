// Package sdp implements the outbound description rewrite pipeline. Every
// stage is a pure function from description body plus peer configuration to
// a new body; nothing is mutated in place and applying the same input twice
// yields byte-identical output.
package sdp

import (
	"strings"

	"peerlink/internal/core/domain"
)

// OpusParams are the negotiated audio codec overrides injected by the
// pipeline.
type OpusParams struct {
	MaxAverageBitrate int
	Stereo            bool
	DTX               bool
	FEC               bool
}

// Config is the per-peer pipeline configuration, assembled from session-wide
// settings and the remote implementation's quirk profile.
type Config struct {
	// LegacyPreferenceMarkers are line prefixes left by some
	// implementations that the transport cannot honor.
	LegacyPreferenceMarkers []string

	Opus                OpusParams
	VideoMaxBitrateKbps int

	// UnsupportedFeedback lists rtcp-fb mechanisms the remote endpoint
	// cannot honor.
	UnsupportedFeedback []string

	// SCTPPort rewrites the data-channel transport port when non-zero.
	SCTPPort int

	DisableBundle bool
}

// Stage is one rewrite step. Stages never see or produce partial state.
type Stage func(body string, cfg Config) string

// Pipeline applies its stages in a fixed order.
type Pipeline struct {
	cfg    Config
	stages []Stage
}

// NewPipeline builds the standard six-stage pipeline.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		cfg: cfg,
		stages: []Stage{
			StripLegacyCodecPreference,
			ApplyCodecParameters,
			StripOrphanRetransmission,
			StripUnsupportedFeedback,
			RewriteSCTPPort,
			StripBundleGroup,
		},
	}
}

// Apply runs the description body through all stages and returns a new
// description of the same type.
func (p *Pipeline) Apply(desc domain.SessionDescription) domain.SessionDescription {
	body := desc.SDP
	for _, stage := range p.stages {
		body = stage(body, p.cfg)
	}
	return domain.SessionDescription{Type: desc.Type, SDP: body}
}

// splitLines normalizes an SDP body into lines without trailing carriage
// returns. joinLines restores canonical CRLF separators with a trailing
// terminator, so repeated round trips are stable.
func splitLines(body string) []string {
	body = strings.TrimSuffix(body, "\r\n")
	body = strings.TrimSuffix(body, "\n")
	raw := strings.Split(body, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		lines = append(lines, strings.TrimSuffix(line, "\r"))
	}
	return lines
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}
