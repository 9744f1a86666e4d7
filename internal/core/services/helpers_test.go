package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/sdp"
	memoryrepo "peerlink/internal/infrastructure/repositories/memory"
	"peerlink/pkg/config"

	"go.uber.org/zap/zaptest"
)

// fakeTransport scripts the transport port for service tests.
type fakeTransport struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	createOfferErr  error
	createAnswerErr error
	applyLocalErr   error
	applyRemoteErr  error
	rollbackErr     error
	statsErr        error
	sendersErr      error

	appliedLocal  []domain.SessionDescription
	appliedRemote []domain.SessionDescription
	candidates    []string

	// localOfferPending mirrors the transport signaling machine: a remote
	// offer is rejected while an unanswered local offer is applied.
	localOfferPending bool
	rollbacks         int

	signal              string
	onConnectivity      func(string)
	onGatheringComplete func()
	onLocalCandidate    func(string)

	statsSample *domain.StatSample
	senders     domain.SenderSnapshot

	bandwidthCalls [][2]int
	closed         bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		offerSDP:  "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n",
		answerSDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n",
		signal:    "new",
	}
}

func (f *fakeTransport) CreateLocalOffer(ctx context.Context, opts ports.OfferOptions) (domain.SessionDescription, error) {
	if f.createOfferErr != nil {
		return domain.SessionDescription{}, f.createOfferErr
	}
	return domain.SessionDescription{Type: domain.DescriptionOffer, SDP: f.offerSDP}, nil
}

func (f *fakeTransport) CreateLocalAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if f.createAnswerErr != nil {
		return domain.SessionDescription{}, f.createAnswerErr
	}
	return domain.SessionDescription{Type: domain.DescriptionAnswer, SDP: f.answerSDP}, nil
}

func (f *fakeTransport) ApplyLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	if f.applyLocalErr != nil {
		return f.applyLocalErr
	}
	f.mu.Lock()
	f.appliedLocal = append(f.appliedLocal, desc)
	if desc.Type == domain.DescriptionOffer {
		f.localOfferPending = true
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ApplyRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if f.applyRemoteErr != nil {
		return f.applyRemoteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc.Type == domain.DescriptionOffer && f.localOfferPending {
		return errors.New("remote offer rejected in have-local-offer")
	}
	if desc.Type == domain.DescriptionAnswer {
		f.localOfferPending = false
	}
	f.appliedRemote = append(f.appliedRemote, desc)
	return nil
}

func (f *fakeTransport) RollbackLocalDescription(ctx context.Context) error {
	if f.rollbackErr != nil {
		return f.rollbackErr
	}
	f.mu.Lock()
	f.localOfferPending = false
	f.rollbacks++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *fakeTransport) AddRemoteCandidate(ctx context.Context, candidate string) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, candidate)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ConnectivitySignal() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signal
}

func (f *fakeTransport) setSignal(raw string) {
	f.mu.Lock()
	f.signal = raw
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectivityChange(fn func(raw string)) { f.onConnectivity = fn }
func (f *fakeTransport) OnGatheringComplete(fn func())            { f.onGatheringComplete = fn }
func (f *fakeTransport) OnLocalCandidate(fn func(candidate string)) {
	f.onLocalCandidate = fn
}

func (f *fakeTransport) PullStats(ctx context.Context) (*domain.StatSample, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.statsSample, nil
}

func (f *fakeTransport) ListActiveSenders(ctx context.Context) (domain.SenderSnapshot, error) {
	if f.sendersErr != nil {
		return nil, f.sendersErr
	}
	return f.senders, nil
}

func (f *fakeTransport) UpdateBandwidthConstraint(audioKbps, videoKbps int) {
	f.mu.Lock()
	f.bandwidthCalls = append(f.bandwidthCalls, [2]int{audioKbps, videoKbps})
	f.mu.Unlock()
}

func (f *fakeTransport) constraintCalls() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int, len(f.bandwidthCalls))
	copy(out, f.bandwidthCalls)
	return out
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeSignaler records outbound descriptions and candidates.
type fakeSignaler struct {
	mu         sync.Mutex
	sendErr    error
	sent       []domain.SessionDescription
	meta       []domain.DescriptionMeta
	candidates []string
}

func (f *fakeSignaler) SendDescription(peerID domain.PeerID, desc domain.SessionDescription, meta domain.DescriptionMeta) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, desc)
	f.meta = append(f.meta, meta)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) SendCandidate(peerID domain.PeerID, candidate string) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, candidate)
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) sentDescriptions() []domain.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionDescription, len(f.sent))
	copy(out, f.sent)
	return out
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu           sync.Mutex
	phases       []string
	failures     []error
	connectivity []domain.ConnectivityState
	bandwidth    [][2]int
}

func (r *recordingSink) NegotiationProgress(peerID domain.PeerID, phase string) {
	r.mu.Lock()
	r.phases = append(r.phases, phase)
	r.mu.Unlock()
}

func (r *recordingSink) NegotiationFailed(peerID domain.PeerID, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
}

func (r *recordingSink) ConnectivityChanged(peerID domain.PeerID, state domain.ConnectivityState) {
	r.mu.Lock()
	r.connectivity = append(r.connectivity, state)
	r.mu.Unlock()
}

func (r *recordingSink) BandwidthAdjusted(peerID domain.PeerID, audioKbps, videoKbps int) {
	r.mu.Lock()
	r.bandwidth = append(r.bandwidth, [2]int{audioKbps, videoKbps})
	r.mu.Unlock()
}

func (r *recordingSink) connectivityStates() []domain.ConnectivityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ConnectivityState, len(r.connectivity))
	copy(out, r.connectivity)
	return out
}

func (r *recordingSink) recordedPhases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.phases))
	copy(out, r.phases)
	return out
}

// fixture assembles the full service graph over fakes.
type fixture struct {
	sessions     *SessionService
	negotiation  *NegotiationService
	connectivity *ConnectivityService
	bandwidth    *BandwidthService
	sampler      *StatsSampler
	advisor      *RenegotiationService
	signaler     *fakeSignaler
	events       *recordingSink
}

type fixtureOptions struct {
	quirks      map[string]config.QuirkProfile
	bandwidth   BandwidthConfig
	negotiation NegotiationConfig
}

func defaultFixtureOptions() fixtureOptions {
	return fixtureOptions{
		quirks: map[string]config.QuirkProfile{},
		bandwidth: BandwidthConfig{
			Enabled:         true,
			LimitPercentage: 90,
			WindowLength:    5,
		},
		negotiation: NegotiationConfig{
			LocalID:      "local-peer",
			LocalWeight:  500,
			ReceiveAudio: true,
			ReceiveVideo: true,
		},
	}
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	events := &recordingSink{}
	signaler := &fakeSignaler{}

	sessions := NewSessionService(memoryrepo.NewMemorySessionRegistry(), events, log)
	bandwidth := NewBandwidthService(opts.bandwidth, events, log)
	sampler := NewStatsSampler(SamplerConfig{}, bandwidth, ports.NopStatsSink{}, log)
	connectivity := NewConnectivityService(sessions, opts.quirks, sampler, bandwidth, events, log)
	advisor := NewRenegotiationService(sessions, log)
	pipeline := sdp.NewPipeline(sdp.Config{})
	negotiation := NewNegotiationService(opts.negotiation, sessions, pipeline, signaler, advisor, events, log)
	sessions.Bind(connectivity, negotiation, sampler, bandwidth)

	return &fixture{
		sessions:     sessions,
		negotiation:  negotiation,
		connectivity: connectivity,
		bandwidth:    bandwidth,
		sampler:      sampler,
		advisor:      advisor,
		signaler:     signaler,
		events:       events,
	}
}

func (f *fixture) admit(t *testing.T, peerID domain.PeerID, transport *fakeTransport, opts AdmitOptions) *domain.PeerSession {
	t.Helper()
	session, err := f.sessions.AdmitPeer(context.Background(), peerID, transport, opts)
	if err != nil {
		t.Fatalf("admit %s: %v", peerID, err)
	}
	return session
}
