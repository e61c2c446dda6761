package engine

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/voxtide/voxtide/pkg/audio/wav"
	dfake "github.com/voxtide/voxtide/pkg/device/fake"
	"github.com/voxtide/voxtide/pkg/eou"
	"github.com/voxtide/voxtide/pkg/media"
	"github.com/voxtide/voxtide/pkg/playback"
	"github.com/voxtide/voxtide/pkg/realtime"
	"github.com/voxtide/voxtide/pkg/vad"
)

var testFormat = media.Format{SampleRate: 1000, NumChannels: 1, BitsPerSample: 16}

// fakePeer is a scripted stand-in for the remote conversation service.
type fakePeer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	received chan realtime.ClientEvent

	mu      sync.Mutex
	writeMu sync.Mutex
	conns   []*websocket.Conn
	hits    int
	refuse  bool
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	p := &fakePeer{t: t, received: make(chan realtime.ClientEvent, 256)}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePeer) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits++
	refuse := p.refuse
	p.mu.Unlock()

	if refuse {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()

	for {
		var ev realtime.ClientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case p.received <- ev:
		default:
		}
	}
}

func (p *fakePeer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakePeer) send(ev realtime.ServerEvent) {
	p.mu.Lock()
	var conn *websocket.Conn
	if len(p.conns) > 0 {
		conn = p.conns[len(p.conns)-1]
	}
	p.mu.Unlock()
	if conn == nil {
		p.t.Fatal("no open peer connection")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteJSON(ev); err != nil {
		p.t.Errorf("peer write failed: %v", err)
	}
}

func (p *fakePeer) closeLatest() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) > 0 {
		p.conns[len(p.conns)-1].Close()
	}
}

func (p *fakePeer) setRefuse(refuse bool) {
	p.mu.Lock()
	p.refuse = refuse
	p.mu.Unlock()
}

func (p *fakePeer) hitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits
}

func (p *fakePeer) connCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// awaitEvent drains the peer's inbox until an event of the given type
// arrives, ignoring everything else (mic appends in particular).
func awaitEvent(t *testing.T, p *fakePeer, eventType string) realtime.ClientEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.received:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

// countEvents counts events of the given type arriving within the window.
func countEvents(p *fakePeer, eventType string, window time.Duration) int {
	count := 0
	deadline := time.After(window)
	for {
		select {
		case ev := <-p.received:
			if ev.Type == eventType {
				count++
			}
		case <-deadline:
			return count
		}
	}
}

func credServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer app-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"client_secret":{"value":"`+secret+`"},"instructions":"be concise"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) Config {
	return Config{
		Format: testFormat,
		VAD: vad.Config{
			Decimation:          1,
			ListenThreshold:     0.02,
			InterruptThreshold:  0.05,
			InterruptFrames:     2,
			SilenceConfirmation: 20 * time.Millisecond,
		},
		Playback:           playback.Config{MinPrebuffer: time.Millisecond, MaxUnit: time.Second},
		SegmentDir:         t.TempDir(),
		SuppressionWindow:  time.Millisecond,
		MinRequestInterval: 10 * time.Millisecond,
		ResponseWatchdog:   150 * time.Millisecond,
		BargeInGrace:       time.Second,
	}
}

func newTestEngine(t *testing.T, peer *fakePeer, autoComplete bool) (*Engine, *dfake.Microphone, *dfake.Route, *dfake.Player) {
	t.Helper()
	cred := credServer(t, "short-lived-secret")
	connector := NewConnector(ConnectorConfig{
		TokenURL:         cred.URL,
		AppToken:         "app-token",
		ChannelURL:       peer.url(),
		Model:            "gpt-realtime",
		Voice:            "sol",
		MaxReconnects:    2,
		ReconnectBackoff: 10 * time.Millisecond,
	}, quietLogger())

	mic := &dfake.Microphone{}
	route := &dfake.Route{}
	player := &dfake.Player{AutoComplete: autoComplete}
	e := New(testConfig(t), connector, mic, route, player, quietLogger())
	t.Cleanup(e.Stop)
	return e, mic, route, player
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", e.State(), want)
}

func TestStartHappyPath(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, mic, route, _ := newTestEngine(t, peer, true)

	is.NoErr(e.Start(context.Background()))
	is.Equal(e.State(), StateListening)
	is.True(mic.Started())
	is.Equal(route.Mode(), "capture")

	// First outbound message is the session configuration, carrying the
	// voice and the instructions minted by the credential endpoint.
	cfg := awaitEvent(t, peer, realtime.TypeSessionUpdate)
	is.True(cfg.Session != nil)
	is.Equal(cfg.Session.Voice, "sol")
	is.Equal(cfg.Session.Instructions, "be concise")
	is.True(cfg.Session.TurnDetection != nil)
	is.Equal(cfg.Session.TurnDetection.Type, "server_vad")
}

func TestStartWhileRunningIsNoOp(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	is.NoErr(e.Start(context.Background()))
	err := e.Start(context.Background())
	is.True(err == ErrAlreadyStarted)
	is.Equal(peer.connCount(), 1) // never a second session
}

func TestStartPermissionDeniedReturnsToIdle(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, mic, _, _ := newTestEngine(t, peer, true)
	mic.DenyInit = true

	err := e.Start(context.Background())
	is.True(err != nil)
	is.Equal(e.State(), StateIdle) // advisory, not error state
	is.True(e.LastError() != "")
	is.Equal(peer.connCount(), 0) // no channel was ever opened

	// Permission denial does not poison later starts.
	mic.DenyInit = false
	is.NoErr(e.Start(context.Background()))
	is.Equal(e.State(), StateListening)
}

func TestStartCredentialFailureIsFatal(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer bad.Close()

	connector := NewConnector(ConnectorConfig{
		TokenURL:   bad.URL,
		AppToken:   "app-token",
		ChannelURL: peer.url(),
	}, quietLogger())
	e := New(testConfig(t), connector, &dfake.Microphone{}, &dfake.Route{}, &dfake.Player{}, quietLogger())
	t.Cleanup(e.Stop)

	err := e.Start(context.Background())
	is.True(err != nil)
	is.True(IsFatal(err))
	is.Equal(e.State(), StateError)
}

func TestLocalSpeechEndTriggersCommitAndResponse(t *testing.T) {
	peer := newFakePeer(t)
	e, mic, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 3 x 50ms of loud tone opens the utterance, 2 x 50ms of silence
	// crosses the confirmation window and ends it.
	for i := 0; i < 3; i++ {
		mic.EmitTone(testFormat, 50, 100, 0.5)
	}
	for i := 0; i < 2; i++ {
		mic.EmitTone(testFormat, 50, 100, 0)
	}

	awaitEvent(t, peer, realtime.TypeInputAudioCommit)
	awaitEvent(t, peer, realtime.TypeResponseCreate)
}

func TestRacingEndOfSpeechSignalsProduceOneRequest(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStopped})
	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStopped})

	awaitEvent(t, peer, realtime.TypeInputAudioCommit)
	// The racing second signal is absorbed by the pending flag.
	is.Equal(countEvents(peer, realtime.TypeInputAudioCommit, 100*time.Millisecond), 0)
}

func TestFirstAudioDeltaEntersSpeaking(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, route, player := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	pcm := make([]byte, 200)
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseCreated, ResponseID: "r1"})
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	waitState(t, e, StateSpeaking)
	is.Equal(route.Mode(), "playback")

	// Turn complete: queue drains, engine resumes listening on capture.
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseAudioDone, ResponseID: "r1"})
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseDone, ResponseID: "r1"})
	waitState(t, e, StateListening)
	is.Equal(route.Mode(), "capture")
	is.True(len(player.Played()) >= 1)
}

func TestServerBargeInCancelsOnceAndDiscardsTrailingAudio(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, player := newTestEngine(t, peer, false)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	pcm := make([]byte, 400)
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseCreated, ResponseID: "r1"})
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	waitState(t, e, StateSpeaking)

	// Wait until a unit is actually rendering before interrupting.
	deadline := time.Now().Add(2 * time.Second)
	for player.Playing() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	is.True(player.Playing() != "")

	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStarted})
	awaitEvent(t, peer, realtime.TypeResponseCancel)
	waitState(t, e, StateListening)
	is.True(player.Stops() >= 1)

	// Exactly one cancel, even if the peer repeats the signal.
	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStarted})
	is.Equal(countEvents(peer, realtime.TypeResponseCancel, 100*time.Millisecond), 0)

	// Trailing audio from the cancelled response never plays.
	before := len(player.Played())
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	time.Sleep(50 * time.Millisecond)
	is.Equal(len(player.Played()), before)
	is.Equal(e.State(), StateListening)
}

func TestClassifierBargeIn(t *testing.T) {
	peer := newFakePeer(t)
	e, mic, _, player := newTestEngine(t, peer, false)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	pcm := make([]byte, 400)
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseCreated, ResponseID: "r1"})
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	waitState(t, e, StateSpeaking)

	// Two consecutive frames over the barge-in threshold fire the
	// interruption.
	mic.EmitTone(testFormat, 50, 100, 0.5)
	mic.EmitTone(testFormat, 50, 100, 0.5)

	awaitEvent(t, peer, realtime.TypeResponseCancel)
	waitState(t, e, StateListening)
	if player.Stops() == 0 {
		t.Fatal("playback was not stopped on barge-in")
	}
}

func TestWatchdogClearsStuckPendingResponse(t *testing.T) {
	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStopped})
	awaitEvent(t, peer, realtime.TypeInputAudioCommit)

	// No audio ever arrives; after the watchdog window the user can try
	// again without restarting the session.
	time.Sleep(200 * time.Millisecond)
	peer.send(realtime.ServerEvent{Type: realtime.TypeSpeechStopped})
	awaitEvent(t, peer, realtime.TypeInputAudioCommit)

	if e.State() != StateListening {
		t.Fatalf("state = %s, want listening", e.State())
	}
}

func TestReconnectBoundSettlesIntoError(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	// Refuse every future dial, then drop the live connection.
	peer.setRefuse(true)
	peer.closeLatest()

	waitState(t, e, StateError)

	// One successful open plus exactly two failed reconnect attempts.
	is.Equal(peer.hitCount(), 3)
	time.Sleep(100 * time.Millisecond)
	is.Equal(peer.hitCount(), 3) // no third attempt after settling
	is.True(e.LastError() != "")
}

func TestReconnectRecoversWithinBudget(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	peer.closeLatest()

	// The engine reconnects and reconfigures the fresh session.
	awaitEvent(t, peer, realtime.TypeSessionUpdate)
	waitState(t, e, StateListening)
	is.Equal(peer.connCount(), 2)
}

func TestStopIsIdempotentAndForcesIdle(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, mic, _, _ := newTestEngine(t, peer, true)

	is.NoErr(e.Start(context.Background()))
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	e.Stop()
	e.Stop()
	is.Equal(e.State(), StateIdle)
	is.True(!mic.Started())

	// A stopped engine can start a completely fresh session.
	is.NoErr(e.Start(context.Background()))
	waitState(t, e, StateListening)
	is.Equal(peer.connCount(), 2)
}

func TestStopDuringConnectAbortsStart(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	cred := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"client_secret":{"value":"short-lived-secret"},"instructions":""}`)
	}))
	t.Cleanup(cred.Close)

	connector := NewConnector(ConnectorConfig{
		TokenURL:   cred.URL,
		AppToken:   "app-token",
		ChannelURL: peer.url(),
	}, quietLogger())
	mic := &dfake.Microphone{}
	e := New(testConfig(t), connector, mic, &dfake.Route{}, &dfake.Player{AutoComplete: true}, quietLogger())
	t.Cleanup(e.Stop)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(context.Background()) }()
	waitState(t, e, StateConnecting)

	// The stop lands while Start is still blocked in the credential
	// fetch. It must not return until the start has been cancelled.
	e.Stop()

	err := <-errCh
	is.True(err != nil) // the superseded start does not report success
	is.Equal(e.State(), StateIdle)
	is.True(!mic.Started())
	is.Equal(peer.connCount(), 0) // the channel was never dialed

	// Nothing of the aborted start survives; a fresh start works.
	is.NoErr(e.Start(context.Background()))
	waitState(t, e, StateListening)
	is.Equal(peer.connCount(), 1)
}

func TestStopWhileSpeakingForcesIdle(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, false)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	pcm := make([]byte, 400)
	peer.send(realtime.ServerEvent{Type: realtime.TypeResponseCreated, ResponseID: "r1"})
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	waitState(t, e, StateSpeaking)

	// More audio is in flight when the stop lands. Stop joins the event
	// loop before reporting idle, so no late transition can undo it.
	peer.send(realtime.ServerEvent{
		Type:       realtime.TypeResponseAudioDelta,
		ResponseID: "r1",
		Delta:      base64.StdEncoding.EncodeToString(pcm),
	})
	e.Stop()
	is.Equal(e.State(), StateIdle)
	time.Sleep(50 * time.Millisecond)
	is.Equal(e.State(), StateIdle)

	is.NoErr(e.Start(context.Background()))
	waitState(t, e, StateListening)
}

func TestCaptureRecordingWritesWAV(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	cred := credServer(t, "short-lived-secret")
	connector := NewConnector(ConnectorConfig{
		TokenURL:   cred.URL,
		AppToken:   "app-token",
		ChannelURL: peer.url(),
	}, quietLogger())

	cfg := testConfig(t)
	cfg.RecordPath = filepath.Join(t.TempDir(), "capture.wav")

	mic := &dfake.Microphone{}
	e := New(cfg, connector, mic, &dfake.Route{}, &dfake.Player{AutoComplete: true}, quietLogger())
	t.Cleanup(e.Stop)

	is.NoErr(e.Start(context.Background()))
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	for i := 0; i < 3; i++ {
		mic.EmitTone(testFormat, 50, 100, 0.5)
	}
	awaitEvent(t, peer, realtime.TypeInputAudioAppend)
	e.Stop()

	// The recording is a finalized WAV holding the captured frames.
	f, err := os.Open(cfg.RecordPath)
	is.NoErr(err)
	defer f.Close()
	header, err := wav.DecodeHeader(f)
	is.NoErr(err)
	is.Equal(header.Format, testFormat)
	is.True(header.DataSize > 0)
}

func TestBackgroundTransitionStopsSession(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, mic, _, _ := newTestEngine(t, peer, true)

	is.NoErr(e.Start(context.Background()))
	e.Background()
	is.Equal(e.State(), StateIdle)
	is.True(!mic.Started())
}

func TestTranscriptAccumulates(t *testing.T) {
	is := is.New(t)

	peer := newFakePeer(t)
	e, _, _, _ := newTestEngine(t, peer, true)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	peer.send(realtime.ServerEvent{Type: realtime.TypeTranscriptDelta, ResponseID: "r1", Delta: "Hello "})
	peer.send(realtime.ServerEvent{Type: realtime.TypeTranscriptDelta, ResponseID: "r1", Delta: "there."})

	deadline := time.Now().Add(2 * time.Second)
	for e.Transcript() != "Hello there." && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	is.Equal(e.Transcript(), "Hello there.")
}

func TestEOUHoldStillCommitsAfterPause(t *testing.T) {
	peer := newFakePeer(t)
	cred := credServer(t, "short-lived-secret")
	connector := NewConnector(ConnectorConfig{
		TokenURL:   cred.URL,
		AppToken:   "app-token",
		ChannelURL: peer.url(),
	}, quietLogger())

	cfg := testConfig(t)
	cfg.MinUtterance = 10 * time.Second // every utterance counts as short
	cfg.EOUThreshold = 0.5
	cfg.EOUHold = 30 * time.Millisecond

	mic := &dfake.Microphone{}
	e := New(cfg, connector, mic, &dfake.Route{}, &dfake.Player{AutoComplete: true}, quietLogger())
	e.SetDetector(&eou.Heuristic{})
	t.Cleanup(e.Stop)

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitEvent(t, peer, realtime.TypeSessionUpdate)

	// A transcript that trails off mid-thought keeps the detector below
	// threshold, so the commit is held rather than sent immediately.
	peer.send(realtime.ServerEvent{Type: realtime.TypeInputTranscriptDone, Transcript: "so I was thinking,"})
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 3; i++ {
		mic.EmitTone(testFormat, 50, 100, 0.5)
	}
	for i := 0; i < 2; i++ {
		mic.EmitTone(testFormat, 50, 100, 0)
	}

	// The hold expires without further speech and the commit still lands.
	awaitEvent(t, peer, realtime.TypeInputAudioCommit)
	awaitEvent(t, peer, realtime.TypeResponseCreate)
}

func TestConnectorRetryBudget(t *testing.T) {
	is := is.New(t)

	c := NewConnector(ConnectorConfig{
		MaxReconnects:    2,
		ReconnectBackoff: 10 * time.Millisecond,
	}, quietLogger())

	d1, ok := c.NextReconnect()
	is.True(ok)
	is.Equal(d1, 10*time.Millisecond)

	d2, ok := c.NextReconnect()
	is.True(ok)
	is.Equal(d2, 20*time.Millisecond) // linear backoff

	_, ok = c.NextReconnect()
	is.True(!ok) // budget exhausted
}

func TestConnectorRejectsEmptySecret(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"client_secret":{"value":""},"instructions":""}`)
	}))
	defer srv.Close()

	c := NewConnector(ConnectorConfig{TokenURL: srv.URL}, quietLogger())
	_, err := c.Open(context.Background(), StartFresh)
	is.True(err != nil)
	is.True(IsFatal(err))
}
