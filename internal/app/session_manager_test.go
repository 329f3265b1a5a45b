package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxnote/voxnote/internal/app"
	"github.com/voxnote/voxnote/internal/config"
	notesmock "github.com/voxnote/voxnote/internal/notes/mock"
	"github.com/voxnote/voxnote/internal/session"
	"github.com/voxnote/voxnote/pkg/audio"
	"github.com/voxnote/voxnote/pkg/provider/stt"
	sttmock "github.com/voxnote/voxnote/pkg/provider/stt/mock"
	vadmock "github.com/voxnote/voxnote/pkg/provider/vadmodel/mock"
)

// testAppConfig keeps detector and orchestrator timings fast enough for unit
// tests: 32ms bridge frames, min speech 50ms, min silence 100ms, cooldown 50ms.
func testAppConfig() *config.Config {
	return &config.Config{
		VAD: config.VADConfig{
			StartThreshold:  0.5,
			EndThreshold:    0.35,
			SmoothingWindow: 1,
			MinSpeechMS:     50,
			MinSilenceMS:    100,
			SilenceGateMS:   20,
		},
		Session: config.SessionConfig{
			CooldownMS:           50,
			FirstSpeechTimeoutMS: 10_000,
			HeartbeatTimeoutMS:   10_000,
			PreRollMS:            30,
			PostPadMS:            10,
		},
	}
}

type managerFixture struct {
	manager *app.SessionManager
	model   *vadmock.Model
	stt     *sttmock.Provider
	sink    *notesmock.Sink
}

func newManagerFixture(t *testing.T, script []float64) *managerFixture {
	t.Helper()
	f := &managerFixture{
		model: &vadmock.Model{Script: script},
		stt: &sttmock.Provider{
			Results: []stt.Result{{Text: "the camera pans left here", DurationSeconds: 1.5}},
		},
		sink: &notesmock.Sink{},
	}
	m, err := app.NewSessionManager(app.SessionManagerConfig{
		Config:       testAppConfig(),
		Model:        f.model,
		Transcriber:  f.stt,
		ProviderName: "mock",
		Sink:         f.sink,
	})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	f.manager = m
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func pushFrames(bridge *audio.Bridge, n int) {
	for range n {
		bridge.Push(make([]float32, audio.FrameSamples))
	}
}

func TestNewSessionManager_Validation(t *testing.T) {
	cfg := testAppConfig()
	model := &vadmock.Model{}
	transcriber := &sttmock.Provider{}
	sink := &notesmock.Sink{}

	cases := []struct {
		name string
		cfg  app.SessionManagerConfig
	}{
		{"missing config", app.SessionManagerConfig{Model: model, Transcriber: transcriber, Sink: sink}},
		{"missing model", app.SessionManagerConfig{Config: cfg, Transcriber: transcriber, Sink: sink}},
		{"missing transcriber", app.SessionManagerConfig{Config: cfg, Model: model, Sink: sink}},
		{"missing sink", app.SessionManagerConfig{Config: cfg, Model: model, Transcriber: transcriber}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := app.NewSessionManager(tc.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSessionPipeline_RecordsNote(t *testing.T) {
	// 12 speech frames (384ms of accumulated speech), then silence.
	script := make([]float64, 0, 13)
	for range 12 {
		script = append(script, 0.9)
	}
	script = append(script, 0.05)
	f := newManagerFixture(t, script)
	ctx := context.Background()

	gws, err := f.manager.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess := gws.(*app.Session)

	if err := sess.Deliver(session.ClientEvent{Seq: 1, Kind: session.ClientStartObserving}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitFor(t, func() bool {
		st, err := sess.Stats(ctx)
		return err == nil && st.State == session.Observing
	}, "session never started observing")

	bridge, err := sess.AttachAudio(audio.DetectorSampleRate)
	if err != nil {
		t.Fatalf("AttachAudio: %v", err)
	}

	// Speech, then enough silence to cross the gate and minimum-silence
	// thresholds; keep pushing silence so the post-pad wait is satisfied.
	pushFrames(bridge, 12)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(f.sink.Notes()) == 0 {
		pushFrames(bridge, 20)
		time.Sleep(5 * time.Millisecond)
	}

	created := f.sink.Notes()
	if len(created) != 1 {
		t.Fatalf("got %d notes, want 1", len(created))
	}
	if created[0].SessionID != sess.ID() {
		t.Errorf("note session = %q, want %q", created[0].SessionID, sess.ID())
	}
	if created[0].Text != "the camera pans left here" {
		t.Errorf("note text = %q", created[0].Text)
	}
	if created[0].Provider != "mock" {
		t.Errorf("note provider = %q", created[0].Provider)
	}

	got, err := f.manager.Notes(ctx, sess.ID(), 10)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Notes returned %d, want 1", len(got))
	}
}

func TestSessionPipeline_ModelErrorIsFatal(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.model.InferErr = context.DeadlineExceeded
	ctx := context.Background()

	gws, err := f.manager.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess := gws.(*app.Session)

	if err := sess.Deliver(session.ClientEvent{Seq: 1, Kind: session.ClientStartObserving}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	bridge, err := sess.AttachAudio(audio.DetectorSampleRate)
	if err != nil {
		t.Fatalf("AttachAudio: %v", err)
	}
	pushFrames(bridge, 1)

	waitFor(t, func() bool {
		st, err := sess.Stats(ctx)
		return err == nil && st.State == session.ErrorState
	}, "session never reached the error state")
}

func TestSessionManager_GetAndRemove(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	sess, err := f.manager.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := f.manager.Get(sess.ID()); !ok {
		t.Error("Get did not find the session")
	}
	if err := f.manager.Remove(ctx, sess.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := f.manager.Get(sess.ID()); ok {
		t.Error("session still present after Remove")
	}
	if err := f.manager.Remove(ctx, sess.ID()); err == nil {
		t.Error("expected error removing twice")
	}
}

func TestSessionManager_CreateAfterShutdown(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.manager.Shutdown(context.Background())
	if _, err := f.manager.Create(context.Background()); err == nil {
		t.Error("expected error creating session after shutdown")
	}
}

func TestSession_AttachAudioReplacesBridge(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	gws, err := f.manager.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess := gws.(*app.Session)

	first, err := sess.AttachAudio(audio.DetectorSampleRate)
	if err != nil {
		t.Fatalf("first AttachAudio: %v", err)
	}
	second, err := sess.AttachAudio(audio.DetectorSampleRate)
	if err != nil {
		t.Fatalf("second AttachAudio: %v", err)
	}
	if first == second {
		t.Error("AttachAudio returned the same bridge twice")
	}

	// The old bridge is torn down before AttachAudio returns, so a stale
	// producer can never race the replacement into the detector.
	pushFrames(first, 3)

	// The replacement bridge still feeds the detector.
	pushFrames(second, 2)
	waitFor(t, func() bool {
		return len(f.model.Calls()) == 2
	}, "replacement bridge did not deliver frames")

	time.Sleep(20 * time.Millisecond)
	if got := len(f.model.Calls()); got != 2 {
		t.Errorf("model calls = %d, want 2 (stale bridge delivered frames)", got)
	}
}

func TestManager_NotesUnknownSession(t *testing.T) {
	f := newManagerFixture(t, nil)
	if _, err := f.manager.Notes(context.Background(), "nope", 5); err == nil {
		t.Error("expected error for unknown session")
	}
}
