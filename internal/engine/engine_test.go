package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sayra/lingomatch/internal/protocol"
)

// fakeNotifier records everything the engine emits.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    map[string][]sentMsg
	dropped []string
}

type sentMsg struct {
	Type    string
	Payload interface{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[string][]sentMsg)}
}

func (f *fakeNotifier) Send(connID, msgType string, payload interface{}) {
	f.mu.Lock()
	f.sent[connID] = append(f.sent[connID], sentMsg{Type: msgType, Payload: payload})
	f.mu.Unlock()
}

func (f *fakeNotifier) Drop(connID string) {
	f.mu.Lock()
	f.dropped = append(f.dropped, connID)
	f.mu.Unlock()
}

// last returns the most recent message of the given type sent to connID.
func (f *fakeNotifier) last(connID, msgType string) (sentMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[connID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == msgType {
			return msgs[i], true
		}
	}
	return sentMsg{}, false
}

func (f *fakeNotifier) count(connID, msgType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent[connID] {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) wasDropped(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.dropped {
		if id == connID {
			return true
		}
	}
	return false
}

func newTestEngine() (*Engine, *fakeNotifier) {
	n := newFakeNotifier()
	e := New(DefaultConfig(), n, zerolog.Nop())
	return e, n
}

// pair connects two users and matches them, returning the room ID.
func pair(t *testing.T, e *Engine, n *fakeNotifier, connA, connB string) string {
	t.Helper()

	e.Connect(connA, "10.0.0.1")
	e.Connect(connB, "10.0.0.2")
	e.FindPartner(connA, "client-"+connA, "Alice", "B1", "female")
	e.FindPartner(connB, "client-"+connB, "Bea", "B1", "female")

	matched, ok := n.last(connA, protocol.TypeMatched)
	if !ok {
		t.Fatal("first connection never got matched")
	}
	return matched.Payload.(protocol.MatchedMsg).RoomID
}

func TestConnectRegistersAndReportsStatus(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")

	status, ok := n.last("c1", protocol.TypeStatus)
	if !ok {
		t.Fatal("no status message sent on connect")
	}
	if status.Payload.(protocol.StatusMsg).Status != "connected" {
		t.Errorf("expected connected status, got %+v", status.Payload)
	}
	if stats := e.Stats(); stats.OnlineUsers != 1 {
		t.Errorf("expected 1 online user, got %d", stats.OnlineUsers)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	e, _ := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Disconnect("c1")
	e.Disconnect("c1")
	e.Disconnect("never-connected")

	if stats := e.Stats(); stats.OnlineUsers != 0 {
		t.Errorf("expected 0 online users, got %d", stats.OnlineUsers)
	}
}

func TestHelloBindsIdentity(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Hello("c1", "my-client-id")

	ok1, ok := n.last("c1", protocol.TypeHelloOK)
	if !ok {
		t.Fatal("no hello_ok sent")
	}
	if got := ok1.Payload.(protocol.HelloOKMsg).ClientID; got != "my-client-id" {
		t.Errorf("expected bound identity echoed back, got %q", got)
	}
}

func TestHelloGeneratesIdentityForGarbage(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Hello("c1", "has spaces and \x00 junk")

	ok1, _ := n.last("c1", protocol.TypeHelloOK)
	got := ok1.Payload.(protocol.HelloOKMsg).ClientID
	if got == "" || got == "has spaces and \x00 junk" {
		t.Errorf("expected a generated identity, got %q", got)
	}
}

func TestReconnectEvictsPreviousConnection(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("old", "10.0.0.1")
	e.Hello("old", "same-client")
	e.Connect("new", "10.0.0.1")
	e.Hello("new", "same-client")

	if !n.wasDropped("old") {
		t.Error("previous connection should have been dropped")
	}
	if n.wasDropped("new") {
		t.Error("new connection must survive")
	}
	if stats := e.Stats(); stats.OnlineUsers != 1 {
		t.Errorf("expected exactly 1 registry entry, got %d", stats.OnlineUsers)
	}
}

func TestFindPartnerRejectsInvalidAttributes(t *testing.T) {
	e, n := newTestEngine()
	e.Connect("c1", "10.0.0.1")

	cases := []struct{ level, gender string }{
		{"Z9", "female"},
		{"B1", "robot"},
		{"", ""},
	}
	for _, tc := range cases {
		e.FindPartner("c1", "id", "Alice", tc.level, tc.gender)
		status, ok := n.last("c1", protocol.TypeStatus)
		if !ok {
			t.Fatalf("no status for level=%q gender=%q", tc.level, tc.gender)
		}
		if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeInvalidAttribute {
			t.Errorf("level=%q gender=%q: expected invalid_attribute, got %q", tc.level, tc.gender, got)
		}
	}
}

func TestFindPartnerNormalizesAttributeCase(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Connect("c2", "10.0.0.2")
	e.FindPartner("c1", "id1", "Alice", "b1", "FEMALE")
	e.FindPartner("c2", "id2", "Bea", "B1", "female")

	if _, ok := n.last("c1", protocol.TypeMatched); !ok {
		t.Error("case-insensitive attributes should still pair")
	}
}

func TestFindPartnerCooldown(t *testing.T) {
	e, n := newTestEngine()

	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }

	e.Connect("c1", "10.0.0.1")
	e.FindPartner("c1", "id", "Alice", "B1", "female")

	// Second attempt inside the cooldown window.
	now = now.Add(500 * time.Millisecond)
	e.FindPartner("c1", "id", "Alice", "B1", "female")
	status, _ := n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeTooFast {
		t.Fatalf("expected too_fast, got %q", got)
	}

	// After the window the search is accepted again.
	now = now.Add(time.Second)
	e.FindPartner("c1", "id", "Alice", "B1", "female")
	status, _ = n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Status; got != "waiting" {
		t.Fatalf("expected waiting after cooldown, got %+v", status.Payload)
	}
}

func TestFindPartnerQueuesWhenAlone(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.FindPartner("c1", "id", "Alice", "C2", "male")

	status, ok := n.last("c1", protocol.TypeStatus)
	if !ok || status.Payload.(protocol.StatusMsg).Status != "waiting" {
		t.Fatalf("expected waiting status, got %+v", status)
	}
	if got := status.Payload.(protocol.StatusMsg).Key; got != "C2__male" {
		t.Errorf("expected compat key C2__male, got %q", got)
	}
	if depth := e.Stats().Queue["C2__male"]; depth != 1 {
		t.Errorf("expected queue depth 1, got %d", depth)
	}
}

func TestMatchRequiresIdenticalKey(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Connect("c2", "10.0.0.2")
	e.FindPartner("c1", "id1", "Alice", "B1", "female")
	e.FindPartner("c2", "id2", "Bob", "B1", "male")

	if _, ok := n.last("c1", protocol.TypeMatched); ok {
		t.Error("different genders must not pair")
	}
	if _, ok := n.last("c2", protocol.TypeMatched); ok {
		t.Error("different genders must not pair")
	}

	e.Connect("c3", "10.0.0.3")
	e.FindPartner("c3", "id3", "Cara", "B1", "female")
	if _, ok := n.last("c1", protocol.TypeMatched); !ok {
		t.Error("identical key should pair with the waiting user")
	}
}

func TestSecondSearcherPairsImmediately(t *testing.T) {
	e, n := newTestEngine()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("c%d", i)
		e.Connect(id, "10.0.0.1")
		e.FindPartner(id, "id-"+id, "User", "A2", "male")
	}

	// c1 and c2 pair as soon as c2 searches; c3 is left waiting.
	if _, ok := n.last("c1", protocol.TypeMatched); !ok {
		t.Error("first waiter should be matched")
	}
	if _, ok := n.last("c3", protocol.TypeMatched); ok {
		t.Error("third searcher has nobody left to pair with")
	}
	if depth := e.Stats().Queue["A2__male"]; depth != 1 {
		t.Errorf("expected 1 waiter left, got %d", depth)
	}
}

func TestDisconnectedWaiterNeverMatched(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("stale", "10.0.0.1")
	e.FindPartner("stale", "id-stale", "Gone", "B2", "female")
	e.Disconnect("stale")

	e.Connect("fresh", "10.0.0.2")
	e.FindPartner("fresh", "id-fresh", "Here", "B2", "female")

	if _, ok := n.last("fresh", protocol.TypeMatched); ok {
		t.Error("must not match against a disconnected waiter")
	}
	status, _ := n.last("fresh", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Status; got != "waiting" {
		t.Errorf("expected waiting, got %q", got)
	}
}

func TestMatchedCarriesPublicProfilesAndIcebreakers(t *testing.T) {
	e, n := newTestEngine()
	roomID := pair(t, e, n, "c1", "c2")

	matched, _ := n.last("c2", protocol.TypeMatched)
	msg := matched.Payload.(protocol.MatchedMsg)
	if msg.RoomID != roomID {
		t.Errorf("room IDs disagree across the pair: %q vs %q", msg.RoomID, roomID)
	}
	if msg.You.Name != "Bea" || msg.Partner.Name != "Alice" {
		t.Errorf("unexpected profiles: %+v", msg)
	}

	ice, ok := n.last("c1", protocol.TypeIcebreaker)
	if !ok {
		t.Fatal("no icebreaker sent on match")
	}
	im := ice.Payload.(protocol.IcebreakerMsg)
	if len(im.Questions) != 3 || im.Index != 0 || im.Total != 3 {
		t.Errorf("unexpected icebreaker set: %+v", im)
	}
	seen := make(map[string]bool)
	for _, q := range im.Questions {
		if seen[q] {
			t.Errorf("duplicate prompt %q", q)
		}
		seen[q] = true
	}
}

func TestFindPartnerWhileInRoom(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.FindPartner("c1", "id", "Alice", "B1", "female")
	status, _ := n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeAlreadyInSession {
		t.Errorf("expected already_in_session, got %q", got)
	}
}

func TestSendMessageRelaysToBothOccupants(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.SendMessage("c1", "hello there")

	for _, id := range []string{"c1", "c2"} {
		m, ok := n.last(id, protocol.TypeMessage)
		if !ok {
			t.Fatalf("%s did not receive the message", id)
		}
		cm := m.Payload.(protocol.ChatMessageMsg)
		if cm.Text != "hello there" || cm.From != "Alice" || cm.ID == "" {
			t.Errorf("unexpected relayed message: %+v", cm)
		}
	}
}

func TestSendMessageOutsideRoom(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.SendMessage("c1", "into the void")

	status, _ := n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeNotInSession {
		t.Errorf("expected not_in_session, got %q", got)
	}
}

func TestSendMessageDropsEmptyAfterSanitize(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.SendMessage("c1", "   \r\r  ")

	if got := n.count("c2", protocol.TypeMessage); got != 0 {
		t.Errorf("empty message should be silently dropped, partner got %d", got)
	}
}

func TestSendMessageRateLimit(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	for i := 0; i < 9; i++ {
		e.SendMessage("c1", fmt.Sprintf("msg %d", i))
	}
	if got := n.count("c2", protocol.TypeMessage); got != 9 {
		t.Fatalf("expected 9 relayed messages, got %d", got)
	}

	e.SendMessage("c1", "one too many")
	status, _ := n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeRateLimited {
		t.Errorf("expected rate_limited, got %q", got)
	}
	if got := n.count("c2", protocol.TypeMessage); got != 9 {
		t.Errorf("over-limit message must not be relayed, partner got %d", got)
	}
}

func TestMutedSenderIsRejectedWithCountdown(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.Moderation().Mute("c1", 5*time.Minute)
	e.SendMessage("c1", "still here?")

	status, _ := n.last("c1", protocol.TypeStatus)
	sm := status.Payload.(protocol.StatusMsg)
	if sm.Code != protocol.CodeMuted {
		t.Fatalf("expected muted, got %q", sm.Code)
	}
	if sm.Seconds <= 0 || sm.Seconds > 301 {
		t.Errorf("unexpected countdown: %d", sm.Seconds)
	}
	if got := n.count("c2", protocol.TypeMessage); got != 0 {
		t.Errorf("muted message must not reach the partner, got %d", got)
	}
}

func TestHistoryReplayAndRingEviction(t *testing.T) {
	e, n := newTestEngine()
	// Small history for the test.
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	cfg.RateLimitMax = 1000
	e = New(cfg, n, zerolog.Nop())
	pair(t, e, n, "c1", "c2")

	for i := 1; i <= 8; i++ {
		e.SendMessage("c1", fmt.Sprintf("m%d", i))
	}
	e.History("c2")

	h, ok := n.last("c2", protocol.TypeHistory)
	if !ok {
		t.Fatal("no history sent")
	}
	hm := h.Payload.(protocol.HistoryMsg)
	if len(hm.Items) != 5 {
		t.Fatalf("expected 5 buffered messages, got %d", len(hm.Items))
	}
	if hm.Items[0].Text != "m4" || hm.Items[4].Text != "m8" {
		t.Errorf("wrong eviction window: first=%q last=%q", hm.Items[0].Text, hm.Items[4].Text)
	}
}

func TestTypingThrottle(t *testing.T) {
	e, n := newTestEngine()

	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }
	pair(t, e, n, "c1", "c2")

	e.Typing("c1", true)
	e.Typing("c1", false) // inside the throttle window, dropped silently
	if got := n.count("c2", protocol.TypeTyping); got != 1 {
		t.Fatalf("expected 1 typing relay, got %d", got)
	}

	now = now.Add(300 * time.Millisecond)
	e.Typing("c1", false)
	if got := n.count("c2", protocol.TypeTyping); got != 2 {
		t.Errorf("expected relay after throttle window, got %d", got)
	}
}

func TestReadReceiptRelay(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.ReadUpTo("c1", "msg-42")

	m, ok := n.last("c2", protocol.TypeReadUpTo)
	if !ok {
		t.Fatal("partner did not receive the read receipt")
	}
	rm := m.Payload.(protocol.ServerReadUpToMsg)
	if rm.MsgID != "msg-42" || rm.Reader != "Alice" {
		t.Errorf("unexpected receipt: %+v", rm)
	}
	if got := n.count("c1", protocol.TypeReadUpTo); got != 0 {
		t.Errorf("receipt must not echo to the reader, got %d", got)
	}
}

func TestVoiceRelayIsOpaque(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	payload := []byte(`{"sdp":"v=0 not real sdp"}`)
	e.VoiceRelay("c1", protocol.TypeVoiceOffer, payload)

	m, ok := n.last("c2", protocol.TypeVoiceOffer)
	if !ok {
		t.Fatal("partner did not receive the offer")
	}
	vm := m.Payload.(protocol.VoiceRelayMsg)
	if string(vm.Payload) != string(payload) {
		t.Errorf("payload was altered: %s", vm.Payload)
	}
}

func TestIceNavClampsAtBothEnds(t *testing.T) {
	e, n := newTestEngine()
	roomID := pair(t, e, n, "c1", "c2")

	e.IceNav("c1", -1) // already at 0, no-op
	if got := n.count("c2", protocol.TypeIcebreaker); got != 1 {
		t.Fatalf("clamped nav must not rebroadcast, got %d", got)
	}

	e.IceNav("c1", +1)
	e.IceNav("c2", +1)
	e.IceNav("c1", +1) // clamped at the top
	m, _ := n.last("c2", protocol.TypeIcebreaker)
	im := m.Payload.(protocol.IcebreakerMsg)
	if im.Index != 2 || im.RoomID != roomID {
		t.Errorf("expected cursor clamped at 2, got %+v", im)
	}
}

func TestThirdReportAutoMutes(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.Report("c1")
	e.Report("c1")
	if got := e.Moderation().MuteRemaining("c2"); got != 0 {
		t.Fatalf("two reports must not mute, got %v", got)
	}

	e.Report("c1")
	if got := e.Moderation().MuteRemaining("c2"); got == 0 {
		t.Fatal("third report should auto-mute the partner")
	}

	status, ok := n.last("c2", protocol.TypeStatus)
	if !ok || status.Payload.(protocol.StatusMsg).Code != protocol.CodeMuted {
		t.Errorf("muted partner should be told, got %+v", status)
	}
}

func TestReportDuringActiveMuteDoesNotExtend(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	for i := 0; i < 3; i++ {
		e.Report("c1")
	}
	until := e.Moderation().MutedUntil("c2")
	if until.IsZero() {
		t.Fatal("expected an active mute")
	}

	e.Report("c1")
	if got := e.Moderation().MutedUntil("c2"); !got.Equal(until) {
		t.Errorf("mute must not be reset or extended: was %v, now %v", until, got)
	}
}

func TestReportSinkReceivesSnapshot(t *testing.T) {
	e, n := newTestEngine()

	var events []ReportEvent
	e.SetReportSink(func(ev ReportEvent) { events = append(events, ev) })
	roomID := pair(t, e, n, "c1", "c2")

	e.SendMessage("c1", "hi")
	e.SendMessage("c2", "go away")
	e.Report("c1")

	if len(events) != 1 {
		t.Fatalf("expected 1 sink event, got %d", len(events))
	}
	ev := events[0]
	if ev.RoomID != roomID || ev.ReportCount != 1 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(ev.Messages) != 2 {
		t.Fatalf("expected 2 snapshot messages, got %d", len(ev.Messages))
	}
	if ev.Messages[0].From != "reporter" || ev.Messages[1].From != "reported" {
		t.Errorf("role mapping wrong: %+v", ev.Messages)
	}
}

func TestLeaveChatTearsDownRoom(t *testing.T) {
	e, n := newTestEngine()

	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }
	roomID := pair(t, e, n, "c1", "c2")

	e.LeaveChat("c1")

	left, ok := n.last("c1", protocol.TypeLeft)
	if !ok || left.Payload.(protocol.LeftMsg).RoomID != roomID {
		t.Error("leaver should get left")
	}
	pl, ok := n.last("c2", protocol.TypePartnerLeft)
	if !ok || pl.Payload.(protocol.PartnerLeftMsg).Reason != protocol.ReasonUserLeft {
		t.Errorf("partner should get partner_left(user_left), got %+v", pl)
	}
	for _, id := range []string{"c1", "c2"} {
		rc, ok := n.last(id, protocol.TypeRoomClosed)
		if !ok || rc.Payload.(protocol.RoomClosedMsg).Reason != protocol.ReasonUserLeft {
			t.Errorf("%s should get room_closed(user_left)", id)
		}
	}
	if stats := e.Stats(); stats.Rooms != 0 {
		t.Errorf("room should be gone, got %d", stats.Rooms)
	}

	// Both sides are free to search again once the cooldown passes.
	now = now.Add(2 * time.Second)
	e.FindPartner("c2", "id2", "Bea", "B1", "female")
	status, _ := n.last("c2", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Status; got != "waiting" {
		t.Errorf("expected c2 free to queue again, got %q", got)
	}
}

func TestLeaveChatFromQueue(t *testing.T) {
	e, _ := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.FindPartner("c1", "id", "Alice", "B1", "female")
	e.LeaveChat("c1")

	if depth := e.Stats().Queue["B1__female"]; depth != 0 {
		t.Errorf("queue entry should be removed, depth %d", depth)
	}
}

func TestDisconnectNotifiesPartner(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	e.Disconnect("c1")

	pl, ok := n.last("c2", protocol.TypePartnerLeft)
	if !ok || pl.Payload.(protocol.PartnerLeftMsg).Reason != protocol.ReasonDisconnect {
		t.Errorf("expected partner_left(disconnect), got %+v", pl)
	}
	if stats := e.Stats(); stats.Rooms != 0 || stats.OnlineUsers != 1 {
		t.Errorf("unexpected stats after disconnect: %+v", stats)
	}
}

func TestBannedClientIsRefusedAtHello(t *testing.T) {
	e, n := newTestEngine()

	e.Moderation().BanClient("bad-client", time.Hour)
	e.Connect("c1", "10.0.0.1")
	e.Hello("c1", "bad-client")

	status, _ := n.last("c1", protocol.TypeStatus)
	if got := status.Payload.(protocol.StatusMsg).Code; got != protocol.CodeBanned {
		t.Errorf("expected banned, got %q", got)
	}
	if !n.wasDropped("c1") {
		t.Error("banned connection should be dropped")
	}
}

func TestBannedOriginIsRefusedAtConnect(t *testing.T) {
	e, n := newTestEngine()

	e.Moderation().BanOrigin("10.6.6.6", time.Hour)
	e.Connect("c1", "10.6.6.6")

	if !n.wasDropped("c1") {
		t.Error("connection from banned origin should be dropped")
	}
	if stats := e.Stats(); stats.OnlineUsers != 0 {
		t.Errorf("banned origin must not register, got %d", stats.OnlineUsers)
	}
}

func TestAdminKick(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	if err := e.AdminKick("c1"); err != nil {
		t.Fatalf("kick failed: %v", err)
	}

	pl, ok := n.last("c2", protocol.TypePartnerLeft)
	if !ok || pl.Payload.(protocol.PartnerLeftMsg).Reason != protocol.ReasonKicked {
		t.Errorf("partner should see kicked, got %+v", pl)
	}
	if !n.wasDropped("c1") {
		t.Error("kicked connection should be dropped")
	}

	if err := e.AdminKick("nope"); err == nil {
		t.Error("kicking an unknown connection should error")
	}
}

func TestAdminMuteClampsDuration(t *testing.T) {
	e, _ := newTestEngine()
	e.Connect("c1", "10.0.0.1")

	if err := e.AdminMute("c1", time.Second); err != nil {
		t.Fatalf("mute failed: %v", err)
	}
	if got := e.Moderation().MuteRemaining("c1"); got < 59*time.Second {
		t.Errorf("sub-minute mute should clamp to 1m, got %v", got)
	}
}

func TestAdminBanClientDropsLiveConnection(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Hello("c1", "client-x")
	e.AdminBanClient("client-x", 0)

	if !n.wasDropped("c1") {
		t.Error("live connection of a banned client should be dropped")
	}
	if banned, _, _ := e.Moderation().IsBanned("client-x", ""); !banned {
		t.Error("ban should be recorded")
	}
}

func TestAdminBanOriginDropsAllConnections(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.7")
	e.Connect("c2", "10.0.0.7")
	e.Connect("c3", "10.0.0.8")
	e.AdminBanOrigin("10.0.0.7", 0)

	if !n.wasDropped("c1") || !n.wasDropped("c2") {
		t.Error("all connections from the banned origin should be dropped")
	}
	if n.wasDropped("c3") {
		t.Error("other origins must not be touched")
	}
}

func TestAdminSnapshot(t *testing.T) {
	e, n := newTestEngine()
	roomID := pair(t, e, n, "c1", "c2")
	e.Connect("c3", "10.0.0.3")
	e.FindPartner("c3", "id3", "Cy", "C1", "male")

	snap := e.AdminSnapshot()

	if snap.Stats.OnlineUsers != 3 || snap.Stats.Rooms != 1 {
		t.Errorf("unexpected stats: %+v", snap.Stats)
	}
	if len(snap.Conns) != 3 {
		t.Errorf("expected 3 conns, got %d", len(snap.Conns))
	}
	if len(snap.Rooms) != 1 || snap.Rooms[0].RoomID != roomID {
		t.Errorf("unexpected rooms: %+v", snap.Rooms)
	}
	if len(snap.Audit) == 0 {
		t.Error("snapshot should carry audit entries")
	}
}

func TestGlobalStatsBroadcastOnChange(t *testing.T) {
	e, n := newTestEngine()

	e.Connect("c1", "10.0.0.1")
	e.Connect("c2", "10.0.0.2")

	// The second connect re-broadcasts to everyone already online.
	if got := n.count("c1", protocol.TypeGlobalStats); got < 2 {
		t.Errorf("expected repeated global_stats on c1, got %d", got)
	}
	m, _ := n.last("c1", protocol.TypeGlobalStats)
	if got := m.Payload.(protocol.GlobalStatsMsg).OnlineUsers; got != 2 {
		t.Errorf("expected onlineUsers 2, got %d", got)
	}
}

func TestConcurrentTraffic(t *testing.T) {
	e, n := newTestEngine()
	pair(t, e, n, "c1", "c2")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				switch g % 4 {
				case 0:
					e.SendMessage("c1", "x")
				case 1:
					e.Typing("c2", true)
				case 2:
					e.History("c1")
				case 3:
					_ = e.Stats()
				}
			}
		}(g)
	}
	wg.Wait()
}
