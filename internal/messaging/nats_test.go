package messaging

import (
	"testing"
	"time"
)

// newTestClient connects to a local NATS server, skipping the test when none
// is running.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	config := DefaultNATSConfig()
	config.Name = "flickpick-test"
	client, err := NewNATSClient(config)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestVoteFeedReachesEveryRoomSubscriber(t *testing.T) {
	client := newTestClient(t)

	creator := make(chan []byte, 1)
	joiner := make(chan []byte, 1)
	if err := client.SubscribeRoomVotes("4242", "sess-creator", func(data []byte) {
		creator <- data
	}); err != nil {
		t.Fatalf("SubscribeRoomVotes() error: %v", err)
	}
	if err := client.SubscribeRoomVotes("4242", "sess-joiner", func(data []byte) {
		joiner <- data
	}); err != nil {
		t.Fatalf("SubscribeRoomVotes() error: %v", err)
	}

	// A subscriber in a different room must stay silent.
	other := make(chan []byte, 1)
	if err := client.SubscribeRoomVotes("9999", "sess-other", func(data []byte) {
		other <- data
	}); err != nil {
		t.Fatalf("SubscribeRoomVotes() error: %v", err)
	}

	payload := []byte(`{"room_code":"4242","candidate_id":"tt-7","kind":"like","voter_id":"sess-creator","ts":1}`)
	if err := client.PublishRoomVote("4242", payload); err != nil {
		t.Fatalf("PublishRoomVote() error: %v", err)
	}

	for name, ch := range map[string]chan []byte{"creator": creator, "joiner": joiner} {
		select {
		case got := <-ch:
			if string(got) != string(payload) {
				t.Errorf("%s received %s, want %s", name, got, payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never received the vote event", name)
		}
	}

	select {
	case got := <-other:
		t.Errorf("other room received %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeRoomStopsVoteFeed(t *testing.T) {
	client := newTestClient(t)

	received := make(chan []byte, 1)
	if err := client.SubscribeRoomVotes("5151", "sess-gone", func(data []byte) {
		received <- data
	}); err != nil {
		t.Fatalf("SubscribeRoomVotes() error: %v", err)
	}
	client.UnsubscribeRoom("sess-gone")

	if err := client.PublishRoomVote("5151", []byte(`{}`)); err != nil {
		t.Fatalf("PublishRoomVote() error: %v", err)
	}

	select {
	case <-received:
		t.Error("unsubscribed session still received the vote event")
	case <-time.After(200 * time.Millisecond):
	}
}
