package chat

import "testing"

func TestParsePrivmsg(t *testing.T) {
	line := "@badge-info=;badges=broadcaster/1;color=#FF4500;display-name=StreamerGal;id=abc-123;mod=0;subscriber=1;user-id=44322889 :streamergal!streamergal@streamergal.tmi.twitch.tv PRIVMSG #streamergal :今天打什么游戏?"

	msg, ok := parseLine(line)
	if !ok {
		t.Fatal("parse failed")
	}
	if msg.Command != "PRIVMSG" {
		t.Fatalf("command = %q", msg.Command)
	}
	if msg.Channel != "streamergal" {
		t.Fatalf("channel = %q", msg.Channel)
	}
	if msg.Text != "今天打什么游戏?" {
		t.Fatalf("text = %q", msg.Text)
	}

	cm := msg.toChatMessage()
	if cm.ID != "abc-123" {
		t.Fatalf("id = %q", cm.ID)
	}
	if cm.Username != "StreamerGal" {
		t.Fatalf("username = %q", cm.Username)
	}
	if cm.Color != "#FF4500" {
		t.Fatalf("color = %q", cm.Color)
	}
	if !cm.IsSubscriber || cm.IsMod {
		t.Fatalf("badges wrong: %+v", cm)
	}
	if !cm.IsBroadcaster {
		t.Fatal("broadcaster badge not detected")
	}
}

func TestParsePing(t *testing.T) {
	msg, ok := parseLine("PING :tmi.twitch.tv")
	if !ok {
		t.Fatal("parse failed")
	}
	if msg.Command != "PING" {
		t.Fatalf("command = %q", msg.Command)
	}
	if msg.Text != "tmi.twitch.tv" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestUsernameFallsBackToPrefix(t *testing.T) {
	line := "@id=x1 :somefan!somefan@somefan.tmi.twitch.tv PRIVMSG #chan :hello"
	msg, ok := parseLine(line)
	if !ok {
		t.Fatal("parse failed")
	}
	cm := msg.toChatMessage()
	if cm.Username != "somefan" {
		t.Fatalf("username = %q, want somefan", cm.Username)
	}
	if cm.Color != "#9147ff" {
		t.Fatalf("color = %q, want default", cm.Color)
	}
}

func TestUnescapeTag(t *testing.T) {
	cases := map[string]string{
		`hi\sthere`: "hi there",
		`a\:b`:      "a;b",
		`back\\s`:   `back\s`,
		"plain":     "plain",
	}
	for in, want := range cases {
		if got := unescapeTag(in); got != want {
			t.Errorf("unescapeTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitIRCLines(t *testing.T) {
	lines := splitIRCLines("PING :tmi.twitch.tv\r\n:x PRIVMSG #c :hey\r\n\r\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
}
