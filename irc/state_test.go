package irc

import (
	"bytes"
	"testing"

	"github.com/mdevlamynck/lircd/config"
)

func TestRegisterNicknameRejectsDuplicate(t *testing.T) {
	g := NewGlobalState(config.Default())
	a := NewConnState("a", NewWriter(&bytes.Buffer{}))
	b := NewConnState("b", NewWriter(&bytes.Buffer{}))

	if err := g.RegisterNickname("alice", a); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := g.RegisterNickname("alice", b); err != ErrNicknameInUse {
		t.Fatalf("duplicate registration err = %v, want ErrNicknameInUse", err)
	}
}

func TestReplaceNicknameMovesRegistration(t *testing.T) {
	g := NewGlobalState(config.Default())
	a := NewConnState("a", NewWriter(&bytes.Buffer{}))
	if err := g.RegisterNickname("alice", a); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := g.ReplaceNickname("alice", "alice2", a); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, ok := g.Lookup("alice"); ok {
		t.Errorf("old nickname should no longer resolve")
	}
	if got, ok := g.Lookup("alice2"); !ok || got != a {
		t.Errorf("new nickname should resolve to the same connection")
	}
}

func TestUnregisterNicknameIdempotent(t *testing.T) {
	g := NewGlobalState(config.Default())
	g.UnregisterNickname("nobody") // must not panic
	a := NewConnState("a", NewWriter(&bytes.Buffer{}))
	g.RegisterNickname("alice", a)
	g.UnregisterNickname("alice")
	g.UnregisterNickname("alice")
	if _, ok := g.Lookup("alice"); ok {
		t.Errorf("alice should be gone after unregister")
	}
}

func TestJoinAndPartChannelDestroysWhenEmpty(t *testing.T) {
	g := NewGlobalState(config.Default())
	g.JoinChannel("#test", "alice")
	g.JoinChannel("#test", "bob")

	ch, ok := g.Channel("#test")
	if !ok {
		t.Fatalf("#test should exist")
	}
	_, members := ch.Snapshot()
	if len(members) != 2 {
		t.Fatalf("members = %v, want 2", members)
	}

	g.PartChannel("#test", "alice")
	if _, ok := g.Channel("#test"); !ok {
		t.Fatalf("#test should still exist with bob remaining")
	}

	g.PartChannel("#test", "bob")
	if _, ok := g.Channel("#test"); ok {
		t.Errorf("#test should be destroyed once empty")
	}
}

func TestJoinChannelReassignsOperatorOnPart(t *testing.T) {
	g := NewGlobalState(config.Default())
	g.JoinChannel("#test", "alice")
	g.JoinChannel("#test", "bob")

	g.PartChannel("#test", "alice")

	ch, ok := g.Channel("#test")
	if !ok {
		t.Fatalf("#test should still exist")
	}
	operator, _ := ch.Snapshot()
	if operator != "bob" {
		t.Errorf("operator = %q, want bob to inherit operator status", operator)
	}
}

func TestBroadcastDropsFailingRecipient(t *testing.T) {
	g := NewGlobalState(config.Default())
	var aliceBuf bytes.Buffer
	alice := NewConnState("a", NewWriter(&aliceBuf))
	g.RegisterNickname("alice", alice)
	g.JoinChannel("#test", "alice")

	// bob is a channel member with no corresponding registered
	// connection: Broadcast must skip him without erroring.
	ch, _ := g.Channel("#test")
	ch.Members["bob"] = true

	g.Broadcast(ch, "", "PRIVMSG #test :hi")
	if aliceBuf.Len() == 0 {
		t.Errorf("alice should have received the broadcast")
	}
}

func TestSetConfigIsVisibleImmediately(t *testing.T) {
	g := NewGlobalState(config.Default())
	if g.Config().Network.Hostname != "localhost" {
		t.Fatalf("unexpected default hostname %q", g.Config().Network.Hostname)
	}

	next := config.Default()
	next.Network.Hostname = "irc.example.com"
	g.SetConfig(next)

	if g.Config().Network.Hostname != "irc.example.com" {
		t.Errorf("SetConfig did not take effect")
	}
}
