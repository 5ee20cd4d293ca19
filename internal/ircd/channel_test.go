package ircd

import "testing"

func TestChannelRegistryGetOrCreate(t *testing.T) {
	r := newChannelRegistry()

	ch, created := r.getOrCreate("#general")
	if !created {
		t.Fatal("expected first getOrCreate to create the channel")
	}

	again, created := r.getOrCreate("#general")
	if created {
		t.Fatal("expected second getOrCreate to return the existing channel")
	}
	if again != ch {
		t.Fatal("expected the same *Channel instance back")
	}

	if r.count() != 1 {
		t.Fatalf("expected 1 channel, got %d", r.count())
	}
}

func TestChannelRegistryRemoveIfEmpty(t *testing.T) {
	r := newChannelRegistry()
	ch, _ := r.getOrCreate("#general")

	ch.Members[1] = &Client{ID: 1}
	r.removeIfEmpty(ch)
	if _, exists := r.get("#general"); !exists {
		t.Fatal("channel with a member should not be pruned")
	}

	delete(ch.Members, 1)
	r.removeIfEmpty(ch)
	if _, exists := r.get("#general"); exists {
		t.Fatal("empty channel should be pruned")
	}
}

func TestNicknameRegistryRename(t *testing.T) {
	r := newNicknameRegistry()
	c := &Client{ID: 1}

	r.add("alice", c)
	if !r.taken("alice") {
		t.Fatal("expected alice to be taken")
	}

	r.rename("alice", "bob", c)
	if r.taken("alice") {
		t.Fatal("expected alice to be free after rename")
	}
	if !r.taken("bob") {
		t.Fatal("expected bob to be taken after rename")
	}

	got, exists := r.get("bob")
	if !exists || got != c {
		t.Fatal("expected to get back the same client under the new nick")
	}
}
