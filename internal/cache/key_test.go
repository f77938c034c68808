package cache

import "testing"

func TestKeyDeterministic(t *testing.T) {
	a := Key("text", "What time is it?", "", "phi3.5")
	b := Key("text", "What time is it?", "", "phi3.5")
	if a != b {
		t.Errorf("equal queries should share a key: %s != %s", a, b)
	}
}

func TestKeyNormalization(t *testing.T) {
	a := Key("text", "What  Time is\tit? ", "", "phi3.5")
	b := Key("text", "what time is it?", "", "phi3.5")
	if a != b {
		t.Error("keys should ignore casing and whitespace differences")
	}
}

func TestKeyVariesByComponent(t *testing.T) {
	base := Key("text", "hello", "", "phi3.5")

	if Key("vision", "hello", "", "phi3.5") == base {
		t.Error("kind must affect the key")
	}
	if Key("text", "goodbye", "", "phi3.5") == base {
		t.Error("prompt must affect the key")
	}
	if Key("text", "hello", "abc123", "phi3.5") == base {
		t.Error("image digest must affect the key")
	}
	if Key("text", "hello", "", "llava") == base {
		t.Error("model must affect the key")
	}
}

func TestImageDigest(t *testing.T) {
	if ImageDigest(nil) != "" {
		t.Error("empty image should produce empty digest")
	}
	a := ImageDigest([]byte("frame-1"))
	b := ImageDigest([]byte("frame-1"))
	c := ImageDigest([]byte("frame-2"))
	if a != b {
		t.Error("identical frames should share a digest")
	}
	if a == c {
		t.Error("different frames should differ")
	}
}
