package linker

import "testing"

// buildSimpleTrie hand-encodes a two-node export trie for a single
// exported symbol "foo" at address 0x1000 with no flags: a root with one
// child edge labeled "foo" leading to a terminal node.
func buildSimpleTrie() []byte {
	return []byte{
		0x00,             // root: terminal size 0 (not itself exported)
		0x01,             // root: one child edge
		'f', 'o', 'o', 0, // edge label "foo\x00"
		0x07,       // child node offset (7)
		0x03,       // node@7: terminal size 3 (flags+address below)
		0x00,       // flags = 0
		0x80, 0x20, // address = 4096 (ULEB128)
	}
}

func TestWalkExportTrie(t *testing.T) {
	trie := buildSimpleTrie()
	got, err := walkExportTrie("test.dylib", trie, 0, uint32(len(trie)))
	if err != nil {
		t.Fatalf("walkExportTrie: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d exports, want 1: %+v", len(got), got)
	}
	if got[0].Name != "foo" || got[0].Address != 4096 || got[0].Flags != 0 {
		t.Errorf("got %+v, want {foo 0 4096}", got[0])
	}
}

func TestWalkExportTrieAtOffset(t *testing.T) {
	trie := buildSimpleTrie()
	padded := append([]byte{0xff, 0xff, 0xff}, trie...)
	got, err := walkExportTrie("test.dylib", padded, 3, uint32(len(trie)))
	if err != nil {
		t.Fatalf("walkExportTrie: %v", err)
	}
	if len(got) != 1 || got[0].Name != "foo" {
		t.Fatalf("got %+v, want one export named foo", got)
	}
}

func TestWalkExportTrieEmpty(t *testing.T) {
	got, err := walkExportTrie("empty.dylib", nil, 0, 0)
	if err != nil {
		t.Fatalf("walkExportTrie(empty): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d exports, want 0", len(got))
	}
}

func TestWalkExportTriePastEndOfFile(t *testing.T) {
	_, err := walkExportTrie("bad.dylib", []byte{1, 2, 3}, 0, 100)
	if err == nil {
		t.Fatal("expected an error for a trie extending past EOF")
	}
}

func TestWalkExportTrieCycleDetected(t *testing.T) {
	// A node whose only child points back at itself must be rejected
	// rather than looped forever.
	trie := []byte{
		0x00,          // root: terminal size 0
		0x01,          // one child
		'a', 0,        // edge label "a\x00"
		0x00,          // child offset points back at the root itself
	}
	_, err := walkExportTrie("cyclic.dylib", trie, 0, uint32(len(trie)))
	if err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestReadULEB128(t *testing.T) {
	tests := []struct {
		b       []byte
		offset  uint32
		want    uint64
		wantN   uint32
		wantOK  bool
	}{
		{[]byte{0x00}, 0, 0, 1, true},
		{[]byte{0x80, 0x20}, 0, 4096, 2, true},
		{[]byte{0x7f}, 0, 127, 1, true},
		{[]byte{0x80, 0x80, 0x80}, 0, 0, 0, false}, // never terminates within buffer
	}
	for _, tt := range tests {
		v, n, ok := readULEB128(tt.b, tt.offset)
		if ok != tt.wantOK {
			t.Errorf("readULEB128(%v) ok = %v, want %v", tt.b, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if v != tt.want || n != tt.wantN {
			t.Errorf("readULEB128(%v) = (%d, %d), want (%d, %d)", tt.b, v, n, tt.want, tt.wantN)
		}
	}
}
