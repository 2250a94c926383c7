package linker

// trieExport is one (name, flags, address) triple decoded from a dyld
// compressed export trie (§4.5, "From export trie").
type trieExport struct {
	Name    string
	Flags   uint64
	Address uint64
}

// Export-info flags, as encoded in the trie's terminal node (matches
// dyld's EXPORT_SYMBOL_FLAGS_*).
const (
	exportFlagWeakDef       uint64 = 0x04
	exportFlagThreadLocal   uint64 = 0x01
	exportFlagReExport      uint64 = 0x08
	exportFlagStubResolver  uint64 = 0x10
)

// walkExportTrie decodes the compressed export trie occupying
// data[start:start+size] (an LC_DYLD_INFO export blob). A node reached a
// second time (for example through a child edge pointing back at an
// ancestor) is treated as malformed input rather than looped forever.
func walkExportTrie(path string, data []byte, start, size uint32) ([]trieExport, error) {
	if uint64(start)+uint64(size) > uint64(len(data)) {
		return nil, malformed(path, "export trie past end of file")
	}
	trie := data[start : start+size]
	var out []trieExport
	visited := make(map[uint32]bool)
	var walk func(offset uint32, prefix string) error
	walk = func(offset uint32, prefix string) error {
		if offset >= uint32(len(trie)) {
			return malformed(path, "export trie node out of range")
		}
		if visited[offset] {
			return malformed(path, "export trie contains a cycle")
		}
		visited[offset] = true

		p := offset
		termSize, n, ok := readULEB128(trie, p)
		if !ok {
			return malformed(path, "export trie: bad terminal size")
		}
		p += n

		if termSize > 0 {
			flags, fn, ok := readULEB128(trie, p)
			if !ok {
				return malformed(path, "export trie: bad flags")
			}
			addr, an, ok := readULEB128(trie, p+fn)
			if !ok {
				return malformed(path, "export trie: bad address")
			}
			_ = an
			out = append(out, trieExport{Name: prefix, Flags: flags, Address: addr})
		}

		p = offset + n + uint32(termSize)
		if p >= uint32(len(trie)) {
			return nil
		}
		childCount := trie[p]
		p++
		for i := byte(0); i < childCount; i++ {
			nameStart := p
			for p < uint32(len(trie)) && trie[p] != 0 {
				p++
			}
			if p >= uint32(len(trie)) {
				return malformed(path, "export trie: unterminated child edge label")
			}
			label := string(trie[nameStart:p])
			p++ // skip NUL
			childOffset, cn, ok := readULEB128(trie, p)
			if !ok {
				return malformed(path, "export trie: bad child offset")
			}
			p += cn
			if err := walk(uint32(childOffset), prefix+label); err != nil {
				return err
			}
		}
		return nil
	}

	if len(trie) == 0 {
		return nil, nil
	}
	if err := walk(0, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// readULEB128 decodes an unsigned LEB128 integer starting at offset in b.
func readULEB128(b []byte, offset uint32) (value uint64, n uint32, ok bool) {
	var shift uint
	for {
		if int(offset+n) >= len(b) {
			return 0, 0, false
		}
		byt := b[offset+n]
		n++
		value |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return value, n, true
		}
		shift += 7
		if shift > 63 {
			return 0, 0, false
		}
	}
}
