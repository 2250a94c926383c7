package linker

import (
	"strconv"
	"strings"

	"github.com/ksco/machold/pkg/utils"
)

// ArMagic is the eight-byte signature every SysV/BSD ar archive begins
// with (§4.4 step 5(e)).
const ArMagic = "!<arch>\n"

const arHeaderSize = 60

// arHeader is the fixed 60-byte per-member header: name(16) mtime(12)
// uid(6) gid(6) mode(8) size(10) end-magic(2).
type arHeader struct {
	Name  [16]byte
	Mtime [12]byte
	Uid   [6]byte
	Gid   [6]byte
	Mode  [8]byte
	Size  [10]byte
	Fmag  [2]byte
}

// ArchiveMember is one object file extracted from a static archive,
// still unparsed.
type ArchiveMember struct {
	Name   string
	Offset int64 // byte offset of the member's header within the archive
	Data   []byte
}

// Archive is a parsed static archive: the ordered member list (in file
// order, which is also archive-member ordinal order per §3) plus, when
// present, the ranlib-style table of contents used to answer
// "does any member define symbol S" without extracting every member.
// Extraction/selection policy itself belongs to the archive member
// selector, an external collaborator (§1); Archive only answers that
// narrow query.
type Archive struct {
	fileBase
	Members []ArchiveMember
	toc     map[string]int64 // symbol name -> member offset, from __.SYMDEF
}

func (a *Archive) Kind() FileKind { return FileKindArchive }

// HasSymbol implements the narrow archive-member-selector query
// interface (§1): does some member define name, and if so at what
// offset (for the caller to extract). Returns ok=false, not an error,
// when the archive carries no table of contents — callers fall back to
// scanning Members themselves.
func (a *Archive) HasSymbol(name string) (offset int64, ok bool) {
	offset, ok = a.toc[name]
	return offset, ok
}

// looksLikeArchive reports whether b begins with the ar magic (§4.4 step
// 5(e), tried after the Mach-O-family probes).
func looksLikeArchive(b []byte) bool {
	return len(b) >= len(ArMagic) && string(b[:len(ArMagic)]) == ArMagic
}

// parseArchive walks a SysV/BSD-style archive: fixed 60-byte headers,
// each followed by size (rounded up to an even byte) bytes of member
// data. BSD extended names ("#1/<len>") store the name as a prefix of
// the member data itself, which macOS's ar/ranlib always uses for
// non-ASCII or long member names.
func parseArchive(path string, b []byte) (*Archive, error) {
	if !looksLikeArchive(b) {
		return nil, malformed(path, "not an archive")
	}
	a := &Archive{fileBase: fileBase{path: path}}
	pos := int64(len(ArMagic))
	n := int64(len(b))

	for pos+arHeaderSize <= n {
		hdr := utils.Read[arHeader](b[pos:pos+arHeaderSize], byteOrderLE())
		if string(hdr.Fmag[:]) != "`\n" {
			return nil, malformed(path, "bad archive header magic at offset %d", pos)
		}
		size, err := strconv.ParseInt(strings.TrimSpace(string(hdr.Size[:])), 10, 64)
		if err != nil {
			return nil, malformed(path, "bad archive member size at offset %d", pos)
		}
		bodyStart := pos + arHeaderSize
		bodyEnd := bodyStart + size
		if bodyEnd > n {
			return nil, malformed(path, "archive member truncated at offset %d", pos)
		}
		body := b[bodyStart:bodyEnd]

		name := strings.TrimRight(string(hdr.Name[:]), " ")
		name = strings.TrimSuffix(name, "/") // GNU-style short-name terminator
		if extLen, ok := parseBSDExtendedName(name); ok {
			if int64(extLen) <= size {
				name = strings.TrimRight(string(body[:extLen]), "\x00")
				body = body[extLen:]
			}
		}

		switch name {
		case "__.SYMDEF", "__.SYMDEF SORTED", "__.SYMDEF_64", "__.SYMDEF_64 SORTED":
			a.toc = parseRanlibTOC(body, bodyStart, strings.HasSuffix(name, "_64"))
		default:
			a.Members = append(a.Members, ArchiveMember{
				Name:   name,
				Offset: pos,
				Data:   body,
			})
		}

		pos = bodyEnd
		if pos%2 == 1 {
			pos++ // members are padded to an even offset
		}
	}
	return a, nil
}

func parseBSDExtendedName(name string) (length int, ok bool) {
	rest, ok := utils.RemovePrefix(name, "#1/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ranlibEntry is one entry of a 32-bit __.SYMDEF table of contents:
// a string-table offset and the byte offset of the defining member's
// header within the archive.
type ranlibEntry struct {
	StrX       uint32
	MemberOffset uint32
}

type ranlibEntry64 struct {
	StrX       uint64
	MemberOffset uint64
}

// parseRanlibTOC decodes the __.SYMDEF member body into a symbol-name to
// absolute-archive-offset map. The body is: a byte count, that many
// bytes of ranlibEntry, a string-table byte count, then the string
// table. Member offsets are returned exactly as stored: each is already
// the absolute archive offset of the defining member's header, the same
// value ArchiveMember.Offset holds. The second parameter is unused.
func parseRanlibTOC(body []byte, _ int64, is64 bool) map[string]int64 {
	toc := make(map[string]int64)
	if len(body) < 4 {
		return toc
	}
	tocLen := utils.Read[uint32](body[:4], byteOrderLE())
	body = body[4:]
	if is64 {
		entrySize := 16
		count := int(tocLen) / entrySize
		if count*entrySize > len(body) {
			return toc
		}
		entries := utils.ReadSlice[ranlibEntry64](body[:count*entrySize], byteOrderLE(), entrySize)
		body = body[count*entrySize:]
		if len(body) < 8 {
			return toc
		}
		strTabLen := utils.Read[uint64](body[:8], byteOrderLE())
		body = body[8:]
		if uint64(len(body)) < strTabLen {
			strTabLen = uint64(len(body))
		}
		strTab := body[:strTabLen]
		for _, e := range entries {
			toc[utils.CString(strTab, uint32(e.StrX))] = int64(e.MemberOffset)
		}
		return toc
	}

	entrySize := 8
	count := int(tocLen) / entrySize
	if count*entrySize > len(body) {
		return toc
	}
	entries := utils.ReadSlice[ranlibEntry](body[:count*entrySize], byteOrderLE(), entrySize)
	body = body[count*entrySize:]
	if len(body) < 4 {
		return toc
	}
	strTabLen := utils.Read[uint32](body[:4], byteOrderLE())
	body = body[4:]
	if uint32(len(body)) < strTabLen {
		strTabLen = uint32(len(body))
	}
	strTab := body[:strTabLen]
	for _, e := range entries {
		toc[utils.CString(strTab, e.StrX)] = int64(e.MemberOffset)
	}
	return toc
}
