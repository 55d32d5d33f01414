// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"strconv"
	"strings"
)

// drbdDevInfo is the digested form of `drbdsetup show` output: the local
// backing device, the metadata device with its index, and the two network
// endpoints. Absent pieces stay at their zero value (nil pointers, empty
// strings); a diskless device has no localDev, an unconnected one no
// addresses.
type drbdDevInfo struct {
	localDev   string
	metaDev    string
	metaIndex  *int
	localAddr  *HostPort
	remoteAddr *HostPort
}

// The show output is a tiny, stable brace-delimited configuration dump:
//
//	_this_host {
//	        device                  /dev/drbd0;
//	        disk                    /dev/vg0/lv1;
//	        meta-disk               /dev/vg0/lv1meta [ 0 ];
//	        address                 10.0.0.1:11000;
//	}
//
// Sections hold statements of the form `keyword value? "_is_default"? ;`
// where values are bare tokens, double-quoted strings, host:port addresses
// or `value [ index ]` for meta-disks. Comments run from # to end of line
// and surplus tokens before the semicolon are ignored. A hand-written
// scanner and descent parser cover this comfortably.

type drbdShowToken struct {
	kind drbdShowTokenKind
	text string
}

type drbdShowTokenKind int

const (
	tokWord drbdShowTokenKind = iota
	tokString
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokSemi
)

// isDRBDWordChar reports whether c can appear in a bare token: keywords,
// paths, addresses and sizes are all words.
func isDRBDWordChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '/' || c == '.' || c == ':' || c == '+':
		return true
	}
	return false
}

// scanDRBDShow tokenizes show output, dropping comments.
func scanDRBDShow(out string) ([]drbdShowToken, error) {
	var toks []drbdShowToken
	i := 0
	for i < len(out) {
		c := out[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '#':
			for i < len(out) && out[i] != '\n' {
				i++
			}
		case c == '{':
			toks = append(toks, drbdShowToken{kind: tokLBrace})
			i++
		case c == '}':
			toks = append(toks, drbdShowToken{kind: tokRBrace})
			i++
		case c == '[':
			toks = append(toks, drbdShowToken{kind: tokLBracket})
			i++
		case c == ']':
			toks = append(toks, drbdShowToken{kind: tokRBracket})
			i++
		case c == ';':
			toks = append(toks, drbdShowToken{kind: tokSemi})
			i++
		case c == '"':
			end := strings.IndexByte(out[i+1:], '"')
			if end < 0 {
				return nil, newDeviceError("drbd.show", "unterminated string at offset %d", i)
			}
			toks = append(toks, drbdShowToken{kind: tokString, text: out[i+1 : i+1+end]})
			i += end + 2
		case isDRBDWordChar(c):
			start := i
			for i < len(out) && isDRBDWordChar(out[i]) {
				i++
			}
			toks = append(toks, drbdShowToken{kind: tokWord, text: out[start:i]})
		default:
			return nil, newDeviceError("drbd.show", "unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

// drbdShowStmt is one parsed statement: the keyword, its value tokens in
// order, and the bracketed index if one followed the value.
type drbdShowStmt struct {
	keyword string
	values  []string
	index   *int
}

// drbdShowSection is a named brace-delimited group of statements.
type drbdShowSection struct {
	name  string
	stmts []drbdShowStmt
}

type drbdShowParser struct {
	toks []drbdShowToken
	pos  int
}

func (p *drbdShowParser) peek() (drbdShowToken, bool) {
	if p.pos >= len(p.toks) {
		return drbdShowToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *drbdShowParser) next() (drbdShowToken, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// parseStmt consumes `keyword value* [index]? ;`, dropping the _is_default
// marker and any surplus trailing tokens.
func (p *drbdShowParser) parseStmt(keyword string) (drbdShowStmt, error) {
	stmt := drbdShowStmt{keyword: keyword}
	for {
		t, ok := p.next()
		if !ok {
			return stmt, newDeviceError("drbd.show", "unexpected end of input in statement %q", keyword)
		}
		switch t.kind {
		case tokSemi:
			return stmt, nil
		case tokWord:
			if t.text != "_is_default" {
				stmt.values = append(stmt.values, t.text)
			}
		case tokString:
			stmt.values = append(stmt.values, t.text)
		case tokLBracket:
			num, ok := p.next()
			if !ok || num.kind != tokWord {
				return stmt, newDeviceError("drbd.show", "malformed index in statement %q", keyword)
			}
			n, err := strconv.Atoi(num.text)
			if err != nil {
				return stmt, newDeviceError("drbd.show", "non-numeric index %q in statement %q", num.text, keyword)
			}
			if closing, ok := p.next(); !ok || closing.kind != tokRBracket {
				return stmt, newDeviceError("drbd.show", "unclosed index in statement %q", keyword)
			}
			stmt.index = &n
		default:
			return stmt, newDeviceError("drbd.show", "unexpected token in statement %q", keyword)
		}
	}
}

// parseDRBDShowSections parses the full output into sections; bare
// top-level statements (e.g. `protocol C;`) are parsed and dropped.
func parseDRBDShowSections(out string) ([]drbdShowSection, error) {
	toks, err := scanDRBDShow(out)
	if err != nil {
		return nil, err
	}
	p := &drbdShowParser{toks: toks}

	var sections []drbdShowSection
	for {
		t, ok := p.next()
		if !ok {
			return sections, nil
		}
		if t.kind != tokWord {
			return nil, newDeviceError("drbd.show", "expected section or statement keyword")
		}
		nxt, ok := p.peek()
		if ok && nxt.kind == tokLBrace {
			p.pos++
			sec := drbdShowSection{name: t.text}
			for {
				inner, ok := p.next()
				if !ok {
					return nil, newDeviceError("drbd.show", "unterminated section %q", sec.name)
				}
				if inner.kind == tokRBrace {
					break
				}
				if inner.kind != tokWord {
					return nil, newDeviceError("drbd.show", "expected statement keyword in section %q", sec.name)
				}
				stmt, err := p.parseStmt(inner.text)
				if err != nil {
					return nil, err
				}
				sec.stmts = append(sec.stmts, stmt)
			}
			sections = append(sections, sec)
			continue
		}
		if _, err := p.parseStmt(t.text); err != nil {
			return nil, err
		}
	}
}

// parseHostPort splits a host:port token into its parts.
func parseHostPort(value string) (*HostPort, error) {
	idx := strings.LastIndexByte(value, ':')
	if idx < 0 {
		return nil, newDeviceError("drbd.show", "malformed address %q", value)
	}
	port, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return nil, newDeviceError("drbd.show", "malformed port in address %q", value)
	}
	return &HostPort{Host: value[:idx], Port: port}, nil
}

// parseDRBDShow digests show output into the device info the attach logic
// works from. Empty output produces an empty info.
func parseDRBDShow(out string) (*drbdDevInfo, error) {
	info := &drbdDevInfo{}
	if strings.TrimSpace(out) == "" {
		return info, nil
	}
	sections, err := parseDRBDShowSections(out)
	if err != nil {
		return nil, err
	}
	for _, sec := range sections {
		switch sec.name {
		case "_this_host":
			for _, stmt := range sec.stmts {
				switch stmt.keyword {
				case "disk":
					if len(stmt.values) > 0 {
						info.localDev = stmt.values[0]
					}
				case "meta-disk":
					if len(stmt.values) > 0 {
						info.metaDev = stmt.values[0]
						info.metaIndex = stmt.index
					}
				case "address":
					if len(stmt.values) > 0 {
						if info.localAddr, err = parseHostPort(stmt.values[0]); err != nil {
							return nil, err
						}
					}
				}
			}
		case "_remote_host":
			for _, stmt := range sec.stmts {
				if stmt.keyword == "address" && len(stmt.values) > 0 {
					if info.remoteAddr, err = parseHostPort(stmt.values[0]); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return info, nil
}
