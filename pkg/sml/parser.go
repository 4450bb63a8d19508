package sml

// Parser is a resettable pull-style parser over a byte stream: it
// accumulates incoming bytes, extracts complete escape-framed
// boxes, and reports one decoded Message at a time via callback. A
// malformed TLV or a bad CRC resyncs at the next escape sequence instead
// of aborting — matching the device-trust failure semantics described for
// the gateway proxy and IP-T session.
type Parser struct {
	buf     []byte
	cb      func(Message)
	onError func(error)
}

// NewParser builds a Parser that reports each decoded Message to onMessage
// and each recoverable error to onError (either may be nil).
func NewParser(onMessage func(Message), onError func(error)) *Parser {
	return &Parser{cb: onMessage, onError: onError}
}

// Feed appends newly received bytes and drains as many complete boxes as
// are available, decoding every message inside each box in order.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
	for {
		content, consumed, err := SplitBox(p.buf)
		if consumed == 0 {
			return
		}
		p.buf = p.buf[consumed:]
		if err != nil {
			p.reportError(err)
			continue
		}
		p.decodeBox(content)
	}
}

// Reset discards any partially accumulated bytes, used when the owning
// session is torn down or superseded.
func (p *Parser) Reset() {
	p.buf = nil
}

func (p *Parser) decodeBox(content []byte) {
	pos := 0
	for pos < len(content) {
		if pos+4 > len(content) || content[pos] != 0x1B || content[pos+1] != 0x1B ||
			content[pos+2] != 0x1B || content[pos+3] != 0x1B {
			// trailing pad bytes or stray data; nothing left to decode.
			return
		}
		pos += 4

		msg, n, err := DecodeMessage(content[pos:])
		if err != nil {
			p.reportError(&ParseError{Offset: pos, Err: err})
			return
		}
		pos += n
		if p.cb != nil {
			p.cb(msg)
		}
	}
}

func (p *Parser) reportError(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
