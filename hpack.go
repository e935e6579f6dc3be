package http2

import (
	"bytes"
	"sync"

	"golang.org/x/net/http2/hpack"
)

// HPACK adapts golang.org/x/net/http2/hpack's Encoder/Decoder to the
// frame-level header block contract this package's Headers/
// Continuation/PushPromise frames use. One HPACK exists per direction
// per session: a Session keeps one for encoding its own requests and
// one for decoding the peer's responses, mirroring the dynamic table
// pairing RFC 7541 requires (each direction has its own table).
type HPACK struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder

	maxHeaderListSize uint32
}

var hpackPool = sync.Pool{
	New: func() interface{} {
		hp := &HPACK{}
		hp.enc = hpack.NewEncoder(&hp.encBuf)
		hp.dec = hpack.NewDecoder(defaultHeaderTableSize, nil)
		return hp
	},
}

// AcquireHPACK returns an HPACK codec from the pool with a fresh
// dynamic table.
func AcquireHPACK() *HPACK {
	hp := hpackPool.Get().(*HPACK)
	hp.Reset()
	return hp
}

// ReleaseHPACK resets hp and returns it to the pool.
func ReleaseHPACK(hp *HPACK) {
	hp.Reset()
	hpackPool.Put(hp)
}

// Reset clears the dynamic table and any buffered encoder output.
func (hp *HPACK) Reset() {
	hp.encBuf.Reset()
	hp.enc.SetMaxDynamicTableSize(defaultHeaderTableSize)
	hp.dec.SetMaxDynamicTableSize(defaultHeaderTableSize)
	hp.maxHeaderListSize = 0
}

// SetMaxTableSize applies a SETTINGS_HEADER_TABLE_SIZE change to the
// encoder's dynamic table: the maximum size the *peer* told us it is
// willing to hold for headers *we* send.
func (hp *HPACK) SetMaxTableSize(size int) {
	hp.enc.SetMaxDynamicTableSize(uint32(size))
}

// SetMaxHeaderListSize bounds the total decoded header list size
// (RFC 7541 section 4.1 sizing, summed over every decoded field) this
// HPACK will accept before DecodeFields fails with a compression
// error. Zero means unbounded.
func (hp *HPACK) SetMaxHeaderListSize(size uint32) {
	hp.maxHeaderListSize = size
}

// AppendHeaderField HPACK-encodes hf and appends the wire
// representation to h's raw header block.
//
// store requests incremental indexing so the field enters the
// encoder's dynamic table for future requests to reference by index;
// when false the field is encoded as never-indexed, a valid RFC 7541
// representation that keeps the table clean for one-shot or sensitive
// values (e.g. per-request :path, Authorization) without requiring a
// second literal-encoding code path.
func (hp *HPACK) AppendHeaderField(h *Headers, hf *HeaderField, store bool) {
	hp.encBuf.Reset()
	hp.enc.WriteField(hpack.HeaderField{
		Name:      hf.Key(),
		Value:     hf.Value(),
		Sensitive: hf.IsSensible() || !store,
	})
	h.AppendRawHeaders(hp.encBuf.Bytes())
}

// DecodeFields decodes a complete HPACK header block (the
// concatenation of a HEADERS/PUSH_PROMISE frame's fragment with any
// CONTINUATION fragments up to END_HEADERS) into its header fields, in
// wire order, enforcing maxHeaderListSize if set.
func (hp *HPACK) DecodeFields(block []byte) ([]hpack.HeaderField, error) {
	fields, err := hp.dec.DecodeFull(block)
	if err != nil {
		return nil, NewConnectionError(CompressionError, err.Error())
	}

	if hp.maxHeaderListSize > 0 {
		var size uint32
		for _, f := range fields {
			size += uint32(len(f.Name)) + uint32(len(f.Value)) + 32
			if size > hp.maxHeaderListSize {
				return nil, NewConnectionError(CompressionError, "header list size exceeds configured maximum")
			}
		}
	}

	return fields, nil
}
