// Package wasmtest assembles small wasm modules for tests.
package wasmtest

import "bytes"

// opcodes used by test guests
const (
	OpUnreachable = 0x00
	OpIf          = 0x04
	OpEnd         = 0x0b
	OpCall        = 0x10
	OpDrop        = 0x1a
	OpLocalGet    = 0x20
	OpI32Load     = 0x28
	OpI64Load     = 0x29
	OpI32Load8U   = 0x2d
	OpMemorySize  = 0x3f
	OpMemoryGrow  = 0x40
	OpI32Const    = 0x41
	OpI32Eq       = 0x46

	BlockEmpty = 0x40

	I32 = 0x7f
	I64 = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	return append([]byte{OpI32Const}, sleb(int64(v))...)
}

func Call(idx uint32) []byte {
	return append([]byte{OpCall}, uleb(uint64(idx))...)
}

// Load encodes a memory load with no alignment hint.
func Load(op byte, offset uint32) []byte {
	return append([]byte{op, 0x00}, uleb(uint64(offset))...)
}

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func vec(items [][]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

type wfunc struct {
	typ  uint32
	body []byte
}

type exportEntry struct {
	name string
	idx  uint32
}

type segment struct {
	offset int32
	data   []byte
}

// Builder assembles a binary wasm module. Imports must be added before
// functions so that function indices stay stable.
type Builder struct {
	types   [][]byte
	imports [][]byte
	funcs   []wfunc
	exports []exportEntry
	data    []segment

	mem    bool
	memMin uint32
	memMax uint32
	hasMax bool
}

// Type returns the index of the function type, adding it if new.
func (b *Builder) Type(params, results []byte) uint32 {
	enc := append([]byte{0x60}, vec(split(params))...)
	enc = append(enc, vec(split(results))...)

	for i, t := range b.types {
		if bytes.Equal(t, enc) {
			return uint32(i)
		}
	}

	b.types = append(b.types, enc)
	return uint32(len(b.types) - 1)
}

func split(types []byte) [][]byte {
	var out [][]byte
	for _, t := range types {
		out = append(out, []byte{t})
	}
	return out
}

func (b *Builder) ImportFunc(module, field string, params, results []byte) uint32 {
	t := b.Type(params, results)

	enc := append(name(module), name(field)...)
	enc = append(enc, 0x00)
	enc = append(enc, uleb(uint64(t))...)

	b.imports = append(b.imports, enc)
	return uint32(len(b.imports) - 1)
}

// Function adds a function and returns its index.
func (b *Builder) Function(params, results []byte, body ...[]byte) uint32 {
	b.funcs = append(b.funcs, wfunc{
		typ:  b.Type(params, results),
		body: append(Code(body...), OpEnd),
	})

	return uint32(len(b.imports) + len(b.funcs) - 1)
}

func (b *Builder) Export(n string, idx uint32) {
	b.exports = append(b.exports, exportEntry{n, idx})
}

func (b *Builder) Memory(min uint32, max ...uint32) {
	b.mem = true
	b.memMin = min
	if len(max) > 0 {
		b.hasMax = true
		b.memMax = max[0]
	}
}

func (b *Builder) Segment(offset int32, data []byte) {
	b.data = append(b.data, segment{offset, data})
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(body)))...)
	return append(out, body...)
}

func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		out = append(out, section(1, vec(b.types))...)
	}

	if len(b.imports) > 0 {
		out = append(out, section(2, vec(b.imports))...)
	}

	if len(b.funcs) > 0 {
		var idx [][]byte
		for _, f := range b.funcs {
			idx = append(idx, uleb(uint64(f.typ)))
		}
		out = append(out, section(3, vec(idx))...)
	}

	if b.mem {
		var lim []byte
		if b.hasMax {
			lim = append([]byte{0x01}, uleb(uint64(b.memMin))...)
			lim = append(lim, uleb(uint64(b.memMax))...)
		} else {
			lim = append([]byte{0x00}, uleb(uint64(b.memMin))...)
		}
		out = append(out, section(5, vec([][]byte{lim}))...)
	}

	if len(b.exports) > 0 {
		var ex [][]byte
		for _, e := range b.exports {
			enc := append(name(e.name), 0x00)
			ex = append(ex, append(enc, uleb(uint64(e.idx))...))
		}
		out = append(out, section(7, vec(ex))...)
	}

	if len(b.funcs) > 0 {
		var bodies [][]byte
		for _, f := range b.funcs {
			body := append([]byte{0x00}, f.body...) // no locals
			bodies = append(bodies, append(uleb(uint64(len(body))), body...))
		}
		out = append(out, section(10, vec(bodies))...)
	}

	if len(b.data) > 0 {
		var segs [][]byte
		for _, s := range b.data {
			enc := []byte{0x00}
			enc = append(enc, I32Const(s.offset)...)
			enc = append(enc, OpEnd)
			enc = append(enc, uleb(uint64(len(s.data)))...)
			segs = append(segs, append(enc, s.data...))
		}
		out = append(out, section(11, vec(segs))...)
	}

	return out
}

// EnvImports adds every host function and returns their indices by name.
func (b *Builder) EnvImports() map[string]uint32 {
	host := []struct {
		name    string
		params  []byte
		results []byte
	}{
		{"emit_message", []byte{I32, I32, I32, I32, I32}, []byte{I32}},
		{"emit_answer", []byte{I64, I32, I32}, []byte{I32}},
		{"emit_message_error", []byte{I64}, []byte{I32}},
		{"cancel_message", []byte{I64}, []byte{I32}},
		{"next_message", []byte{I32, I32}, []byte{I32}},
		{"yield", nil, nil},
		{"exit", []byte{I32}, nil},
		{"debug", []byte{I32, I32}, nil},
	}

	idx := make(map[string]uint32)
	for _, h := range host {
		idx[h.name] = b.ImportFunc("env", h.name, h.params, h.results)
	}

	return idx
}
