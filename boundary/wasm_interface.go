package boundary

import (
	"encoding/binary"
	"reflect"

	"github.com/go-interpreter/wagon/exec"
	"github.com/go-interpreter/wagon/wasm"
	"github.com/go-interpreter/wagon/wasm/operators"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/abi"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/memory"
)

var (
	errExit   = errors.New("guest exited")
	errNoCall = errors.New("host function called outside of a resumption")
)

// call is the state of one resumption of a wasm program.
type call struct {
	ctx  *kernel.Context
	prog *Program

	// encoded event waiting to be fetched with next_message
	pending []byte

	yielded bool
	exited  bool
	code    int32
}

// WasmInterface implements the env host module. Host functions operate on
// the program currently being resumed, so one WasmInterface must only be
// used by one kernel instance.
type WasmInterface struct {
	L hclog.Logger

	env     *wasm.Module
	current *call
}

func NewWasmInterface(L hclog.Logger) *WasmInterface {
	return &WasmInterface{L: L}
}

func (w *WasmInterface) call() *call {
	if w.current == nil {
		panic(errNoCall)
	}

	return w.current
}

// check faults the guest when [ptr, ptr+size) is outside its memory.
func (w *WasmInterface) check(ptr, size int32) {
	prog := w.call().prog

	if err := prog.checkGrowth(); err != nil {
		panic(err)
	}

	mem := prog.vm.Memory()

	end := uint64(uint32(ptr)) + uint64(uint32(size))
	if end > uint64(len(mem)) {
		panic(errors.Wrapf(memory.ErrInvalidMemoryAccess, "address=%x, size=%x", uint32(ptr), uint32(size)))
	}
}

func (w *WasmInterface) read(p *exec.Process, ptr, size int32) []byte {
	w.check(ptr, size)

	buf := make([]byte, uint32(size))

	if _, err := p.ReadAt(buf, int64(uint32(ptr))); err != nil {
		panic(errors.Wrapf(memory.ErrInvalidMemoryAccess, "reading %x: %s", uint32(ptr), err))
	}

	return buf
}

func (w *WasmInterface) write(p *exec.Process, ptr int32, data []byte) {
	w.check(ptr, int32(len(data)))

	if _, err := p.WriteAt(data, int64(uint32(ptr))); err != nil {
		panic(errors.Wrapf(memory.ErrInvalidMemoryAccess, "writing %x: %s", uint32(ptr), err))
	}
}

func (w *WasmInterface) emitMessage(p *exec.Process, ifacePtr, dataPtr, dataLen, needsAnswer, idOut int32) int32 {
	c := w.call()

	var to iface.ID
	copy(to[:], w.read(p, ifacePtr, iface.Size))

	data := w.read(p, dataPtr, dataLen)

	if needsAnswer != 0 {
		w.check(idOut, 8)
	}

	id, err := c.ctx.Emit(to, data, needsAnswer != 0)
	if err != nil {
		w.L.Trace("emit-message", "pid", c.ctx.Pid(), "interface", to, "error", err)
		return abi.Errno(err)
	}

	if needsAnswer != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		w.write(p, idOut, buf[:])
	}

	return abi.OK
}

func (w *WasmInterface) emitAnswer(p *exec.Process, id int64, dataPtr, dataLen int32) int32 {
	c := w.call()

	data := w.read(p, dataPtr, dataLen)

	if err := c.ctx.Answer(kernel.MessageID(id), data); err != nil {
		w.L.Trace("emit-answer", "pid", c.ctx.Pid(), "id", id, "error", err)
		return abi.Errno(err)
	}

	return abi.OK
}

func (w *WasmInterface) emitMessageError(p *exec.Process, id int64) int32 {
	c := w.call()

	if err := c.ctx.Reject(kernel.MessageID(id)); err != nil {
		return abi.Errno(err)
	}

	return abi.OK
}

func (w *WasmInterface) cancelMessage(p *exec.Process, id int64) int32 {
	c := w.call()

	if err := c.ctx.Cancel(kernel.MessageID(id)); err != nil {
		return abi.Errno(err)
	}

	return abi.OK
}

// nextMessage copies the pending event into the guest and returns its
// length, 0 when there is none.
func (w *WasmInterface) nextMessage(p *exec.Process, outPtr, outLen int32) int32 {
	c := w.call()

	if c.pending == nil {
		return 0
	}

	if uint32(outLen) < uint32(len(c.pending)) {
		return -abi.ERANGE
	}

	w.write(p, outPtr, c.pending)

	n := int32(len(c.pending))
	c.pending = nil

	return n
}

func (w *WasmInterface) yield(p *exec.Process) {
	w.call().yielded = true
}

func (w *WasmInterface) exit(p *exec.Process, code int32) {
	c := w.call()

	c.exited = true
	c.code = code

	panic(errExit)
}

func (w *WasmInterface) debug(p *exec.Process, ptr, size int32) {
	c := w.call()

	msg := w.read(p, ptr, size)

	c.ctx.Logger().Debug("guest-debug", "msg", string(msg))
}

// stubCode is a body that type-checks against sig. Guests importing a
// host function carry it in their function index space, and validation
// walks every entry there; the VM itself calls Host instead.
func stubCode(sig *wasm.FunctionSig) []byte {
	var code []byte

	for _, t := range sig.ReturnTypes {
		switch t {
		case wasm.ValueTypeI32:
			code = append(code, operators.I32Const, 0)
		case wasm.ValueTypeI64:
			code = append(code, operators.I64Const, 0)
		}
	}

	return append(code, operators.End)
}

type hostFunc struct {
	name string
	sig  int
	fn   interface{}
}

// EnvModule returns the host module guests import from. It is built once;
// every decoded guest module references the same host functions.
func (w *WasmInterface) EnvModule() *wasm.Module {
	if w.env != nil {
		return w.env
	}

	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64

	m := wasm.NewModule()
	m.Types = &wasm.SectionTypes{
		Entries: []wasm.FunctionSig{
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i32, i32, i32, i32, i32},
				ReturnTypes: []wasm.ValueType{i32},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i64, i32, i32},
				ReturnTypes: []wasm.ValueType{i32},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i64},
				ReturnTypes: []wasm.ValueType{i32},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i32, i32},
				ReturnTypes: []wasm.ValueType{i32},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{},
				ReturnTypes: []wasm.ValueType{},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i32},
				ReturnTypes: []wasm.ValueType{},
			},
			{
				Form:        0,
				ParamTypes:  []wasm.ValueType{i32, i32},
				ReturnTypes: []wasm.ValueType{},
			},
		},
	}

	funcs := []hostFunc{
		{"emit_message", 0, w.emitMessage},
		{"emit_answer", 1, w.emitAnswer},
		{"emit_message_error", 2, w.emitMessageError},
		{"cancel_message", 2, w.cancelMessage},
		{"next_message", 3, w.nextMessage},
		{"yield", 4, w.yield},
		{"exit", 5, w.exit},
		{"debug", 6, w.debug},
	}

	m.Export = &wasm.SectionExports{
		Entries: make(map[string]wasm.ExportEntry),
	}

	for i, hf := range funcs {
		sig := &m.Types.Entries[hf.sig]

		m.FunctionIndexSpace = append(m.FunctionIndexSpace, wasm.Function{
			Sig:  sig,
			Host: reflect.ValueOf(hf.fn),
			Body: &wasm.FunctionBody{Code: stubCode(sig)},
			Name: hf.name,
		})

		m.Export.Entries[hf.name] = wasm.ExportEntry{
			FieldStr: hf.name,
			Kind:     wasm.ExternalFunction,
			Index:    uint32(i),
		}
	}

	w.env = m

	return m
}
