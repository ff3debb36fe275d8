// SPDX-License-Identifier: GPL-3.0-or-later

package wasm

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/slipwayhq/slipway/internal/host"
)

// hostModuleName is the import namespace guest modules call through, e.g.
// (import "slipway" "log_info" (func ...)).
const hostModuleName = "slipway"

// buildHostModule exposes h's capability set as wazero-importable
// functions. Every function follows the same (ptr, len) in / packed
// (ptr<<32|len) out convention invokeGuest uses for the run() entrypoint,
// so the guest's own allocate()/deallocate() exports are reused on both
// sides of the boundary.
func buildHostModule(rt wazero.Runtime, h host.Host) (wazero.HostModuleBuilder, error) {
	b := rt.NewHostModuleBuilder(hostModuleName)

	logFn := func(level func(string)) api.GoModuleFunc {
		return func(ctx context.Context, mod api.Module, stack []uint64) {
			msg, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
			if !ok {
				return
			}
			level(msg)
		}
	}

	b.NewFunctionBuilder().WithGoModuleFunction(logFn(h.LogTrace), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).Export("log_trace")
	b.NewFunctionBuilder().WithGoModuleFunction(logFn(h.LogDebug), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).Export("log_debug")
	b.NewFunctionBuilder().WithGoModuleFunction(logFn(h.LogInfo), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).Export("log_info")
	b.NewFunctionBuilder().WithGoModuleFunction(logFn(h.LogWarn), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).Export("log_warn")
	b.NewFunctionBuilder().WithGoModuleFunction(logFn(h.LogError), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).Export("log_error")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		handle, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
		if !ok {
			stack[0] = packError()
			return
		}
		input, ok := readGuestBytes(mod, uint32(stack[2]), uint32(stack[3]))
		if !ok {
			stack[0] = packError()
			return
		}
		out, err := h.Run(ctx, handle, input)
		if err != nil {
			stack[0] = packError()
			return
		}
		ptr, ln, werr := writeGuestBytes(ctx, mod, out)
		if werr != nil {
			stack[0] = packError()
			return
		}
		stack[0] = pack(ptr, ln)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("run")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		key, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
		if !ok {
			stack[0] = packError()
			return
		}
		value, present := h.Env(key)
		if !present {
			stack[0] = packError()
			return
		}
		ptr, ln, werr := writeGuestBytes(ctx, mod, []byte(value))
		if werr != nil {
			stack[0] = packError()
			return
		}
		stack[0] = pack(ptr, ln)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("env")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		encodeOrDecode(ctx, mod, stack, h.EncodeBin, h.DecodeBin)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("codec")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		fetch(ctx, mod, stack, h.FetchText)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("fetch_text")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		fetch(ctx, mod, stack, h.FetchBin)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("fetch_bin")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		load(ctx, mod, stack, func(handle, path string) ([]byte, error) {
			text, err := h.LoadText(handle, path)
			return []byte(text), err
		})
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("load_text")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		load(ctx, mod, stack, h.LoadBin)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("load_bin")

	b.NewFunctionBuilder().WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		stackName, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
		if !ok {
			stack[0] = packError()
			return
		}
		font, ok := h.Font(stackName)
		if !ok {
			stack[0] = packError()
			return
		}
		wire, err := json.Marshal(wireFont{Family: font.Family, Data: base64.StdEncoding.EncodeToString(font.Data)})
		if err != nil {
			stack[0] = packError()
			return
		}
		ptr, ln, werr := writeGuestBytes(ctx, mod, wire)
		if werr != nil {
			stack[0] = packError()
			return
		}
		stack[0] = pack(ptr, ln)
	}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).Export("font")

	return b, nil
}

// wireFetchOptions/wireResponse/wireFont are the JSON shapes fetch_text,
// fetch_bin, and font exchange with the guest; load_text and load_bin
// return the file's raw bytes instead. wireResponse and wireFont carry the
// same fields as the objects installHost in internal/runner/js builds for
// goja; the JS fetch options take their body as a plain string, where
// wireFetchOptions carries it base64-encoded.
type wireFetchOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"` // base64
}

type wireResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    string              `json:"body"` // base64
}

type wireFont struct {
	Family string `json:"family"`
	Data   string `json:"data"` // base64
}

// fetch reads a (url, optionsJSON) pair from guest memory, calls do, and
// writes a wireResponse back -- shared by fetch_text and fetch_bin, which
// differ only in which host.Host method does the transport.
func fetch(ctx context.Context, mod api.Module, stack []uint64, do func(context.Context, string, host.FetchOptions) (host.Response, error)) {
	url, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
	if !ok {
		stack[0] = packError()
		return
	}
	optsJSON, ok := readGuestBytes(mod, uint32(stack[2]), uint32(stack[3]))
	if !ok {
		stack[0] = packError()
		return
	}
	var wireOpts wireFetchOptions
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &wireOpts); err != nil {
			stack[0] = packError()
			return
		}
	}
	body, err := base64.StdEncoding.DecodeString(wireOpts.Body)
	if err != nil {
		stack[0] = packError()
		return
	}
	resp, err := do(ctx, url, host.FetchOptions{Method: wireOpts.Method, Headers: wireOpts.Headers, Body: body})
	if err != nil {
		stack[0] = packError()
		return
	}
	wire, err := json.Marshal(wireResponse{Status: resp.Status, Headers: resp.Headers, Body: base64.StdEncoding.EncodeToString(resp.Body)})
	if err != nil {
		stack[0] = packError()
		return
	}
	ptr, ln, werr := writeGuestBytes(ctx, mod, wire)
	if werr != nil {
		stack[0] = packError()
		return
	}
	stack[0] = pack(ptr, ln)
}

// load reads a (handle, path) pair from guest memory and writes do's raw
// result back -- shared by load_text (which wraps LoadText's string
// result in a []byte) and load_bin.
func load(ctx context.Context, mod api.Module, stack []uint64, do func(handle, path string) ([]byte, error)) {
	handle, ok := readGuestString(mod, uint32(stack[0]), uint32(stack[1]))
	if !ok {
		stack[0] = packError()
		return
	}
	path, ok := readGuestString(mod, uint32(stack[2]), uint32(stack[3]))
	if !ok {
		stack[0] = packError()
		return
	}
	data, err := do(handle, path)
	if err != nil {
		stack[0] = packError()
		return
	}
	ptr, ln, werr := writeGuestBytes(ctx, mod, data)
	if werr != nil {
		stack[0] = packError()
		return
	}
	stack[0] = pack(ptr, ln)
}

// encodeOrDecode implements the encode_bin/decode_bin pair over a single
// wazero function, dispatching on stack[2]: 0 = encode, 1 = decode.
func encodeOrDecode(ctx context.Context, mod api.Module, stack []uint64, encode func([]byte) string, decode func(string) ([]byte, error)) {
	data, ok := readGuestBytes(mod, uint32(stack[0]), uint32(stack[1]))
	if !ok {
		stack[0] = packError()
		return
	}
	mode := stack[2]

	var out []byte
	if mode == 0 {
		out = []byte(encode(data))
	} else {
		decoded, err := decode(string(data))
		if err != nil {
			stack[0] = packError()
			return
		}
		out = decoded
	}
	ptr, ln, err := writeGuestBytes(ctx, mod, out)
	if err != nil {
		stack[0] = packError()
		return
	}
	stack[0] = pack(ptr, ln)
}

func pack(ptr, ln uint32) uint64 {
	return uint64(ptr)<<32 | uint64(ln)
}

// packError signals host-call failure to the guest as a zero-length
// result at address zero; the guest's ABI treats (0, 0) as "no value".
func packError() uint64 {
	return 0
}

func readGuestString(mod api.Module, ptr, size uint32) (string, bool) {
	b, ok := readGuestBytes(mod, ptr, size)
	if !ok {
		return "", false
	}
	return string(b), true
}

func readGuestBytes(mod api.Module, ptr, size uint32) ([]byte, bool) {
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// writeGuestBytes asks the guest's own allocate() export for space and
// writes data into it, matching invokeGuest's half of the protocol so
// host calls and the run() entrypoint share one allocation convention.
func writeGuestBytes(ctx context.Context, mod api.Module, data []byte) (uint32, uint32, error) {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		return 0, 0, errNoAllocate
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, 0, errNoAllocate
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, 0, errNoAllocate
	}
	return ptr, uint32(len(data)), nil
}

var errNoAllocate = jsonMarshalError("wasm: guest module missing allocate() export")

type jsonMarshalError string

func (e jsonMarshalError) Error() string { return string(e) }

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
