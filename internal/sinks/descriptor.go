// Package sinks implements the four concrete sink kinds named in the
// configuration surface: text-file, binary-file, console, and pipe. Each
// satisfies internal/sink.Sink and is built from its own descriptor by a
// factory registered under its kind with a sink.Registry (see RegisterAll).
package sinks

import "github.com/loomhq/actlog/internal/sink"

// Kind tags identify a descriptor to the sink factory registry. These are
// the four closed, known kinds — there is no reflection-based lookup.
const (
	KindTextFile   = "text-file"
	KindBinaryFile = "binary-file"
	KindConsole    = "console"
	KindPipe       = "pipe"
)

// RegisterAll binds the four built-in sink kinds' factories to reg. Most
// hosts call this once at startup; a host that wants only a subset can
// register the individual factories (NewTextFileSink, NewBinaryFileSink,
// NewConsoleSink, NewPipeSink) instead.
func RegisterAll(reg *sink.Registry) {
	reg.Register(KindTextFile, func(d sink.Descriptor) (sink.Sink, error) {
		desc, ok := d.(*TextFileDescriptor)
		if !ok {
			return nil, &wrongDescriptorError{KindTextFile, d}
		}
		return NewTextFileSink(desc), nil
	})
	reg.Register(KindBinaryFile, func(d sink.Descriptor) (sink.Sink, error) {
		desc, ok := d.(*BinaryFileDescriptor)
		if !ok {
			return nil, &wrongDescriptorError{KindBinaryFile, d}
		}
		return NewBinaryFileSink(desc), nil
	})
	reg.Register(KindConsole, func(d sink.Descriptor) (sink.Sink, error) {
		desc, ok := d.(*ConsoleDescriptor)
		if !ok {
			return nil, &wrongDescriptorError{KindConsole, d}
		}
		return NewConsoleSink(desc), nil
	})
	reg.Register(KindPipe, func(d sink.Descriptor) (sink.Sink, error) {
		desc, ok := d.(*PipeDescriptor)
		if !ok {
			return nil, &wrongDescriptorError{KindPipe, d}
		}
		return NewPipeSink(desc), nil
	})
}

type wrongDescriptorError struct {
	kind string
	got  sink.Descriptor
}

func (e *wrongDescriptorError) Error() string {
	return "sinks: descriptor kind " + e.kind + " built from mismatched type"
}
