// Package audit counts the signals the kernel generates for sigprobe's
// worker threads. A small eBPF program on the signal:signal_generate
// tracepoint increments a hash map keyed by target thread and signal number,
// so a report can show what the kernel saw next to what the worker saw.
package audit

import (
	"errors"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/sigprobe/sigprobe/internal/config"
	"github.com/sigprobe/sigprobe/internal/logger"
)

// Key mirrors the map key the program writes.
type Key struct {
	TID uint32
	Sig uint32
}

// Auditor owns the loaded program, its map and the tracepoint link.
type Auditor struct {
	mu     sync.Mutex
	counts *ebpf.Map
	prog   *ebpf.Program
	link   link.Link
	closed bool
}

// Open loads and attaches the audit program. Only signals sent by this
// process are counted.
func Open() (*Auditor, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, newError(ErrCodeMemlock, "failed to remove memlock limit", err)
	}

	counts, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "sigprobe_counts",
		Type:       ebpf.Hash,
		KeySize:    8,
		ValueSize:  8,
		MaxEntries: config.AuditMapMaxEntries,
	})
	if err != nil {
		return nil, newError(ErrCodeMapCreate, "failed to create signal count map", err)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "sigprobe_audit",
		Type:         ebpf.TracePoint,
		License:      "GPL",
		Instructions: program(counts.FD(), uint32(os.Getpid())),
	})
	if err != nil {
		counts.Close()
		return nil, newError(ErrCodeProgramLoad, "failed to load signal audit program", err)
	}

	tp, err := link.Tracepoint(config.SignalGenerateGroup, config.SignalGenerateEvent, prog, nil)
	if err != nil {
		prog.Close()
		counts.Close()
		return nil, newError(ErrCodeAttach, "failed to attach to "+config.SignalGenerateGroup+":"+config.SignalGenerateEvent, err)
	}

	logger.Debug("Signal audit attached",
		zap.String("tracepoint", config.SignalGenerateGroup+":"+config.SignalGenerateEvent),
		zap.Int("max_entries", config.AuditMapMaxEntries))
	return &Auditor{counts: counts, prog: prog, link: tp}, nil
}

// program builds the tracepoint handler:
//
//	if current tgid != pid: return
//	key = {ctx->pid, ctx->sig}
//	if v = lookup(key): atomic v += 1
//	else: update(key, 1)
func program(mapFD int, pid uint32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),

		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.JNE.Imm(asm.R0, int32(pid), "exit"),

		asm.LoadMem(asm.R2, asm.R6, config.SignalGeneratePIDOff, asm.Word),
		asm.StoreMem(asm.RFP, -8, asm.R2, asm.Word),
		asm.LoadMem(asm.R2, asm.R6, config.SignalGenerateSigOff, asm.Word),
		asm.StoreMem(asm.RFP, -4, asm.R2, asm.Word),

		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -8),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "init"),

		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
		asm.Ja.Label("exit"),

		asm.StoreImm(asm.RFP, -16, 1, asm.DWord).WithSymbol("init"),
		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -8),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, -16),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnMapUpdateElem.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

// Count returns how many times the kernel generated sig for tid. A pair the
// program never saw counts as zero.
func (a *Auditor) Count(tid, sig int) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, newError(ErrCodeLookup, "signal audit closed", nil)
	}
	var n uint64
	if err := a.counts.Lookup(Key{TID: uint32(tid), Sig: uint32(sig)}, &n); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return 0, nil
		}
		return 0, newError(ErrCodeLookup, "failed to read signal count", err)
	}
	return n, nil
}

// Close detaches the program and frees the map.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.link != nil {
		errs = append(errs, a.link.Close())
	}
	if a.prog != nil {
		errs = append(errs, a.prog.Close())
	}
	if a.counts != nil {
		errs = append(errs, a.counts.Close())
	}
	return errors.Join(errs...)
}
