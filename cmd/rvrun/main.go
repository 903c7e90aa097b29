// Command rvrun loads a statically linked RISC-V ELF executable,
// pages it into a guest address space, and drives a minimal
// fetch-decode-execute loop over the base integer subset recognized by
// decoder.RefDecode, dispatching ECALL through the syscall emulation
// layer. It exists to exercise pkg/guestmem, pkg/decoder, and
// pkg/sysemu end to end; a real instruction set and execution engine
// are out of scope.
package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bassosimone/rvuser/pkg/decoder"
	"github.com/bassosimone/rvuser/pkg/fdtable"
	"github.com/bassosimone/rvuser/pkg/guestmem"
	"github.com/bassosimone/rvuser/pkg/sysemu"
)

// ErrHalted is returned by run's loop when the guest executes EBREAK,
// ending the run cleanly. A guest exit syscall also ends the run
// cleanly, with a nil error.
var ErrHalted = errors.New("rvrun: halted")

const instructionBudget = 10_000_000

// regs adapts decoder.RefCPU's register file to the narrow Regs
// contracts pkg/sysemu and pkg/sigtable need, following the RISC-V
// calling convention: a0..a7 are x10..x17, sp is x2.
type regs struct {
	cpu *decoder.RefCPU
}

func (r regs) A(i int) uint64 {
	if i == 7 {
		return r.cpu.X[17]
	}
	return r.cpu.X[10+i]
}

func (r regs) SetA0(v uint64) { r.cpu.X[10] = v }
func (r regs) PC() uint64     { return r.cpu.PC }
func (r regs) SetPC(v uint64) { r.cpu.PC = v; r.cpu.NextPC = v }
func (r regs) SP() uint64     { return r.cpu.X[2] }
func (r regs) SetSP(v uint64) { r.cpu.X[2] = v }

func run(path string, verbose bool) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("rvrun: opening %s: %w", path, err)
	}
	defer f.Close()

	bin, err := guestmem.LoadBinary(f, guestmem.LoaderOptions{
		ProtectSegments: true,
		PagesTotal:      1 << 16,
	})
	if err != nil {
		return err
	}

	m := sysemu.NewMachine(bin.Mem, sysemu.Options{
		Width:      sysemu.Width64,
		BrkMax:     64 << 20, // heap may grow up to 64 MiB past HeapAddress
		Filesystem: true,
		Filters:    fdtable.Filters{},
	})
	defer m.FD.CloseAll()

	cpu := &decoder.RefCPU{PC: bin.Mem.StartAddress, Mem: bin.Mem}
	rg := regs{cpu: cpu}

	for i := 0; i < instructionBudget; i++ {
		var raw uint32
		if err := bin.Mem.CopyFromGuestStruct(cpu.PC, &raw); err != nil {
			return fmt.Errorf("rvrun: fetch at %#x: %w", cpu.PC, err)
		}
		bytecode, handler := decoder.RefDecode(raw)
		if verbose {
			log.Printf("rvrun: pc=%#x instr=%#08x bytecode=%d", cpu.PC, raw, bytecode)
		}
		cpu.NextPC = cpu.PC + 4
		if err := handler(cpu, raw); err != nil {
			if cpu.Halted {
				return ErrHalted
			}
			return err
		}
		if cpu.Ecall {
			cpu.Ecall = false
			if err := m.Syscall(rg); err != nil {
				var exit *sysemu.ExitEvent
				if errors.As(err, &exit) {
					return nil
				}
				return err
			}
		}
		cpu.PC = cpu.NextPC
	}
	return fmt.Errorf("rvrun: instruction budget exhausted")
}

func main() {
	log.SetFlags(0)
	filename := flag.String("f", "", "ELF executable to run")
	verbose := flag.Bool("v", false, "trace fetched instructions")
	flag.Parse()
	if *filename == "" {
		log.Fatal("usage: rvrun [-v] -f <elf-executable>")
	}
	if err := run(*filename, *verbose); err != nil && !errors.Is(err, ErrHalted) {
		log.Fatal(err)
	}
	os.Exit(0)
}
