package decoder

import "fmt"

// Reference bytecode indices for the minimal RV32I subset decoded by
// RefDecode. The real opcode tables are an external collaborator, but
// round-trip and dispatch tests need *some* decode function to
// exercise DecoderCache end to end, so this covers enough of the base
// integer ISA to do that.
const (
	BytecodeIllegal = uint8(iota)
	BytecodeAdd
	BytecodeAddi
	BytecodeLw
	BytecodeSw
	BytecodeBeq
	BytecodeJal
	BytecodeJalr
	BytecodeEcall
	BytecodeEbreak
)

// RefCPU is the minimal register-file contract RefDecode's handlers
// need. It stands in for the real CPU execution dispatch loop, which
// is out of scope for this module.
type RefCPU struct {
	X      [32]uint64
	PC     uint64
	NextPC uint64
	Halted bool
	Ecall  bool
	Mem    interface {
		CopyFromGuestStruct(addr uint64, v any) error
		CopyToGuestStruct(addr uint64, v any) error
	}
}

func signExtend(v uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}

// RefDecode implements DecodeFunc plus the eager per-instruction
// decode a real decoder would call while filling a DecoderCache. It
// recognizes RV32I R-type ADD, I-type ADDI/LW/JALR, S-type SW, B-type
// BEQ, J-type JAL, and the two system instructions ECALL/EBREAK; any
// other encoding decodes as BytecodeIllegal with a handler that faults.
func RefDecode(instr uint32) (bytecode uint8, handler Handler) {
	opcode := instr & 0x7f
	funct3 := (instr >> 12) & 0x7
	rd := (instr >> 7) & 0x1f
	rs1 := (instr >> 15) & 0x1f
	rs2 := (instr >> 20) & 0x1f

	switch {
	case opcode == 0x33 && funct3 == 0x0 && instr>>25 == 0: // ADD (funct7 == 0)
		return BytecodeAdd, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			c.X[rd] = c.X[rs1] + c.X[rs2]
			c.X[0] = 0
			return nil
		}
	case opcode == 0x13 && funct3 == 0x0: // ADDI
		imm := signExtend(instr>>20, 12)
		return BytecodeAddi, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			c.X[rd] = uint64(int64(c.X[rs1]) + imm)
			c.X[0] = 0
			return nil
		}
	case opcode == 0x03 && funct3 == 0x2: // LW
		imm := signExtend(instr>>20, 12)
		return BytecodeLw, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			addr := uint64(int64(c.X[rs1]) + imm)
			var v int32
			if err := c.Mem.CopyFromGuestStruct(addr, &v); err != nil {
				return err
			}
			c.X[rd] = uint64(int64(v))
			c.X[0] = 0
			return nil
		}
	case opcode == 0x23 && funct3 == 0x2: // SW
		immHi := (instr >> 25) & 0x7f
		immLo := (instr >> 7) & 0x1f
		imm := signExtend((immHi<<5)|immLo, 12)
		return BytecodeSw, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			addr := uint64(int64(c.X[rs1]) + imm)
			v := int32(c.X[rs2])
			return c.Mem.CopyToGuestStruct(addr, &v)
		}
	case opcode == 0x63 && funct3 == 0x0: // BEQ
		immHi := (instr >> 31) & 0x1
		imm11 := (instr >> 7) & 0x1
		imm4_1 := (instr >> 8) & 0xf
		imm10_5 := (instr >> 25) & 0x3f
		raw := (immHi << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
		imm := signExtend(raw, 13)
		return BytecodeBeq, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			if c.X[rs1] == c.X[rs2] {
				c.NextPC = uint64(int64(c.PC) + imm)
			}
			return nil
		}
	case opcode == 0x6f: // JAL
		immHi := (instr >> 31) & 0x1
		imm19_12 := (instr >> 12) & 0xff
		imm11 := (instr >> 20) & 0x1
		imm10_1 := (instr >> 21) & 0x3ff
		raw := (immHi << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
		imm := signExtend(raw, 21)
		return BytecodeJal, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			c.X[rd] = c.PC + 4
			c.X[0] = 0
			c.NextPC = uint64(int64(c.PC) + imm)
			return nil
		}
	case opcode == 0x67 && funct3 == 0x0: // JALR
		imm := signExtend(instr>>20, 12)
		return BytecodeJalr, func(cpu any, instr uint32) error {
			c := cpu.(*RefCPU)
			target := uint64(int64(c.X[rs1])+imm) &^ 1
			c.X[rd] = c.PC + 4
			c.X[0] = 0
			c.NextPC = target
			return nil
		}
	case instr == 0x00000073: // ECALL
		return BytecodeEcall, func(cpu any, instr uint32) error {
			cpu.(*RefCPU).Ecall = true
			return nil
		}
	case instr == 0x00100073: // EBREAK
		return BytecodeEbreak, func(cpu any, instr uint32) error {
			cpu.(*RefCPU).Halted = true
			return fmt.Errorf("decoder: EBREAK instruction")
		}
	default:
		return BytecodeIllegal, func(cpu any, instr uint32) error {
			return fmt.Errorf("decoder: illegal instruction %#08x", instr)
		}
	}
}
