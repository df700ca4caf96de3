package engine

import (
	"fmt"
	"strings"

	"github.com/benzoXdev/obfuslua/internal/lua"
)

// VMWrapPass compiles eligible function bodies to a custom opcode stream and
// replaces them with an embedded interpreter. Instructions are 32-bit words:
// low 16 bits opcode, next 8 bits operand A, high 8 bits operand B. Opcode
// numeric values are shuffled per session; the emitted interpreter carries
// the same mapping, so the output is self-contained.
//
// Compiled subset: straight-line bodies made of single-name local
// declarations, assignments to those locals, calls to global functions, and
// a trailing return — all over numeric/boolean constants, fragment locals
// and binary arithmetic/comparison. Anything else leaves the body alone.
type VMWrapPass struct{}

func (VMWrapPass) Name() string { return "vm-wrap" }

// Symbolic opcode set. Values are assigned per session.
const (
	opLoad = iota
	opStore
	opCall
	opJump
	opReturn
	opCompare
	opMath
	opTable
	opCount
)

const vmRegisters = 16

// mathOps and compareOps index the operator sub-code carried in the high
// nibble of operand A.
var mathOps = []string{"+", "-", "*", "/", "%", "^", "//"}
var compareOps = []string{"==", "~=", "<", "<=", ">", ">="}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

type vmConst struct {
	literal string // rendered target-language literal
}

type vmCompiler struct {
	code    []uint32
	consts  []vmConst
	regOf   map[string]int
	next    int
	free    []int // scattered slot order; nil means sequential
	o       *Oracle
	mapping [opCount]uint32
}

func (c *vmCompiler) emit(op, a, b int) {
	c.code = append(c.code, c.mapping[op]|uint32(a)<<16|uint32(b)<<24)
}

func (c *vmCompiler) alloc() (int, bool) {
	if c.free != nil {
		if len(c.free) == 0 {
			return 0, false
		}
		r := c.free[0]
		c.free = c.free[1:]
		return r, true
	}
	if c.next >= vmRegisters {
		return 0, false
	}
	r := c.next
	c.next++
	return r, true
}

func (c *vmCompiler) constIndex(literal string) (int, bool) {
	for i, cv := range c.consts {
		if cv.literal == literal {
			return i + 1, true
		}
	}
	if len(c.consts) >= 255 {
		return 0, false
	}
	c.consts = append(c.consts, vmConst{literal: literal})
	return len(c.consts), true
}

// compileExpr returns the register holding the expression value.
func (c *vmCompiler) compileExpr(e lua.Expr) (int, bool) {
	switch n := e.(type) {
	case *lua.NumberExpr:
		return c.loadConst(n.Raw)
	case *lua.BooleanExpr:
		if n.Value {
			return c.loadConst("true")
		}
		return c.loadConst("false")
	case *lua.VariableExpr:
		r, ok := c.regOf[n.Name]
		return r, ok
	case *lua.BinaryExpr:
		return c.compileBinary(n)
	case *lua.CallExpr:
		return c.compileCall(n)
	}
	return 0, false
}

func (c *vmCompiler) loadConst(literal string) (int, bool) {
	k, ok := c.constIndex(literal)
	if !ok {
		return 0, false
	}
	r, ok := c.alloc()
	if !ok {
		return 0, false
	}
	c.emit(opLoad, r, k)
	return r, true
}

func (c *vmCompiler) compileBinary(n *lua.BinaryExpr) (int, bool) {
	op, sub := opMath, indexOf(mathOps, n.Op)
	if sub < 0 {
		op, sub = opCompare, indexOf(compareOps, n.Op)
	}
	if sub < 0 {
		return 0, false
	}
	l, ok := c.compileExpr(n.Left)
	if !ok {
		return 0, false
	}
	r, ok := c.compileExpr(n.Right)
	if !ok {
		return 0, false
	}
	dest, ok := c.alloc()
	if !ok {
		return 0, false
	}
	c.emit(op, dest|sub<<4, l<<4|r)
	return dest, true
}

// compileCall handles calls to globals: the callee name travels as a string
// constant and is resolved through the environment at run time. Arguments
// are staged into the memory table by TABLE instructions.
func (c *vmCompiler) compileCall(n *lua.CallExpr) (int, bool) {
	callee, ok := n.Callee.(*lua.VariableExpr)
	if !ok {
		return 0, false
	}
	if _, isLocal := c.regOf[callee.Name]; isLocal {
		return 0, false
	}
	// Arguments land in registers first; staging them into the memory table
	// only afterwards keeps a nested call from flushing a half-built list.
	argRegs := make([]int, 0, len(n.Args))
	for _, a := range n.Args {
		ar, ok := c.compileExpr(a)
		if !ok {
			return 0, false
		}
		argRegs = append(argRegs, ar)
	}
	for _, ar := range argRegs {
		c.emit(opTable, ar, 0)
	}
	k, ok := c.constIndex(lua.QuoteString(callee.Name))
	if !ok {
		return 0, false
	}
	dest, ok := c.alloc()
	if !ok {
		return 0, false
	}
	c.emit(opCall, dest, k)
	return dest, true
}

func (c *vmCompiler) compileStmt(st lua.Stmt) bool {
	switch n := st.(type) {
	case *lua.LocalStmt:
		if len(n.Names) != 1 || len(n.Values) != 1 {
			return false
		}
		src, ok := c.compileExpr(n.Values[0])
		if !ok {
			return false
		}
		dest, ok := c.alloc()
		if !ok {
			return false
		}
		c.emit(opStore, src, dest)
		c.regOf[n.Names[0]] = dest
		return true
	case *lua.AssignStmt:
		if len(n.Targets) != 1 || len(n.Values) != 1 {
			return false
		}
		v, ok := n.Targets[0].(*lua.VariableExpr)
		if !ok {
			return false
		}
		dest, isLocal := c.regOf[v.Name]
		if !isLocal {
			return false // globals stay out of the VM
		}
		src, ok := c.compileExpr(n.Values[0])
		if !ok {
			return false
		}
		c.emit(opStore, src, dest)
		return true
	case *lua.ExprStmt:
		call, ok := n.Expr.(*lua.CallExpr)
		if !ok {
			return false
		}
		_, ok = c.compileCall(call)
		return ok
	case *lua.ReturnStmt:
		switch len(n.Exprs) {
		case 0:
			c.emit(opReturn, 0, 0)
			return true
		case 1:
			r, ok := c.compileExpr(n.Exprs[0])
			if !ok {
				return false
			}
			c.emit(opReturn, r, 1)
			return true
		}
		return false
	}
	return false
}

// insertJunk interleaves skip-over jumps and junk words. JUMP displacements
// are always positive, so the instruction pointer grows monotonically and
// the loop terminates for any stream.
func (c *vmCompiler) insertJunk() {
	out := make([]uint32, 0, len(c.code)*2)
	for _, w := range c.code {
		if c.o.Chance(30) {
			out = append(out, c.mapping[opJump]|uint32(2)<<24)
			out = append(out, c.o.U32()&0xFFFF0000|uint32(opCount)) // matches no opcode
		}
		out = append(out, w)
	}
	c.code = out
}

func (p VMWrapPass) Apply(b *lua.Block, ctx *Ctx) error {
	mapping, err := shuffleOpcodes(ctx.Oracle)
	if err != nil {
		return err
	}
	p.walk(b, ctx, mapping)
	return nil
}

// shuffleOpcodes draws distinct 16-bit values for the symbolic set.
func shuffleOpcodes(o *Oracle) ([opCount]uint32, error) {
	var m [opCount]uint32
	seen := map[uint32]bool{uint32(opCount): true}
	for i := 0; i < opCount; i++ {
		for {
			v := uint32(o.Range(256, 0xFFFF))
			if !seen[v] {
				seen[v] = true
				m[i] = v
				break
			}
		}
	}
	return m, nil
}

func (p VMWrapPass) walk(b *lua.Block, ctx *Ctx, mapping [opCount]uint32) {
	for _, st := range b.Stmts {
		switch n := st.(type) {
		case *lua.FunctionDeclStmt:
			if !n.IsMethod && !n.IsVararg && p.tryWrap(n.Params, n.Body, ctx, mapping) {
				continue
			}
			p.walk(n.Body, ctx, mapping)
		case *lua.DoStmt:
			p.walk(n.Body, ctx, mapping)
		case *lua.IfStmt:
			p.walk(n.Then, ctx, mapping)
			for _, ei := range n.ElseIfs {
				p.walk(ei.Body, ctx, mapping)
			}
			if n.Else != nil {
				p.walk(n.Else, ctx, mapping)
			}
		case *lua.WhileStmt:
			p.walk(n.Body, ctx, mapping)
		case *lua.RepeatStmt:
			p.walk(n.Body, ctx, mapping)
		case *lua.NumericForStmt:
			p.walk(n.Body, ctx, mapping)
		case *lua.GenericForStmt:
			p.walk(n.Body, ctx, mapping)
		case *lua.Block:
			p.walk(n, ctx, mapping)
		}
	}
}

// tryWrap compiles a whole function body; on success the body is replaced
// by the opcode table plus interpreter loop.
func (p VMWrapPass) tryWrap(params []string, body *lua.Block, ctx *Ctx, mapping [opCount]uint32) bool {
	if len(body.Stmts) == 0 || len(params) > vmRegisters-4 {
		return false
	}
	// Only bodies with an explicit trailing return are wrapped. The emitted
	// epilogue distinguishes a valued return from a bare one, which Lua
	// keeps apart from returning nil.
	if _, ok := body.Stmts[len(body.Stmts)-1].(*lua.ReturnStmt); !ok {
		return false
	}
	c := &vmCompiler{regOf: make(map[string]int), o: ctx.Oracle, mapping: mapping}
	// Stack randomization scatters the parameter slots instead of using the
	// first registers in order.
	slots := make([]int, vmRegisters)
	for i := range slots {
		slots[i] = i
	}
	if ctx.Opts.StackRandomization {
		ctx.Oracle.Shuffle(slots)
		for i, prm := range params {
			c.regOf[prm] = slots[i]
		}
		c.next = len(params)
		used := map[int]bool{}
		for _, r := range c.regOf {
			used[r] = true
		}
		// Later temporaries must dodge the scattered parameter slots; remap
		// the allocator over the free ones.
		free := []int{}
		for _, r := range slots[len(params):] {
			if !used[r] {
				free = append(free, r)
			}
		}
		c.free = free
	} else {
		for _, prm := range params {
			r, ok := c.alloc()
			if !ok {
				return false
			}
			c.regOf[prm] = r
		}
	}
	for _, st := range body.Stmts {
		if !c.compileStmt(st) {
			return false
		}
	}
	// Junk words are interleaved after compilation; jumps only skip forward,
	// so the loop still reaches the final RETURN.
	c.insertJunk()
	body.Stmts = []lua.Stmt{&lua.RawEmit{Text: p.interpreterSource(c, params, ctx, mapping)}}
	return true
}

// interpreterSource renders the opcode table and the fetch-decode-dispatch
// loop.
func (p VMWrapPass) interpreterSource(c *vmCompiler, params []string, ctx *Ctx, mapping [opCount]uint32) string {
	o := ctx.Oracle
	mem := o.Identifier()
	consts := o.Identifier()
	regs := o.Identifier()
	mtab := o.Identifier()
	ip := o.Identifier()
	instr := o.Identifier()
	opv := o.Identifier()
	av := o.Identifier()
	bv := o.Identifier()
	res := o.Identifier()
	has := o.Identifier()
	sub := o.Identifier()
	fnv := o.Identifier()

	var sb strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	words := make([]string, len(c.code))
	for i, word := range c.code {
		words[i] = fmt.Sprintf("%d", word)
	}
	lits := make([]string, len(c.consts))
	for i, cv := range c.consts {
		lits[i] = cv.literal
	}

	w("local %s = {%s}", mem, strings.Join(words, ", "))
	w("local %s = {%s}", consts, strings.Join(lits, ", "))
	w("local %s = {}", regs)
	for _, prm := range params {
		w("%s[%d] = %s", regs, c.regOf[prm], prm)
	}
	w("local %s = {}", mtab)
	w("local %s = 1", ip)
	w("local %s", res)
	w("local %s = false", has)
	w("while %s <= #%s do", ip, mem)
	w("  local %s = %s[%s]", instr, mem, ip)
	w("  local %s = %s & 0xFFFF", opv, instr)
	w("  local %s = (%s >> 16) & 0xFF", av, instr)
	w("  local %s = (%s >> 24) & 0xFF", bv, instr)
	w("  if %s == %d then", opv, mapping[opLoad])
	w("    %s[%s] = %s[%s]", regs, av, consts, bv)
	w("  elseif %s == %d then", opv, mapping[opStore])
	w("    %s[%s] = %s[%s]", regs, bv, regs, av)
	w("  elseif %s == %d then", opv, mapping[opTable])
	w("    %s[#%s + 1] = %s[%s]", mtab, mtab, regs, av)
	w("  elseif %s == %d then", opv, mapping[opCall])
	w("    local %s = _G[%s[%s]]", fnv, consts, bv)
	w("    %s[%s] = %s(table.unpack(%s))", regs, av, fnv, mtab)
	w("    %s = {}", mtab)
	w("  elseif %s == %d then", opv, mapping[opJump])
	w("    %s = %s + %s - 1", ip, ip, bv)
	w("  elseif %s == %d then", opv, mapping[opMath])
	w("    local %s = %s >> 4", sub, av)
	for i, op := range mathOps {
		kw := "elseif"
		if i == 0 {
			kw = "if"
		}
		w("    %s %s == %d then", kw, sub, i)
		w("      %s[%s & 0xF] = %s[%s >> 4] %s %s[%s & 0xF]", regs, av, regs, bv, op, regs, bv)
	}
	w("    end")
	w("  elseif %s == %d then", opv, mapping[opCompare])
	w("    local %s = %s >> 4", sub, av)
	for i, op := range compareOps {
		kw := "elseif"
		if i == 0 {
			kw = "if"
		}
		w("    %s %s == %d then", kw, sub, i)
		w("      %s[%s & 0xF] = %s[%s >> 4] %s %s[%s & 0xF]", regs, av, regs, bv, op, regs, bv)
	}
	w("    end")
	w("  elseif %s == %d then", opv, mapping[opReturn])
	w("    if %s == 1 then", bv)
	w("      %s = %s[%s]", res, regs, av)
	w("      %s = true", has)
	w("    end")
	w("    break")
	w("  end")
	w("  %s = %s + 1", ip, ip)
	w("end")
	// A bare return (and running off the end of the stream) must yield zero
	// values, not nil: return with a value only when one was set.
	w("if %s then", has)
	w("  return %s", res)
	w("end")
	return strings.TrimRight(sb.String(), "\n")
}
