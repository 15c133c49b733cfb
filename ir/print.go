package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Print renders op and its nested regions in a deterministic textual form,
// numbering values and blocks in document order. The form is for tests and
// diagnostics; it is not parsed back.
func Print(op *Operation) string {
	p := &printer{
		values: map[*Value]string{},
		blocks: map[*Block]string{},
	}
	p.numberOp(op)
	p.printOp(op, 0)
	return p.sb.String()
}

type printer struct {
	sb        strings.Builder
	values    map[*Value]string
	blocks    map[*Block]string
	nextValue int
	nextBlock int
}

func (p *printer) valueName(v *Value) string {
	if name, ok := p.values[v]; ok {
		return name
	}
	name := fmt.Sprintf("%%%d", p.nextValue)
	p.nextValue++
	p.values[v] = name
	return name
}

func (p *printer) blockName(b *Block) string {
	if name, ok := p.blocks[b]; ok {
		return name
	}
	name := fmt.Sprintf("^bb%d", p.nextBlock)
	p.nextBlock++
	p.blocks[b] = name
	return name
}

// numberOp assigns names in document order so that printed operands always
// refer to already-numbered definitions.
func (p *printer) numberOp(op *Operation) {
	for _, r := range op.Results() {
		p.valueName(r)
	}
	for _, reg := range op.regions {
		for b := reg.firstBlock; b != nil; b = b.next {
			p.blockName(b)
			for _, arg := range b.args {
				p.valueName(arg)
			}
			for inner := b.firstOp; inner != nil; inner = inner.next {
				p.numberOp(inner)
			}
		}
	}
}

func (p *printer) indent(depth int) {
	for i := 0; i < depth; i++ {
		p.sb.WriteString("  ")
	}
}

func (p *printer) printOp(op *Operation, depth int) {
	p.indent(depth)
	if n := op.NumResults(); n > 0 {
		for i, r := range op.Results() {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			p.sb.WriteString(p.valueName(r))
		}
		p.sb.WriteString(" = ")
	}
	p.sb.WriteString(op.name.full)

	if op.numFixed > 0 {
		p.sb.WriteByte('(')
		for i := 0; i < op.numFixed; i++ {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			if v := op.operands[i].value; v != nil {
				p.sb.WriteString(p.valueName(v))
			} else {
				p.sb.WriteString("<null>")
			}
		}
		p.sb.WriteByte(')')
	}

	if n := op.NumSuccessors(); n > 0 {
		p.sb.WriteString(" [")
		for i := 0; i < n; i++ {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			s := op.successors[i]
			p.sb.WriteString(p.blockName(s.block))
			if s.argCount > 0 {
				p.sb.WriteByte('(')
				for j := 0; j < s.argCount; j++ {
					if j > 0 {
						p.sb.WriteString(", ")
					}
					p.sb.WriteString(p.valueName(op.operands[s.argStart+j].value))
				}
				p.sb.WriteByte(')')
			}
		}
		p.sb.WriteByte(']')
	}

	if len(op.attrs) > 0 {
		attrs := op.attrs.Clone()
		sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
		p.sb.WriteString(" {")
		for i, na := range attrs {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			fmt.Fprintf(&p.sb, "%s = %s", na.Name, na.Value)
		}
		p.sb.WriteByte('}')
	}

	if n := op.NumResults(); n > 0 {
		p.sb.WriteString(" : ")
		if n > 1 {
			p.sb.WriteByte('(')
		}
		for i, r := range op.Results() {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			p.sb.WriteString(r.Type().String())
		}
		if n > 1 {
			p.sb.WriteByte(')')
		}
	}

	for _, reg := range op.regions {
		p.sb.WriteString(" {\n")
		for b := reg.firstBlock; b != nil; b = b.next {
			p.printBlock(b, depth+1, b == reg.firstBlock)
		}
		p.indent(depth)
		p.sb.WriteByte('}')
	}
	p.sb.WriteByte('\n')
}

func (p *printer) printBlock(b *Block, depth int, isEntry bool) {
	// The entry block header is elided when it has no arguments.
	if !isEntry || len(b.args) > 0 {
		p.indent(depth - 1)
		p.sb.WriteString(p.blockName(b))
		if len(b.args) > 0 {
			p.sb.WriteByte('(')
			for i, arg := range b.args {
				if i > 0 {
					p.sb.WriteString(", ")
				}
				fmt.Fprintf(&p.sb, "%s: %s", p.valueName(arg), arg.Type())
			}
			p.sb.WriteByte(')')
		}
		p.sb.WriteString(":\n")
	}
	for op := b.firstOp; op != nil; op = op.next {
		p.printOp(op, depth)
	}
}
