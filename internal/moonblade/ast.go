// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package moonblade

// Node is the common interface for every AST node. Modeled after the
// teacher's expr.Node: a Visitor/Rewriter pair walks the tree in
// depth-first order so later passes (concretization, constant
// folding) don't each re-implement traversal.
type Node interface {
	node()
}

// Visitor is invoked for each node encountered by Walk.
type Visitor interface {
	Visit(Node) Visitor
}

// Rewriter rewrites nodes in depth-first order.
type Rewriter interface {
	Rewrite(Node) Node
	Walk(Node) Rewriter
}

type nonleaf interface {
	rewrite(r Rewriter) Node
}

// Rewrite recursively applies r to n in depth-first order.
func Rewrite(r Rewriter, n Node) Node {
	if n == nil {
		return nil
	}
	if nl, ok := n.(nonleaf); ok {
		if rc := r.Walk(n); rc != nil {
			n = nl.rewrite(rc)
		}
	}
	return r.Rewrite(n)
}

// Literal is a constant value folded at parse or concretization time.
type Literal struct{ Value Value }

func (*Literal) node() {}

// Ident is a bare identifier; Optional marks a trailing `?` suffix
// that downgrades an unresolved identifier to None.
type Ident struct {
	Name     string
	Optional bool
}

func (*Ident) node() {}

func (i *Ident) rewrite(Rewriter) Node { return i }

// Underscore is the pipeline placeholder `_`.
type Underscore struct{}

func (*Underscore) node() {}

// Call is a function call, optionally carrying named (key=value)
// trailing arguments.
type Call struct {
	Name  string
	Args  []Node
	Named map[string]Node
}

func (*Call) node() {}

func (c *Call) rewrite(r Rewriter) Node {
	args := make([]Node, len(c.Args))
	for i, a := range c.Args {
		args[i] = Rewrite(r, a)
	}
	var named map[string]Node
	if c.Named != nil {
		named = make(map[string]Node, len(c.Named))
		for k, v := range c.Named {
			named[k] = Rewrite(r, v)
		}
	}
	return &Call{Name: c.Name, Args: args, Named: named}
}

// BinOp is a binary operator application.
type BinOp struct {
	Op    string
	Left  Node
	Right Node
}

func (*BinOp) node() {}

func (b *BinOp) rewrite(r Rewriter) Node {
	return &BinOp{Op: b.Op, Left: Rewrite(r, b.Left), Right: Rewrite(r, b.Right)}
}

// UnOp is a unary operator application (`!` or unary `-`).
type UnOp struct {
	Op      string
	Operand Node
}

func (*UnOp) node() {}

func (u *UnOp) rewrite(r Rewriter) Node {
	return &UnOp{Op: u.Op, Operand: Rewrite(r, u.Operand)}
}

// ListLit is a `[a, b, c]` list literal.
type ListLit struct{ Items []Node }

func (*ListLit) node() {}

func (l *ListLit) rewrite(r Rewriter) Node {
	items := make([]Node, len(l.Items))
	for i, it := range l.Items {
		items[i] = Rewrite(r, it)
	}
	return &ListLit{Items: items}
}

// MapLit is a `{key: value, ...}` map literal.
type MapLit struct {
	Keys   []string
	Values []Node
}

func (*MapLit) node() {}

func (m *MapLit) rewrite(r Rewriter) Node {
	values := make([]Node, len(m.Values))
	for i, v := range m.Values {
		values[i] = Rewrite(r, v)
	}
	return &MapLit{Keys: m.Keys, Values: values}
}

// Pipeline is `left | right`, where right references left's value via
// Underscore nodes (or as its first argument, if none appear).
type Pipeline struct {
	Left  Node
	Right Node
}

func (*Pipeline) node() {}

func (p *Pipeline) rewrite(r Rewriter) Node {
	return &Pipeline{Left: Rewrite(r, p.Left), Right: Rewrite(r, p.Right)}
}

// NamedExpr pairs a parsed expression with a display name, either
// given explicitly (`expr as name`) or defaulted to the source text.
type NamedExpr struct {
	Expr Node
	Name string
}

// ColumnRef is produced by concretization: it replaces an Ident bound
// to a column, carrying the resolved position.
type ColumnRef struct {
	Pos  int
	Name string
}

func (*ColumnRef) node() {}

func (c *ColumnRef) rewrite(Rewriter) Node { return c }

// Walk traverses n in depth-first order via v.
func Walk(v Visitor, n Node) {
	w := v.Visit(n)
	if w == nil {
		return
	}
	switch t := n.(type) {
	case *Call:
		for _, a := range t.Args {
			Walk(w, a)
		}
		for _, a := range t.Named {
			Walk(w, a)
		}
	case *BinOp:
		Walk(w, t.Left)
		Walk(w, t.Right)
	case *UnOp:
		Walk(w, t.Operand)
	case *ListLit:
		for _, it := range t.Items {
			Walk(w, it)
		}
	case *MapLit:
		for _, val := range t.Values {
			Walk(w, val)
		}
	case *Pipeline:
		Walk(w, t.Left)
		Walk(w, t.Right)
	}
	w.Visit(nil)
}
