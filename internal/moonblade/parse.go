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

import (
	"fmt"
	"regexp"
	"strconv"
)

// parser is a Pratt-style precedence-climbing parser, generalized
// from the teacher's expr/partiql/parse.go (itself precedence
// climbing over a SQL grammar) to moonblade's operator table and
// pipeline/underscore semantics.
type parser struct {
	toks []token
	pos  int
	src  string
}

// ParseExpr parses a single moonblade expression.
func ParseExpr(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	n, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, p.errorf("unexpected trailing input %q", p.cur().text)
	}
	return n, nil
}

// ParseNamedExprs parses a comma-separated list of `expr [as name]`
// entries, the grammar used by select/groupby/agg argument lists.
func ParseNamedExprs(src string) ([]NamedExpr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	var out []NamedExpr
	for {
		start := p.cur().pos
		e, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		name := ""
		if p.cur().kind == tokAs {
			p.pos++
			name, err = p.expectNameLiteral()
			if err != nil {
				return nil, err
			}
		} else {
			end := p.cur().pos
			if end > len(src) || end <= start {
				end = len(src)
			}
			name = trimSpace(src[start:end])
		}
		out = append(out, NamedExpr{Expr: e, Name: name})
		if p.cur().kind == tokComma {
			p.pos++
			continue
		}
		break
	}
	if p.cur().kind != tokEOF {
		return nil, p.errorf("unexpected trailing input %q", p.cur().text)
	}
	return out, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) peek() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Source: p.src, Pos: p.cur().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectNameLiteral() (string, error) {
	t := p.cur()
	switch t.kind {
	case tokIdent:
		p.pos++
		return t.text, nil
	case tokString:
		p.pos++
		return t.text, nil
	}
	return "", p.errorf("expected a name")
}

// parsePipeline is the lowest-precedence level: `x | f(...)`.
func (p *parser) parsePipeline() (Node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && p.cur().text == "|" {
		p.pos++
		right, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		left = &Pipeline{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "||" || p.cur().text == "or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "&&" || p.cur().text == "and") {
		p.pos++
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

var equalityOps = map[string]bool{"==": true, "!=": true, "eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true}

func (p *parser) parseEquality() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && equalityOps[p.cur().text] {
		op := p.cur().text
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

var comparisonOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true}

// parseComparison is a single flat precedence tier covering both
// `in`/`not in` and the numeric comparisons `< <= > >=`, per
// spec.md §4.3's one semicolon-delimited clause ("`in`, `not in`,
// numeric comparisons `< <= > >=`"), confirmed by
// original_source/src/moonblade/parser.rs's single Precedence(9) for
// In/NotIn/NumLt/NumLe/NumGt/NumGe/StrLt/StrLe/StrGt/StrGe. `a < b in
// c` must parse as `(a < b) in c`, not `a < (b in c)`.
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		if p.cur().kind == tokOp && comparisonOps[p.cur().text] {
			op := p.cur().text
			p.pos++
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: op, Left: left, Right: right}
			continue
		}
		if p.cur().kind == tokOp && p.cur().text == "in" {
			p.pos++
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "in", Left: left, Right: right}
			continue
		}
		if p.cur().kind == tokOp && p.cur().text == "not" && p.peek().kind == tokOp && p.peek().text == "in" {
			p.pos += 2
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &BinOp{Op: "not in", Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

var additiveOps = map[string]bool{"+": true, "-": true, "++": true}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && additiveOps[p.cur().text] {
		op := p.cur().text
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

var multiplicativeOps = map[string]bool{"*": true, "/": true, "//": true, "%": true}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && multiplicativeOps[p.cur().text] {
		op := p.cur().text
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// parsePower is right-associative: `2 ** 3 ** 2 == 2 ** (3 ** 2)`.
func (p *parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokOp && p.cur().text == "**" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &BinOp{Op: "**", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.cur().kind == tokOp && (p.cur().text == "!" || p.cur().text == "-") {
		op := p.cur().text
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnOp{Op: op, Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles bracket access/slicing applied to a primary
// expression: `x[i]` desugars to `get(x, i)`, `x[a:b]` to `slice(x, a, b)`.
func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokLBracket {
		p.pos++
		if p.cur().kind == tokColon {
			p.pos++
			end, err := p.parsePipeline()
			if err != nil {
				return nil, err
			}
			if p.cur().kind != tokRBracket {
				return nil, p.errorf("expected ']'")
			}
			p.pos++
			n = &Call{Name: "slice", Args: []Node{n, &Literal{Value: None}, end}}
			continue
		}
		first, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		if p.cur().kind == tokColon {
			p.pos++
			if p.cur().kind == tokRBracket {
				p.pos++
				n = &Call{Name: "slice", Args: []Node{n, first, &Literal{Value: None}}}
				continue
			}
			end, err := p.parsePipeline()
			if err != nil {
				return nil, err
			}
			if p.cur().kind != tokRBracket {
				return nil, p.errorf("expected ']'")
			}
			p.pos++
			n = &Call{Name: "slice", Args: []Node{n, first, end}}
			continue
		}
		if p.cur().kind != tokRBracket {
			return nil, p.errorf("expected ']'")
		}
		p.pos++
		n = &Call{Name: "get", Args: []Node{n, first}}
	}
	return n, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.pos++
		i, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer %q", t.text)
		}
		return &Literal{Value: Int(i)}, nil
	case tokFloat:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid float %q", t.text)
		}
		return &Literal{Value: Float(f)}, nil
	case tokString:
		p.pos++
		return &Literal{Value: Str(t.text)}, nil
	case tokTrue:
		p.pos++
		return &Literal{Value: Bool(true)}, nil
	case tokFalse:
		p.pos++
		return &Literal{Value: Bool(false)}, nil
	case tokNull:
		p.pos++
		return &Literal{Value: None}, nil
	case tokRegex:
		p.pos++
		pattern, flags := splitRegexFlags(t.text)
		if containsByte(flags, 'i') {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, p.errorf("invalid regex /%s/: %v", pattern, err)
		}
		return &Literal{Value: RegexValue(re)}, nil
	case tokUnderscore:
		p.pos++
		return &Underscore{}, nil
	case tokLParen:
		p.pos++
		n, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return n, nil
	case tokLBracket:
		return p.parseListLit()
	case tokLBrace:
		return p.parseMapLit()
	case tokIdent:
		return p.parseIdentOrCall()
	}
	return nil, p.errorf("unexpected token %q", t.text)
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

func (p *parser) parseListLit() (Node, error) {
	p.pos++ // [
	var items []Node
	if p.cur().kind == tokRBracket {
		p.pos++
		return &ListLit{}, nil
	}
	for {
		e, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if p.cur().kind == tokComma {
			p.pos++
			continue
		}
		break
	}
	if p.cur().kind != tokRBracket {
		return nil, p.errorf("expected ']'")
	}
	p.pos++
	return &ListLit{Items: items}, nil
}

func (p *parser) parseMapLit() (Node, error) {
	p.pos++ // {
	var keys []string
	var values []Node
	if p.cur().kind == tokRBrace {
		p.pos++
		return &MapLit{}, nil
	}
	for {
		key, err := p.expectNameLiteral()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokColon {
			return nil, p.errorf("expected ':'")
		}
		p.pos++
		v, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		values = append(values, v)
		if p.cur().kind == tokComma {
			p.pos++
			continue
		}
		break
	}
	if p.cur().kind != tokRBrace {
		return nil, p.errorf("expected '}'")
	}
	p.pos++
	return &MapLit{Keys: keys, Values: values}, nil
}

func (p *parser) parseIdentOrCall() (Node, error) {
	name := p.cur().text
	p.pos++
	optional := false
	if p.cur().kind == tokQuestion {
		optional = true
		p.pos++
	}
	if p.cur().kind != tokLParen {
		return &Ident{Name: name, Optional: optional}, nil
	}
	if optional {
		name += "?"
	}
	p.pos++ // (
	call := &Call{Name: name}
	if p.cur().kind == tokRParen {
		p.pos++
		return call, nil
	}
	for {
		if p.cur().kind == tokIdent && p.peek().kind == tokOp && p.peek().text == "=" {
			key := p.cur().text
			p.pos += 2
			v, err := p.parsePipeline()
			if err != nil {
				return nil, err
			}
			if call.Named == nil {
				call.Named = make(map[string]Node)
			}
			call.Named[key] = v
		} else {
			arg, err := p.parsePipeline()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		if p.cur().kind == tokComma {
			p.pos++
			continue
		}
		break
	}
	if p.cur().kind != tokRParen {
		return nil, p.errorf("expected ')'")
	}
	p.pos++
	return call, nil
}
