// Package query parses the list filter expressions accepted by the API,
// such as
//
//	status = "valide" AND amount >= 1000000 AND beneficiary ~ "SODECI"
//
// and turns them into gorm scopes over a whitelist of columns.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

// Expr is a disjunction of conjunctions.
type Expr struct {
	Or []*AndExpr `parser:"@@ ( 'OR' @@ )*"`
}

// AndExpr is a conjunction of terms.
type AndExpr struct {
	And []*Term `parser:"@@ ( 'AND' @@ )*"`
}

// Term is a parenthesized expression or a single comparison.
type Term struct {
	Sub  *Expr       `parser:"  '(' @@ ')'"`
	Cond *Comparison `parser:"| @@"`
}

// Comparison compares a field with a literal.
type Comparison struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@Operator"`
	Value Value  `parser:"@@"`
}

// Value is a literal operand.
type Value struct {
	String *string `parser:"  @String"`
	Number *string `parser:"| @Number"`
	Bool   *string `parser:"| @( 'true' | 'false' )"`
}

func (v Value) raw() string {
	switch {
	case v.String != nil:
		return *v.String
	case v.Number != nil:
		return *v.Number
	case v.Bool != nil:
		return *v.Bool
	}
	return ""
}

var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `(?i)\b(AND|OR)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Operator", Pattern: `>=|<=|!=|=|>|<|~`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[Expr](
	participle.Lexer(filterLexer),
	participle.Unquote("String"),
	participle.CaseInsensitive("Keyword"),
	participle.Elide("whitespace"),
)

// Kind is the type of a filterable column; it decides which operators and
// literals are accepted.
type Kind int

const (
	KindString Kind = iota
	KindDecimal
	KindInt
	KindBool
)

// Column maps a filter field to a database column.
type Column struct {
	Name string
	Kind Kind
}

// Columns is the whitelist of fields a filter may reference.
type Columns map[string]Column

// Parse parses a filter expression.
func Parse(s string) (*Expr, error) {
	expr, err := parser.ParseString("", s)
	if err != nil {
		return nil, invalid(err.Error())
	}
	return expr, nil
}

// Compile turns a filter expression into a SQL condition with positional
// arguments. Fields absent from cols are rejected.
func Compile(s string, cols Columns) (string, []any, error) {
	expr, err := Parse(s)
	if err != nil {
		return "", nil, err
	}
	var args []any
	sql, err := compileExpr(expr, cols, &args)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

// Scope returns a gorm scope applying the filter. An empty filter yields a
// scope that leaves the query unchanged.
func Scope(s string, cols Columns) (func(*gorm.DB) *gorm.DB, error) {
	if strings.TrimSpace(s) == "" {
		return func(db *gorm.DB) *gorm.DB { return db }, nil
	}
	sql, args, err := Compile(s, cols)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB { return db.Where(sql, args...) }, nil
}

func compileExpr(e *Expr, cols Columns, args *[]any) (string, error) {
	parts := make([]string, 0, len(e.Or))
	for _, and := range e.Or {
		terms := make([]string, 0, len(and.And))
		for _, t := range and.And {
			var (
				s   string
				err error
			)
			if t.Sub != nil {
				s, err = compileExpr(t.Sub, cols, args)
				s = "(" + s + ")"
			} else {
				s, err = compileComparison(t.Cond, cols, args)
			}
			if err != nil {
				return "", err
			}
			terms = append(terms, s)
		}
		parts = append(parts, strings.Join(terms, " AND "))
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, ") OR (") + ")", nil
}

func compileComparison(c *Comparison, cols Columns, args *[]any) (string, error) {
	col, ok := cols[c.Field]
	if !ok {
		return "", invalid(fmt.Sprintf("unknown field %q", c.Field))
	}
	raw := c.Value.raw()

	var arg any
	switch col.Kind {
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil || c.Value.Number == nil {
			return "", invalid(fmt.Sprintf("field %q expects a number", c.Field))
		}
		arg = d
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || c.Value.Number == nil {
			return "", invalid(fmt.Sprintf("field %q expects an integer", c.Field))
		}
		arg = n
	case KindBool:
		if c.Value.Bool == nil {
			return "", invalid(fmt.Sprintf("field %q expects true or false", c.Field))
		}
		arg = raw == "true"
	default:
		arg = raw
	}

	switch c.Op {
	case "=", "!=":
		op := c.Op
		if op == "!=" {
			op = "<>"
		}
		*args = append(*args, arg)
		return fmt.Sprintf("%s %s ?", col.Name, op), nil
	case ">", ">=", "<", "<=":
		if col.Kind == KindBool {
			return "", invalid(fmt.Sprintf("operator %s does not apply to %q", c.Op, c.Field))
		}
		*args = append(*args, arg)
		return fmt.Sprintf("%s %s ?", col.Name, c.Op), nil
	case "~":
		if col.Kind != KindString {
			return "", invalid(fmt.Sprintf("operator ~ only applies to text fields, not %q", c.Field))
		}
		*args = append(*args, "%"+strings.ToLower(raw)+"%")
		return fmt.Sprintf("LOWER(%s) LIKE ?", col.Name), nil
	}
	return "", invalid(fmt.Sprintf("unsupported operator %q", c.Op))
}

func invalid(msg string) error {
	return &apperrors.ValidationError{Fields: map[string]string{"filter": msg}}
}
