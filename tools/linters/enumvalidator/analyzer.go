// Package enumvalidator reports string literals assigned to struct fields whose type is a
// string enum, that is a named string type with at least one constant declared in its package.
// Closed sets such as model.Category and model.ErrorKind must be assigned through their constants.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "enumvalidator",
	Doc:      "reports string literals assigned to enum-typed struct fields",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	enums := map[*types.Named]bool{}

	filter := []ast.Node{(*ast.AssignStmt)(nil), (*ast.KeyValueExpr)(nil)}
	insp.Preorder(filter, func(n ast.Node) {
		switch n := n.(type) {
		case *ast.AssignStmt:
			if len(n.Lhs) != len(n.Rhs) {
				return
			}
			for i, lhs := range n.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				field, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Var)
				if !ok || !field.IsField() {
					continue
				}
				check(pass, enums, field, n.Rhs[i])
			}
		case *ast.KeyValueExpr:
			key, ok := n.Key.(*ast.Ident)
			if !ok {
				return
			}
			field, ok := pass.TypesInfo.Uses[key].(*types.Var)
			if !ok || !field.IsField() {
				return
			}
			check(pass, enums, field, n.Value)
		}
	})
	return nil, nil
}

func check(pass *analysis.Pass, enums map[*types.Named]bool, field *types.Var, value ast.Expr) {
	lit, ok := ast.Unparen(value).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	named, ok := types.Unalias(field.Type()).(*types.Named)
	if !ok || !isEnum(enums, named) {
		return
	}
	pass.Reportf(lit.Pos(), "enum field %s assigned string literal %s, use a %s constant",
		field.Name(), lit.Value, named.Obj().Name())
}

func isEnum(cache map[*types.Named]bool, named *types.Named) bool {
	if v, ok := cache[named]; ok {
		return v
	}
	result := false
	basic, ok := named.Underlying().(*types.Basic)
	if ok && basic.Kind() == types.String && named.Obj().Pkg() != nil {
		scope := named.Obj().Pkg().Scope()
		for _, name := range scope.Names() {
			if c, ok := scope.Lookup(name).(*types.Const); ok && types.Identical(c.Type(), named) {
				result = true
				break
			}
		}
	}
	cache[named] = result
	return result
}
