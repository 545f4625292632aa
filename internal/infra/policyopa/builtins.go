package policyopa

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
)

// Quorum policies may only do arithmetic over the tally: no time, randomness or network.
var allowedBuiltins = map[string]struct{}{
	"abs":     {},
	"and":     {},
	"assign":  {},
	"ceil":    {},
	"count":   {},
	"div":     {},
	"eq":      {},
	"equal":   {},
	"floor":   {},
	"gt":      {},
	"gte":     {},
	"lt":      {},
	"lte":     {},
	"max":     {},
	"min":     {},
	"minus":   {},
	"mul":     {},
	"neq":     {},
	"or":      {},
	"plus":    {},
	"rem":     {},
	"round":   {},
	"sprintf": {},
	"sum":     {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
