// Package policy evaluates the operator-supplied CEL admission expression
// that every build request must satisfy.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/cel-go/cel"
)

// ErrDenied is returned when the expression evaluates to false
var ErrDenied = errors.New("build denied by admission policy")

// Gate holds one compiled admission expression. A nil Gate allows everything.
//
// The expression sees two variables:
//
//	game: {id, owner_id, slug, title, status, visibility, has_source, config_bytes, config}
//	user: {id}
//
// e.g. `game.config_bytes < 65536 && !(game.title.contains("test"))`
type Gate struct {
	expr string
	prg  cel.Program
}

// New compiles expr. An empty expression returns a nil Gate.
func New(expr string) (*Gate, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("game", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("admission policy must return bool, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Gate{expr: expr, prg: prg}, nil
}

// Expression returns the source expression
func (g *Gate) Expression() string {
	if g == nil {
		return ""
	}
	return g.expr
}

// Check returns ErrDenied when the policy rejects userID building game
func (g *Gate) Check(game *models.Game, userID string) error {
	if g == nil {
		return nil
	}

	out, _, err := g.prg.Eval(map[string]interface{}{
		"game": gameVars(game),
		"user": map[string]interface{}{"id": userID},
	})
	if err != nil {
		return fmt.Errorf("CEL evaluation error: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	if !allowed {
		return ErrDenied
	}
	return nil
}

func gameVars(game *models.Game) map[string]interface{} {
	vars := map[string]interface{}{
		"id":           game.ID.String(),
		"owner_id":     game.OwnerID,
		"slug":         game.Slug,
		"title":        game.Title,
		"status":       string(game.Status),
		"visibility":   string(game.Visibility),
		"has_source":   game.Source != nil,
		"config_bytes": int64(len(game.Config)),
	}

	var config map[string]interface{}
	if len(game.Config) > 0 && json.Unmarshal(game.Config, &config) == nil {
		vars["config"] = config
	} else {
		vars["config"] = map[string]interface{}{}
	}
	return vars
}
