package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/actioncards/internal/game/actioncard"
	"github.com/cory-johannsen/actioncards/internal/game/combat"
	"github.com/cory-johannsen/actioncards/internal/game/entity"
)

// ScenarioOperator seats one user at the scenario's table.
type ScenarioOperator struct {
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
	Role     string `yaml:"role"`
}

// ScenarioCombatant is one turn-order slot. Initiative is taken as given.
type ScenarioCombatant struct {
	Entity     string `yaml:"entity"`
	Initiative int    `yaml:"initiative"`
}

// ScenarioRequest is the card execution to run.
type ScenarioRequest struct {
	Card            string            `yaml:"card"`
	Actor           string            `yaml:"actor"`
	Operator        string            `yaml:"operator"`
	Targets         []string          `yaml:"targets"`
	Transformations map[string]string `yaml:"transformations"`
}

// Scenario is a self-contained table state plus one card execution.
type Scenario struct {
	Table     string              `yaml:"table"`
	Entities  []*entity.Entity    `yaml:"entities"`
	Operators []ScenarioOperator  `yaml:"operators"`
	Encounter []ScenarioCombatant `yaml:"encounter"`
	Request   ScenarioRequest     `yaml:"request"`
	// Preview computes the result without mutating anything.
	Preview bool `yaml:"preview"`
	// ApproveAs names the operator who approves the request when the
	// execution needs remote approval. Empty leaves the request pending.
	ApproveAs string `yaml:"approve_as"`
}

// ScenarioResult is what running a scenario produced.
type ScenarioResult struct {
	Execution actioncard.Result
	// Approval is the result of the approver's dispatch, when one ran.
	Approval *actioncard.Result
}

// LoadScenario reads a scenario YAML file.
//
// Postcondition: Returns a scenario with a non-empty table and request card,
// or an error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if sc.Table == "" {
		sc.Table = "default"
	}
	if sc.Request.Card == "" {
		return nil, fmt.Errorf("scenario %s: request.card is required", path)
	}
	return &sc, nil
}

// RunScenario seats the scenario into e and executes its request.
//
// Precondition: e must be freshly assembled; the scenario's entity and
// operator IDs must not already be present.
// Postcondition: Eligibility failures are reported in the returned result,
// not as an error.
func (e *Engine) RunScenario(ctx context.Context, sc *Scenario) (ScenarioResult, error) {
	if err := e.LoadRoster(sc.Entities); err != nil {
		return ScenarioResult{}, err
	}
	for _, o := range sc.Operators {
		username := o.Username
		if username == "" {
			username = o.UserID
		}
		if _, err := e.Sessions.AddOperator(o.UserID, username, sc.Table, o.Role); err != nil {
			return ScenarioResult{}, fmt.Errorf("seating operator: %w", err)
		}
	}
	if len(sc.Encounter) > 0 {
		cs := make([]*combat.Combatant, 0, len(sc.Encounter))
		for _, c := range sc.Encounter {
			name := c.Entity
			if snap, ok := e.Entities.Get(c.Entity); ok {
				name = snap.Name
			}
			cs = append(cs, &combat.Combatant{EntityID: c.Entity, Name: name, Initiative: c.Initiative})
		}
		if _, err := e.Turns.StartEncounter(sc.Table, cs); err != nil {
			return ScenarioResult{}, err
		}
	}

	op, ok := e.Sessions.GetOperator(sc.Request.Operator)
	if !ok {
		return ScenarioResult{}, fmt.Errorf("request operator %q is not seated", sc.Request.Operator)
	}
	req := actioncard.Request{
		CardID:          sc.Request.Card,
		ActorID:         sc.Request.Actor,
		Operator:        op,
		Targets:         sc.Request.Targets,
		Transformations: sc.Request.Transformations,
	}

	var (
		out ScenarioResult
		err error
	)
	if sc.Preview {
		out.Execution, err = e.Orchestrator.Preview(ctx, req)
	} else {
		out.Execution, err = e.Orchestrator.Execute(ctx, req)
	}
	var inel *actioncard.EligibilityError
	if err != nil && !errors.As(err, &inel) {
		return out, err
	}
	if out.Execution.State != actioncard.StateAwaitingApproval || sc.ApproveAs == "" {
		return out, nil
	}

	approver, ok := e.Sessions.GetOperator(sc.ApproveAs)
	if !ok {
		return out, fmt.Errorf("approver %q is not seated", sc.ApproveAs)
	}
	e.logger.Info("approving scenario request",
		zap.String("approver", approver.UserID),
		zap.String("request", out.Execution.Approval.ID.String()),
	)
	res, err := e.Orchestrator.Approve(ctx, out.Execution.Approval.ID, approver)
	out.Approval = &res
	if err != nil && !errors.As(err, &inel) {
		return out, err
	}
	return out, nil
}
