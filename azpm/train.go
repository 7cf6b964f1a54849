package azpm

import (
	"fmt"
	"math"

	"github.com/ezquant/azpm/azpm/memory"
	"github.com/ezquant/azpm/azpm/nn"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// selectAction evaluates the actor in inference mode.
func (a *Agent) selectAction(x *tensor.Dense, prior mat.Matrix) (*mat.Dense, error) {
	g := gorgonia.NewGraph()
	window := nn.WindowInput(g, "window", x)
	priorNode := nn.MatrixInput(g, "prior", prior)

	action, _, err := a.actor.Forward(g, window, priorNode, false)
	if err != nil {
		return nil, err
	}
	values, err := nn.Run(g, action)
	if err != nil {
		return nil, err
	}
	return nn.ToMatrix(values[0])
}

// criticTargets computes r + gamma * Q'(s', mu'(s')) where the next state pairs the next
// window with the action taken, which is the prior of the following period.
func (a *Agent) criticTargets(sample *memory.Batch) ([]float64, error) {
	g := gorgonia.NewGraph()
	window := nn.WindowInput(g, "next_window", sample.NextWindows)
	prior := nn.MatrixInput(g, "next_prior", sample.Actions)

	action, _, err := a.targetActor.Forward(g, window, prior, false)
	if err != nil {
		return nil, err
	}
	q, _, err := a.targetCritic.Forward(g, window, prior, action)
	if err != nil {
		return nil, err
	}
	values, err := nn.Run(g, q)
	if err != nil {
		return nil, err
	}
	next, err := nn.ToMatrix(values[0])
	if err != nil {
		return nil, err
	}

	targets := make([]float64, len(sample.Rewards))
	for i, r := range sample.Rewards {
		targets[i] = r + a.settings.Gamma*next.At(i, 0)
		if math.IsNaN(targets[i]) || math.IsInf(targets[i], 0) {
			return nil, fmt.Errorf("critic target %v: %w", targets[i], ErrNonFiniteLoss)
		}
	}
	return targets, nil
}

// trainCritic takes one step on the mean squared error between Q(s, a) and the targets.
func (a *Agent) trainCritic(sample *memory.Batch) (float64, error) {
	targets, err := a.criticTargets(sample)
	if err != nil {
		return 0, err
	}

	g := gorgonia.NewGraph()
	window := nn.WindowInput(g, "window", sample.Windows)
	prior := nn.MatrixInput(g, "prior", sample.Priors)
	action := nn.MatrixInput(g, "action", sample.Actions)
	target := nn.ColumnInput(g, "target", targets)

	q, learnables, err := a.critic.Forward(g, window, prior, action)
	if err != nil {
		return 0, err
	}
	diff, err := gorgonia.Sub(q, target)
	if err != nil {
		return 0, err
	}
	cost, err := gorgonia.Mean(gorgonia.Must(gorgonia.Square(diff)))
	if err != nil {
		return 0, err
	}

	loss, _, err := a.criticTrainer.Minimize(g, cost, a.critic, learnables)
	return loss, err
}

// trainActor maximises Q(s, mu(s)). The priors come from the portfolio vector memory as it
// stands now, and the recomputed actions are written back as the allocations of the
// following periods.
func (a *Agent) trainActor(sample *memory.Batch) (float64, error) {
	priors, err := a.pvm.Get(sample.Indices)
	if err != nil {
		return 0, err
	}

	g := gorgonia.NewGraph()
	window := nn.WindowInput(g, "window", sample.Windows)
	prior := nn.MatrixInput(g, "prior", priors)

	action, learnables, err := a.actor.Forward(g, window, prior, true)
	if err != nil {
		return 0, err
	}
	q, _, err := a.critic.Forward(g, window, prior, action)
	if err != nil {
		return 0, err
	}
	cost, err := gorgonia.Neg(gorgonia.Must(gorgonia.Mean(q)))
	if err != nil {
		return 0, err
	}

	loss, values, err := a.actorTrainer.Minimize(g, cost, a.actor, learnables, action)
	if err != nil {
		return loss, err
	}

	actions, err := nn.ToMatrix(values[0])
	if err != nil {
		return loss, err
	}
	if err := a.pvm.Update(actions, shift(sample.Indices)); err != nil {
		return loss, err
	}
	return loss, nil
}
