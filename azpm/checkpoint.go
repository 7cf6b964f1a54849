package azpm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ezquant/azpm/azpm/nn"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

const checkpointPrefix = "checkpoint:"

var ErrCheckpointMismatch = errors.New("checkpoint does not match agent")

// ObjectStore persists msgpack encodable objects by key.
type ObjectStore interface {
	SetObject(key string, value interface{}) error
	GetObject(key string, value interface{}) error
}

// Checkpoint is the restorable state of an agent.
type Checkpoint struct {
	Assets       []string             `msgpack:"assets"`
	Epochs       int                  `msgpack:"epochs"`
	Actor        map[string][]float64 `msgpack:"actor"`
	Critic       map[string][]float64 `msgpack:"critic"`
	TargetActor  map[string][]float64 `msgpack:"target_actor"`
	TargetCritic map[string][]float64 `msgpack:"target_critic"`
	PVM          []float64            `msgpack:"pvm"`
}

func CheckpointKey(name string) string {
	return checkpointPrefix + name
}

func (a *Agent) Checkpoint() (Checkpoint, error) {
	weights, err := a.pvm.Get(lo.Range(a.pvm.Len()))
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{
		Assets:       a.portfolio.NonCash(),
		Epochs:       len(a.history),
		Actor:        nn.Snapshot(a.actor),
		Critic:       nn.Snapshot(a.critic),
		TargetActor:  nn.Snapshot(a.targetActor),
		TargetCritic: nn.Snapshot(a.targetCritic),
		PVM:          weights.RawMatrix().Data,
	}, nil
}

func (a *Agent) Restore(checkpoint Checkpoint) error {
	assets := a.portfolio.NonCash()
	if !slices.Equal(checkpoint.Assets, assets) {
		return fmt.Errorf("assets %v, agent %v: %w", checkpoint.Assets, assets, ErrCheckpointMismatch)
	}
	if len(checkpoint.PVM) != a.pvm.Len()*a.pvm.Assets() {
		return fmt.Errorf("pvm holds %d values: %w", len(checkpoint.PVM), ErrCheckpointMismatch)
	}

	for _, restore := range []struct {
		module   nn.Module
		snapshot map[string][]float64
	}{
		{a.actor, checkpoint.Actor},
		{a.critic, checkpoint.Critic},
		{a.targetActor, checkpoint.TargetActor},
		{a.targetCritic, checkpoint.TargetCritic},
	} {
		if err := nn.Restore(restore.module, restore.snapshot); err != nil {
			return err
		}
	}

	weights := mat.NewDense(a.pvm.Len(), a.pvm.Assets(), append([]float64(nil), checkpoint.PVM...))
	return a.pvm.Update(weights, lo.Range(a.pvm.Len()))
}

// SaveCheckpoint stores the networks and the portfolio vector memory under name.
func (a *Agent) SaveCheckpoint(store ObjectStore, name string) error {
	checkpoint, err := a.Checkpoint()
	if err != nil {
		return err
	}
	return store.SetObject(CheckpointKey(name), checkpoint)
}

func (a *Agent) LoadCheckpoint(store ObjectStore, name string) error {
	var checkpoint Checkpoint
	if err := store.GetObject(CheckpointKey(name), &checkpoint); err != nil {
		return fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return a.Restore(checkpoint)
}
