package azpm

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"testing"

	"github.com/ezquant/azpm/azpm/dataset"
	"github.com/ezquant/azpm/azpm/memory"
	"github.com/ezquant/azpm/azpm/model"
	"github.com/ezquant/azpm/azpm/nn"
	"github.com/ezquant/azpm/azpm/plus/localkv"
	"github.com/ezquant/azpm/azpm/portfolio"
	"github.com/ezquant/azpm/azpm/tools/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func rising(name string, n int, start, step float64) model.Asset {
	asset := model.Asset{Name: name}
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		asset.Open = append(asset.Open, c-step/2)
		asset.Close = append(asset.Close, c)
		asset.High = append(asset.High, c+step)
		asset.Low = append(asset.Low, c-step)
	}
	return asset
}

func testPortfolio(t *testing.T, names ...string) *portfolio.Portfolio {
	t.Helper()
	store, err := portfolio.NewPriceStore(rising("BTC", 20, 100, 1), rising("ETH", 20, 10, 0.5), rising("XRP", 20, 1, 0.01))
	require.NoError(t, err)
	if len(names) == 0 {
		names = []string{"CASH", "BTC", "ETH"}
	}
	p, err := portfolio.New(store, names)
	require.NoError(t, err)
	return p
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.BatchSize = 2
	settings.WindowSize = 5
	settings.LearningRate = 1e-3
	settings.Hidden = 8
	return settings
}

func uniformRow(m int) []float64 {
	row := make([]float64, m)
	for i := range row {
		row[i] = 1 / float64(m+1)
	}
	return row
}

func TestNewAgent(t *testing.T) {
	p := testPortfolio(t)

	tt := []struct {
		name    string
		modify  func(*Settings)
		options []Option
		err     error
	}{
		{name: "window too large", modify: func(s *Settings) { s.WindowSize = 20 }, err: dataset.ErrWindowTooLarge},
		{name: "batch too large", modify: func(s *Settings) { s.BatchSize = 16 }, err: dataset.ErrBatchTooLarge},
		{name: "tau", modify: func(s *Settings) { s.Tau = 0 }, err: ErrInvalidSettings},
		{name: "gamma", modify: func(s *Settings) { s.Gamma = 1.5 }, err: ErrInvalidSettings},
		{name: "device", modify: func(s *Settings) { s.Device = "cuda" }, err: nn.ErrUnsupportedDevice},
		{name: "capacity", options: []Option{WithReplayCapacity(1)}, err: ErrInvalidSettings},
		{
			name:    "initial weights",
			options: []Option{WithInitialWeights([]float64{0.8, 0.8})},
			err:     memory.ErrInvalidInitialWeight,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			settings := testSettings()
			if tc.modify != nil {
				tc.modify(&settings)
			}
			_, err := NewAgent(p, settings, tc.options...)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		agent, err := NewAgent(p, testSettings(), WithSeed(1))
		require.NoError(t, err)
		assert.Equal(t, 2, agent.Settings().SampleSize)
		assert.Equal(t, memory.DefaultCapacity, agent.Replay().Capacity())
		assert.Equal(t, 20, agent.PVM().Len())
		assert.Equal(t, 14, agent.Loader().Len())
		assert.Equal(t, nn.Snapshot(agent.Actor()), nn.Snapshot(agent.TargetActor()))
		assert.Equal(t, nn.Snapshot(agent.Critic()), nn.Snapshot(agent.TargetCritic()))
	})
}

func TestTrain(t *testing.T) {
	p := testPortfolio(t)

	var (
		agent      *Agent
		prevActor  map[string][]float64
		prevCritic map[string][]float64
		results    []StepResult
	)

	// Each step must move the targets strictly toward the main networks.
	checkSoftUpdate := func(prev, target, main map[string][]float64, tau float64) {
		for name, values := range target {
			for i, v := range values {
				before, after := prev[name][i], main[name][i]
				if math.Abs(after-before) < 1e-9 {
					continue
				}
				assert.InDelta(t, tau*after+(1-tau)*before, v, 1e-12)
				assert.Greater(t, v, math.Min(before, after), "%s[%d]", name, i)
				assert.Less(t, v, math.Max(before, after), "%s[%d]", name, i)
			}
		}
	}

	agent, err := NewAgent(p, testSettings(), WithSeed(7), WithStepObserver(func(result StepResult) {
		results = append(results, result)

		targetActor, targetCritic := nn.Snapshot(agent.TargetActor()), nn.Snapshot(agent.TargetCritic())
		checkSoftUpdate(prevActor, targetActor, nn.Snapshot(agent.Actor()), agent.Settings().Tau)
		checkSoftUpdate(prevCritic, targetCritic, nn.Snapshot(agent.Critic()), agent.Settings().Tau)
		prevActor, prevCritic = targetActor, targetCritic
	}))
	require.NoError(t, err)
	prevActor, prevCritic = nn.Snapshot(agent.TargetActor()), nn.Snapshot(agent.TargetCritic())
	initialActor := nn.Snapshot(agent.Actor())

	require.NoError(t, agent.Train(context.Background()))

	require.Len(t, results, 14)
	for i, result := range results {
		assert.Equal(t, i, result.Step)
		assert.Equal(t, []int{i, i + 1}, result.PrevIndex)
		assert.True(t, result.Trained)
		assert.False(t, math.IsNaN(result.CriticLoss) || math.IsInf(result.CriticLoss, 0))
		assert.False(t, math.IsNaN(result.ActorLoss) || math.IsInf(result.ActorLoss, 0))
		assert.False(t, math.IsNaN(result.Reward) || math.IsInf(result.Reward, 0))
	}
	assert.NotEqual(t, initialActor, nn.Snapshot(agent.Actor()))

	weights, err := agent.PVM().Get([]int{0})
	require.NoError(t, err)
	assert.Equal(t, uniformRow(2), mat.Row(nil, 0, weights))

	for idx := 1; idx < agent.PVM().Len(); idx++ {
		weights, err := agent.PVM().Get([]int{idx})
		require.NoError(t, err)
		row := mat.Row(nil, 0, weights)
		if idx <= 15 {
			assert.NotEqual(t, uniformRow(2), row, "index %d", idx)
			assert.Less(t, row[0]+row[1], 1.0)
		} else {
			assert.Equal(t, uniformRow(2), row, "index %d", idx)
		}
	}

	assert.Equal(t, 28, agent.Replay().Len())

	history := agent.History()
	require.Len(t, history, 1)
	assert.Equal(t, 14, history[0].Steps)
	assert.Equal(t, 14, history[0].TrainedSteps)

	buffer := bytes.NewBuffer(nil)
	require.NoError(t, agent.Summary(buffer))
	assert.Contains(t, buffer.String(), "CRITIC LOSS")
	assert.Contains(t, buffer.String(), "TOTAL")
}

func TestTrainWarmUp(t *testing.T) {
	settings := testSettings()
	settings.SampleSize = 5
	settings.Epochs = 2

	var results []StepResult
	agent, err := NewAgent(testPortfolio(t), settings, WithSeed(3), WithStepObserver(func(result StepResult) {
		results = append(results, result)
	}))
	require.NoError(t, err)
	initialCritic := nn.Snapshot(agent.Critic())

	require.NoError(t, agent.Train(context.Background()))
	require.Len(t, results, 28)

	assert.False(t, results[0].Trained)
	assert.False(t, results[1].Trained)
	assert.Zero(t, results[1].CriticLoss)
	for _, result := range results[2:] {
		assert.True(t, result.Trained)
	}
	assert.NotEqual(t, initialCritic, nn.Snapshot(agent.Critic()))

	history := agent.History()
	require.Len(t, history, 2)
	assert.Equal(t, 12, history[0].TrainedSteps)
	assert.Equal(t, 14, history[1].TrainedSteps)
	assert.Equal(t, 2, history[1].Epoch)
}

func TestTrainDeterministic(t *testing.T) {
	run := func() []StepResult {
		var results []StepResult
		agent, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(11), WithStepObserver(func(result StepResult) {
			results = append(results, result)
		}))
		require.NoError(t, err)
		require.NoError(t, agent.Train(context.Background()))
		return results
	}
	assert.Equal(t, run(), run())
}

func TestTrainCancel(t *testing.T) {
	agent, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, agent.Train(ctx), context.Canceled)
	assert.Empty(t, agent.History())
}

func TestPredict(t *testing.T) {
	agent, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(1))
	require.NoError(t, err)

	batch, err := agent.Loader().Load([]int{0, 3, 7})
	require.NoError(t, err)
	prior, err := agent.PVM().Get(batch.PrevIndex)
	require.NoError(t, err)

	action, err := agent.Predict(batch.X, prior)
	require.NoError(t, err)
	rows, cols := action.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)
	for i := 0; i < rows; i++ {
		assert.Greater(t, action.At(i, 0), 0.0)
		assert.Less(t, action.At(i, 0)+action.At(i, 1), 1.0)
	}
}

func TestCheckpoint(t *testing.T) {
	kv, err := localkv.NewLocalKV(nil)
	require.NoError(t, err)
	defer kv.Close()

	trained, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(5))
	require.NoError(t, err)
	require.NoError(t, trained.Train(context.Background()))
	require.NoError(t, trained.SaveCheckpoint(kv, "run"))

	keys, err := kv.Keys(CheckpointKey("*"))
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint:run"}, keys)

	t.Run("restore", func(t *testing.T) {
		fresh, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(6))
		require.NoError(t, err)
		require.NotEqual(t, nn.Snapshot(trained.Actor()), nn.Snapshot(fresh.Actor()))

		require.NoError(t, fresh.LoadCheckpoint(kv, "run"))
		assert.Equal(t, nn.Snapshot(trained.Actor()), nn.Snapshot(fresh.Actor()))
		assert.Equal(t, nn.Snapshot(trained.Critic()), nn.Snapshot(fresh.Critic()))
		assert.Equal(t, nn.Snapshot(trained.TargetActor()), nn.Snapshot(fresh.TargetActor()))
		assert.Equal(t, nn.Snapshot(trained.TargetCritic()), nn.Snapshot(fresh.TargetCritic()))

		all := []int{0, 5, 10, 15, 19}
		want, err := trained.PVM().Get(all)
		require.NoError(t, err)
		got, err := fresh.PVM().Get(all)
		require.NoError(t, err)
		assert.True(t, mat.Equal(want, got))
	})

	t.Run("missing", func(t *testing.T) {
		fresh, err := NewAgent(testPortfolio(t), testSettings(), WithSeed(6))
		require.NoError(t, err)
		assert.ErrorIs(t, fresh.LoadCheckpoint(kv, "other"), localkv.ErrNotFound)
	})

	t.Run("asset order", func(t *testing.T) {
		fresh, err := NewAgent(testPortfolio(t, "CASH", "ETH", "BTC"), testSettings(), WithSeed(6))
		require.NoError(t, err)
		before := nn.Snapshot(fresh.Actor())
		assert.ErrorIs(t, fresh.LoadCheckpoint(kv, "run"), ErrCheckpointMismatch)
		assert.Equal(t, before, nn.Snapshot(fresh.Actor()))
	})

	t.Run("other assets", func(t *testing.T) {
		fresh, err := NewAgent(testPortfolio(t, "CASH", "BTC", "XRP"), testSettings(), WithSeed(6))
		require.NoError(t, err)
		assert.ErrorIs(t, fresh.LoadCheckpoint(kv, "run"), ErrCheckpointMismatch)
	})
}
