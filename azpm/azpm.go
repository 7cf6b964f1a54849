// Package azpm trains a DDPG agent that rebalances a crypto portfolio period by period.
package azpm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ezquant/azpm/azpm/dataset"
	"github.com/ezquant/azpm/azpm/memory"
	"github.com/ezquant/azpm/azpm/nn"
	"github.com/ezquant/azpm/azpm/portfolio"
	"github.com/ezquant/azpm/azpm/tools/log"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrNonFiniteLoss   = nn.ErrNonFinite
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04",
	})
}

// Settings are the hyper parameters of a training run.
type Settings struct {
	BatchSize  int // windows per pipeline batch
	SampleSize int // transitions per replay mini-batch, BatchSize when zero
	WindowSize int
	StepSize   int
	Epochs     int

	LearningRate float64
	Beta1        float64
	Beta2        float64
	Gamma        float64
	Tau          float64

	Hidden  int
	Dropout float64
	Device  nn.Device
}

// DefaultSettings mirrors the reference training run.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:    50,
		WindowSize:   50,
		StepSize:     1,
		Epochs:       1,
		LearningRate: 3e-5,
		Beta1:        0,
		Beta2:        0.9,
		Gamma:        0.99,
		Tau:          0.005,
		Hidden:       32,
		Device:       nn.CPU,
	}
}

func (s Settings) validate() error {
	switch {
	case s.BatchSize < 1, s.SampleSize < 0, s.StepSize < 1, s.Epochs < 1:
		return fmt.Errorf("batch %d, sample %d, step %d, epochs %d: %w", s.BatchSize, s.SampleSize, s.StepSize, s.Epochs, ErrInvalidSettings)
	case s.LearningRate <= 0:
		return fmt.Errorf("learning rate %v: %w", s.LearningRate, ErrInvalidSettings)
	case s.Gamma < 0 || s.Gamma > 1:
		return fmt.Errorf("gamma %v: %w", s.Gamma, ErrInvalidSettings)
	case s.Tau <= 0 || s.Tau > 1:
		return fmt.Errorf("tau %v: %w", s.Tau, ErrInvalidSettings)
	}
	return nil
}

// StepResult reports one training step. Trained is false while the replay memory is warming up.
type StepResult struct {
	Epoch      int
	Step       int
	PrevIndex  []int
	Reward     float64
	Trained    bool
	CriticLoss float64
	ActorLoss  float64
}

// Agent is a Deep Deterministic Policy Gradient agent over a portfolio.
type Agent struct {
	portfolio *portfolio.Portfolio
	settings  Settings

	actor        nn.Actor
	critic       nn.Critic
	targetActor  nn.Actor
	targetCritic nn.Critic

	actorTrainer  *nn.Trainer
	criticTrainer *nn.Trainer

	pvm    *memory.PortfolioVectorMemory
	replay *memory.ReplayMemory
	loader *dataset.Loader

	seed           int64
	seeded         bool
	replayCapacity int
	initialWeights []float64
	progress       bool
	observers      []func(StepResult)

	history []EpochSummary
}

type Option func(*Agent)

// WithActor replaces the default dense actor.
func WithActor(actor nn.Actor) Option {
	return func(a *Agent) {
		a.actor = actor
	}
}

// WithCritic replaces the default dense critic.
func WithCritic(critic nn.Critic) Option {
	return func(a *Agent) {
		a.critic = critic
	}
}

// WithSeed makes network initialisation and replay sampling reproducible.
func WithSeed(seed int64) Option {
	return func(a *Agent) {
		a.seed = seed
		a.seeded = true
	}
}

// WithReplayCapacity bounds the replay memory, 1,000,000 transitions by default.
func WithReplayCapacity(capacity int) Option {
	return func(a *Agent) {
		a.replayCapacity = capacity
	}
}

// WithInitialWeights sets the allocation every period starts from, uniform by default.
func WithInitialWeights(weights []float64) Option {
	return func(a *Agent) {
		a.initialWeights = weights
	}
}

// WithProgressBar renders a progress bar per epoch.
func WithProgressBar(enabled bool) Option {
	return func(a *Agent) {
		a.progress = enabled
	}
}

// WithStepObserver registers a callback invoked after every step.
func WithStepObserver(observer func(StepResult)) Option {
	return func(a *Agent) {
		a.observers = append(a.observers, observer)
	}
}

// WithLogLevel sets the log level. eg: log.DebugLevel, log.InfoLevel, log.WarnLevel
func WithLogLevel(level log.Level) Option {
	return func(_ *Agent) {
		log.SetLevel(level)
	}
}

func NewAgent(p *portfolio.Portfolio, settings Settings, options ...Option) (*Agent, error) {
	if settings.SampleSize == 0 {
		settings.SampleSize = settings.BatchSize
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	agent := &Agent{
		portfolio:      p,
		settings:       settings,
		replayCapacity: memory.DefaultCapacity,
		seed:           time.Now().UnixNano(),
	}
	for _, option := range options {
		option(agent)
	}

	if agent.replayCapacity < settings.SampleSize {
		return nil, fmt.Errorf("replay capacity %d below sample size %d: %w",
			agent.replayCapacity, settings.SampleSize, ErrInvalidSettings)
	}

	ds, err := dataset.New(p, settings.WindowSize)
	if err != nil {
		return nil, err
	}
	sampler, err := dataset.NewSampler(ds.Len(), settings.BatchSize, settings.StepSize)
	if err != nil {
		return nil, err
	}
	agent.loader = dataset.NewLoader(ds, sampler)

	if err := agent.buildNetworks(); err != nil {
		return nil, err
	}

	agent.pvm, err = memory.NewPortfolioVectorMemory(p.NSamples(), p.MNonCashAssets(), agent.initialWeights)
	if err != nil {
		return nil, err
	}
	agent.replay = memory.NewReplayMemory(
		memory.WithCapacity(agent.replayCapacity),
		memory.WithRand(rand.New(rand.NewSource(agent.seed))),
	)

	return agent, nil
}

func (a *Agent) buildNetworks() error {
	config := nn.Config{
		Assets:     a.portfolio.MNonCashAssets(),
		WindowSize: a.settings.WindowSize,
		Hidden:     a.settings.Hidden,
		Dropout:    a.settings.Dropout,
		Device:     a.settings.Device,
	}
	if a.seeded {
		config.Seed = a.seed
	}

	var err error
	if a.actor == nil {
		if a.actor, err = nn.NewDenseActor("actor", config); err != nil {
			return err
		}
	}
	if a.critic == nil {
		if a.critic, err = nn.NewDenseCritic("critic", config); err != nil {
			return err
		}
	}

	a.targetActor = a.actor.Clone()
	a.targetCritic = a.critic.Clone()

	a.actorTrainer = nn.NewTrainer(a.settings.LearningRate, a.settings.Beta1, a.settings.Beta2)
	a.criticTrainer = nn.NewTrainer(a.settings.LearningRate, a.settings.Beta1, a.settings.Beta2)
	return nil
}

func (a *Agent) Portfolio() *portfolio.Portfolio    { return a.portfolio }
func (a *Agent) Settings() Settings                 { return a.settings }
func (a *Agent) PVM() *memory.PortfolioVectorMemory { return a.pvm }
func (a *Agent) Replay() *memory.ReplayMemory       { return a.replay }
func (a *Agent) Loader() *dataset.Loader            { return a.loader }
func (a *Agent) Actor() nn.Actor                    { return a.actor }
func (a *Agent) Critic() nn.Critic                  { return a.critic }
func (a *Agent) TargetActor() nn.Actor              { return a.targetActor }
func (a *Agent) TargetCritic() nn.Critic            { return a.targetCritic }
func (a *Agent) History() []EpochSummary            { return append([]EpochSummary(nil), a.history...) }

// Predict evaluates the policy on a window batch without dropout or gradients.
func (a *Agent) Predict(x *tensor.Dense, prior mat.Matrix) (*mat.Dense, error) {
	return a.selectAction(x, prior)
}

// Train runs every epoch over the full price history. Each epoch is one training pass and
// starts from a freshly reset portfolio vector memory; networks and replay memory carry over.
func (a *Agent) Train(ctx context.Context) error {
	log.Infof("[SETUP] Training on %s, %d periods, %d batches per epoch",
		a.portfolio, a.portfolio.NSamples(), a.loader.Len())

	for epoch := 1; epoch <= a.settings.Epochs; epoch++ {
		if err := a.runEpoch(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) runEpoch(ctx context.Context, epoch int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bar *progressbar.ProgressBar
	if a.progress {
		bar = progressbar.Default(int64(a.loader.Len()), fmt.Sprintf("epoch %d", epoch))
	}

	a.pvm.Reset()
	stats := newEpochStats(epoch)
	batches, errc := a.loader.Stream(ctx)

	step := 0
	for batch := range batches {
		result, err := a.Step(epoch, step, batch)
		if err != nil {
			return fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
		}
		stats.add(result)

		for _, observer := range a.observers {
			observer(result)
		}
		if bar != nil {
			if err := bar.Add(1); err != nil {
				log.Warnf("update progressbar fail: %v", err)
			}
		}
		step++
	}
	if err := <-errc; err != nil {
		return err
	}

	summary := stats.summary()
	a.history = append(a.history, summary)
	log.WithFields(log.Fields{
		"epoch":       epoch,
		"steps":       summary.Steps,
		"critic_loss": summary.CriticLoss,
		"actor_loss":  summary.ActorLoss,
		"reward":      summary.Reward,
	}).Info("epoch done")

	return nil
}

// Step runs the full update for one pipeline batch: act, store the action in the portfolio
// vector memory, score it, remember the transition and, once the replay memory holds a
// mini-batch, train critic then actor and move both targets toward them.
func (a *Agent) Step(epoch, step int, batch dataset.Batch) (StepResult, error) {
	result := StepResult{Epoch: epoch, Step: step, PrevIndex: batch.PrevIndex}

	prior, err := a.pvm.Get(batch.PrevIndex)
	if err != nil {
		return result, err
	}

	action, err := a.selectAction(batch.X, prior)
	if err != nil {
		return result, fmt.Errorf("select action: %w", err)
	}
	if err := a.pvm.Update(action, shift(batch.PrevIndex)); err != nil {
		return result, err
	}

	y, err := dataset.RelativePrices(batch.X)
	if err != nil {
		return result, err
	}
	reward, err := a.portfolio.Reward(action, y, prior)
	if err != nil {
		return result, fmt.Errorf("reward: %w", err)
	}
	for _, r := range reward {
		result.Reward += r
	}

	err = a.replay.Add(&memory.Batch{
		Indices:     batch.PrevIndex,
		Windows:     batch.X,
		Priors:      prior,
		Actions:     action,
		Rewards:     reward,
		NextWindows: batch.XNext,
	})
	if err != nil {
		return result, err
	}

	if a.replay.Len() < a.settings.SampleSize {
		log.Debugf("replay warm-up: %d/%d transitions", a.replay.Len(), a.settings.SampleSize)
		return result, nil
	}

	sample, err := a.replay.Sample(a.settings.SampleSize)
	if err != nil {
		return result, err
	}

	if result.CriticLoss, err = a.trainCritic(sample); err != nil {
		return result, fmt.Errorf("train critic: %w", err)
	}
	if result.ActorLoss, err = a.trainActor(sample); err != nil {
		return result, fmt.Errorf("train actor: %w", err)
	}
	if err := a.updateTargetNetworks(); err != nil {
		return result, err
	}
	result.Trained = true

	log.WithFields(log.Fields{
		"epoch":       epoch,
		"step":        step,
		"critic_loss": result.CriticLoss,
		"actor_loss":  result.ActorLoss,
	}).Debug("step")

	return result, nil
}

func (a *Agent) updateTargetNetworks() error {
	if err := nn.SoftUpdate(a.targetActor, a.actor, a.settings.Tau); err != nil {
		return fmt.Errorf("soft update actor: %w", err)
	}
	if err := nn.SoftUpdate(a.targetCritic, a.critic, a.settings.Tau); err != nil {
		return fmt.Errorf("soft update critic: %w", err)
	}
	return nil
}

func shift(indices []int) []int {
	next := make([]int, len(indices))
	for i, idx := range indices {
		next[i] = idx + 1
	}
	return next
}
