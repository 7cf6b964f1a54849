package azpm

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// EpochSummary aggregates the steps of one epoch. Losses only cover trained steps.
type EpochSummary struct {
	Epoch         int
	Steps         int
	TrainedSteps  int
	CriticLoss    float64
	CriticLossStd float64
	ActorLoss     float64
	ActorLossStd  float64
	Reward        float64
}

type epochStats struct {
	epoch   int
	steps   int
	critic  []float64
	actor   []float64
	rewards []float64
}

func newEpochStats(epoch int) *epochStats {
	return &epochStats{epoch: epoch}
}

func (s *epochStats) add(result StepResult) {
	s.steps++
	s.rewards = append(s.rewards, result.Reward)
	if result.Trained {
		s.critic = append(s.critic, result.CriticLoss)
		s.actor = append(s.actor, result.ActorLoss)
	}
}

func meanStd(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}

func (s *epochStats) summary() EpochSummary {
	summary := EpochSummary{
		Epoch:        s.epoch,
		Steps:        s.steps,
		TrainedSteps: len(s.critic),
	}
	summary.CriticLoss, summary.CriticLossStd = meanStd(s.critic)
	summary.ActorLoss, summary.ActorLossStd = meanStd(s.actor)
	summary.Reward, _ = meanStd(s.rewards)
	return summary
}

// Summary writes one row per finished epoch.
func (a *Agent) Summary(w io.Writer) error {
	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"Epoch", "Steps", "Trained", "Critic Loss", "Actor Loss", "Reward"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	steps, trained := 0, 0
	for _, summary := range a.history {
		table.Append([]string{
			strconv.Itoa(summary.Epoch),
			strconv.Itoa(summary.Steps),
			strconv.Itoa(summary.TrainedSteps),
			fmt.Sprintf("%.6f ± %.6f", summary.CriticLoss, summary.CriticLossStd),
			fmt.Sprintf("%.6f ± %.6f", summary.ActorLoss, summary.ActorLossStd),
			fmt.Sprintf("%.6f", summary.Reward),
		})
		steps += summary.Steps
		trained += summary.TrainedSteps
	}

	table.SetFooter([]string{
		"TOTAL",
		strconv.Itoa(steps),
		strconv.Itoa(trained),
		"",
		"",
		"",
	})
	table.Render()

	_, err := io.Copy(w, buffer)
	return err
}
