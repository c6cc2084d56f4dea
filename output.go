package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gonum.org/v1/gonum/floats"

	"github.com/manningwu07/charRNN/train"
)

var summaryStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

// asciiPlot draws a crude vertical bar chart of values scaled to the
// largest one.
func asciiPlot(w io.Writer, values []float64) {
	const height = 10 // number of text rows
	n := len(values)
	if n == 0 {
		fmt.Fprintln(w, "no data to plot")
		return
	}
	top := floats.Max(values)
	if top <= 0 {
		top = 1
	}
	for row := height; row >= 1; row-- {
		threshold := float64(row) / float64(height)
		for _, v := range values {
			if v/top >= threshold {
				fmt.Fprint(w, "█")
			} else {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, strings.Repeat("─", n))
	// checkpoint index every 5 columns
	for i := range values {
		if i%5 == 0 {
			fmt.Fprint(w, strconv.Itoa(i%10))
		} else {
			fmt.Fprint(w, " ")
		}
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, res *train.Result) {
	losses := make([]float64, len(res.Validations))
	for i, v := range res.Validations {
		losses[i] = v.Loss
	}
	if len(losses) > 0 {
		fmt.Fprintln(w, "Validation loss per checkpoint:")
		asciiPlot(w, losses)
	}

	lines := []string{
		fmt.Sprintf("iterations      %d (started at %d)", res.Iterations, res.StartIteration),
		fmt.Sprintf("train loss      %.4f -> %.4f", res.FirstLoss, res.FinalTrainLoss),
		fmt.Sprintf("checkpoints     %d written, %d failed", len(res.Checkpoints), res.FailedSaves),
	}
	if len(losses) > 0 {
		best := floats.MinIdx(losses)
		lines = append(lines, fmt.Sprintf("best val loss   %.4f @ iteration %d", losses[best], res.Validations[best].Iteration))
	}
	fmt.Fprintln(w, summaryStyle.Render(strings.Join(lines, "\n")))
}
