package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/manningwu07/charRNN/params"
	"github.com/manningwu07/charRNN/rnn"
	"github.com/manningwu07/charRNN/sampler"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	primeStyle  = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// SampleCLI loads one checkpoint and generates from every line typed as a
// prime. ":n 500" and ":top 3" change the length and top-N; "exit" quits.
func SampleCLI(cfg params.TrainingConfig) error {
	path, err := resolveCheckpoint(cfg)
	if err != nil {
		return err
	}
	vocab, err := samplingVocab(cfg)
	if err != nil {
		return err
	}
	model, vocab, meta, err := sampler.LoadCheckpoint(path, cfg.RecurrentWidth, vocab)
	if err != nil {
		return err
	}
	s, err := sampler.New(model, vocab, cfg.TopN, rnn.NewSource(cfg.Seed))
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s  (iteration %d, val loss %.3f, %d symbols)",
		path, meta.Iteration, meta.ValLoss, vocab.Size())))
	fmt.Println("Type a prime and press enter. 'exit' to quit.")

	n := cfg.NSamples
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("Prime: "))
		input, err := reader.ReadString('\n')
		input = strings.TrimRight(input, "\r\n")
		if input == "exit" || (err != nil && input == "") {
			return nil
		}

		if cmd, arg, ok := strings.Cut(input, " "); ok && strings.HasPrefix(cmd, ":") {
			v, convErr := strconv.Atoi(strings.TrimSpace(arg))
			switch {
			case convErr != nil:
				fmt.Println(errStyle.Render("not a number: " + arg))
			case cmd == ":n" && v >= 0:
				n = v
			case cmd == ":top" && v >= 1 && v <= vocab.Size():
				s.TopN = v
			default:
				fmt.Println(errStyle.Render(fmt.Sprintf("unknown or out-of-range setting %s %d", cmd, v)))
			}
			continue
		}

		w := bufio.NewWriter(os.Stdout)
		w.WriteString(primeStyle.Render(input))
		err = s.Stream(input, n, func(r rune) { w.WriteRune(r) })
		w.WriteString("\n")
		w.Flush()
		if err != nil {
			fmt.Println(errStyle.Render(err.Error()))
		}
	}
}
