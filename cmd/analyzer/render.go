package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"yt-analyzer-client/internal/entity"
)

var (
	stageStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

func renderState(s entity.UIState) {
	switch s.Kind {
	case entity.StateProcessing:
		fmt.Printf("%s %s %s\n",
			barStyle.Render(progressBar(s.Progress)),
			stageStyle.Render(entity.StageLabel(s.Stage)),
			dimStyle.Render(s.Message),
		)
	case entity.StateCompleted:
		fmt.Println(okStyle.Render("✓ analysis complete"))
		fmt.Println(string(s.Result))
	case entity.StateFailed:
		label := "✗ " + s.Error
		if s.Retryable {
			label += dimStyle.Render(" (retryable)")
		}
		fmt.Println(errStyle.Render(label))
	}
}

func progressBar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	const width = 20
	filled := pct * width / 100
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", width-filled),
		pct,
	)
}

func printJobs(jobs []entity.JobMetadata) {
	if len(jobs) == 0 {
		fmt.Println(dimStyle.Render("no tracked jobs"))
		return
	}
	for _, j := range jobs {
		line := fmt.Sprintf("%s  %-9s %s", j.JobID, j.Status, j.VideoURL)
		if j.Progress != nil {
			line += dimStyle.Render(fmt.Sprintf("  %d%%", *j.Progress))
		}
		if j.Error != "" {
			line += "  " + errStyle.Render(j.Error)
		}
		fmt.Println(line)
	}
}
