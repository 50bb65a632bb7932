package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyforge/internal/job"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

// displayTopic renders a job topic in title case for human output.
func displayTopic(topic string) string {
	trimmed := strings.TrimSpace(topic)
	if trimmed == "" {
		return "(untitled)"
	}
	return titleCaser.String(trimmed)
}

func formatCost(cost float64) string {
	if cost == 0 {
		return "$0.00"
	}
	return fmt.Sprintf("$%.4f", cost)
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format("2006-01-02 15:04:05")
}

func formatRelative(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts)
}

func stageColor(stage job.Stage) string {
	switch {
	case stage == job.StagePublished:
		return ansiGreen
	case stage == job.StageFailed:
		return ansiRed
	case stage == job.StageCancelled:
		return ansiYellow
	case job.AwaitsApproval(stage):
		return ansiBlue
	default:
		return ""
	}
}

func colorStage(stage job.Stage, colorize bool) string {
	value := string(stage)
	if !colorize {
		return value
	}
	if color := stageColor(stage); color != "" {
		return color + value + ansiReset
	}
	return value
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
