package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/mattn/go-runewidth"
)

const minBoxWidth = 50

func printStartupBanner(w io.Writer, cfg *config.Config) {
	titleLine := fmt.Sprintf("ReplayTap v%s", version)
	subtitleLine := "Client Replay Engine"

	var lines []string

	mode := cfg.Replay.Mode
	if mode == "" {
		mode = config.ModeRegular
	}
	lines = append(lines, fmt.Sprintf("🔁 Replay Mode:     %s", mode))
	if cfg.Replay.BodySizeLimit != "" {
		lines = append(lines, fmt.Sprintf("📦 Body Limit:      %s", cfg.Replay.BodySizeLimit))
	}
	if len(cfg.Replay.ClientReplay) > 0 {
		lines = append(lines, fmt.Sprintf("📂 Client Replay:   %d source(s)", len(cfg.Replay.ClientReplay)))
		for _, path := range cfg.Replay.ClientReplay {
			lines = append(lines, fmt.Sprintf("   └─ %s", path))
		}
	} else {
		lines = append(lines, "📂 Client Replay:   None")
	}
	if n := len(cfg.Hooks.Rules); n > 0 {
		lines = append(lines, fmt.Sprintf("🪝 Hook Rules:      %d", n))
	}
	lines = append(lines, fmt.Sprintf("📊 Log Level:       %s", cfg.Log.Level))

	lines = append(lines, "")
	if cfg.API.Enable {
		lines = append(lines, fmt.Sprintf("🚀 Admin API:       http://%s:%d%s", cfg.API.Listen, cfg.API.Port, cfg.API.BasePath))
		auth := "Disabled"
		if cfg.API.Token != "" {
			auth = "Bearer token"
		}
		lines = append(lines, fmt.Sprintf("   └─ Auth:         %s", auth))
		lines = append(lines, fmt.Sprintf("   └─ Flow View:    %d flow(s)", cfg.API.MaxFlows))
	} else {
		lines = append(lines, "🚀 Admin API:       Disabled")
	}

	if len(cfg.Notify.URLs) > 0 {
		lines = append(lines, fmt.Sprintf("🔔 Notify Targets:  %d Target(s)", len(cfg.Notify.URLs)))
		for _, url := range cfg.Notify.URLs {
			lines = append(lines, fmt.Sprintf("   └─ %s", url))
		}
	} else {
		lines = append(lines, "🔔 Notify Targets:  None")
	}

	if cfg.Storage.Path != "" {
		lines = append(lines, fmt.Sprintf("💾 Capture DB:      %s", cfg.Storage.Path))
	}

	lines = append(lines, "")
	if cfg.Log.FileLogging.Enable {
		compress := "Disabled"
		if cfg.Log.FileLogging.Compress {
			compress = "Enabled"
		}
		lines = append(lines, "📝 File Logging:    Enabled")
		lines = append(lines, fmt.Sprintf("   └─ %s (%dMB, %d backups, %d days, compress: %s)",
			cfg.Log.FileLogging.Path,
			cfg.Log.FileLogging.MaxSizeMB,
			cfg.Log.FileLogging.MaxBackups,
			cfg.Log.FileLogging.MaxAgeDays,
			compress))
	} else {
		lines = append(lines, "📝 File Logging:    Disabled")
	}

	lines = append(lines, "", "(Press Ctrl+C to stop)")

	boxWidth := runewidth.StringWidth(titleLine)
	for _, line := range lines {
		boxWidth = max(boxWidth, runewidth.StringWidth(line))
	}
	boxWidth = max(boxWidth+4, minBoxWidth)

	fmt.Fprintln(w)
	printBoxBorder(w, "┌", "┐", boxWidth)
	printBoxContent(w, titleLine, boxWidth, true)
	printBoxContent(w, subtitleLine, boxWidth, true)
	printBoxBorder(w, "├", "┤", boxWidth)
	for _, line := range lines {
		printBoxContent(w, line, boxWidth, false)
	}
	printBoxBorder(w, "└", "┘", boxWidth)
	fmt.Fprintln(w)
}

func printBoxBorder(w io.Writer, left, right string, width int) {
	fmt.Fprintf(w, "%s%s%s\n", left, strings.Repeat("─", width-2), right)
}

// printBoxContent pads content to the inner width of the box. Left aligned
// lines get a fixed two column indent.
func printBoxContent(w io.Writer, content string, boxWidth int, center bool) {
	padding := max(boxWidth-2-runewidth.StringWidth(content), 0)

	var leftPad, rightPad string
	if center {
		leftPad = strings.Repeat(" ", padding/2)
		rightPad = strings.Repeat(" ", padding-padding/2)
	} else {
		leftPad = "  "
		rightPad = strings.Repeat(" ", max(padding-2, 0))
	}
	fmt.Fprintf(w, "│%s%s%s│\n", leftPad, content, rightPad)
}
