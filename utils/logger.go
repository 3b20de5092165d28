// SPDX-License-Identifier: MIT

package utils

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Logger is the package-level logger shared by every component. It writes to
// stderr so the report artifact and the violation listing stay separable.
// The default keeps library use (and tests) safe before CreateLogger runs.
var Logger = log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})

// CreateLogger creates and configures the package-level Logger instance
// based on the desired verbosity. This function can create a new logger
// or reconfigure an existing one.
//
// -verbose: Boolean indicating if debug-level logging should be enabled.
// -quiet: Boolean suppressing info-level chatter (per-file scanning lines).
func CreateLogger(verbose, quiet bool) {
	var level log.Level
	var reportCaller, reportTimestamp bool
	var timeFormat string

	switch {
	case verbose:
		// In verbose mode, show more detailed log information
		reportCaller = true
		reportTimestamp = true
		timeFormat = "2006/01/02 15:04:05"
		level = log.DebugLevel
	case quiet:
		level = log.WarnLevel
	default:
		level = log.InfoLevel
	}

	// Use a local variable first before assigning to the package-level Logger
	var instanceToUse *log.Logger

	if Logger == nil {
		instanceToUse = log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    reportCaller,
			ReportTimestamp: reportTimestamp,
			TimeFormat:      timeFormat,
			Level:           level,
		})

		if instanceToUse == nil {
			os.Exit(1)
		}
	} else {
		// Reconfigure the existing logger if it already exists
		instanceToUse = Logger
		instanceToUse.SetLevel(level)
		instanceToUse.SetReportTimestamp(reportTimestamp)
		instanceToUse.SetTimeFormat(timeFormat)
		instanceToUse.SetReportCaller(reportCaller)
	}

	maxWidth := 4 // Width for level display in log messages
	styles := log.DefaultStyles()

	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().
		SetString(strings.ToUpper(log.DebugLevel.String())).
		Bold(true).MaxWidth(maxWidth).Foreground(lipgloss.Color("14"))

	styles.Levels[log.FatalLevel] = lipgloss.NewStyle().
		SetString(strings.ToUpper(log.FatalLevel.String())).
		Bold(true).MaxWidth(maxWidth).Foreground(lipgloss.Color("9"))

	instanceToUse.SetStyles(styles)

	Logger = instanceToUse
	log.SetDefault(Logger)

	if Logger != nil {
		Logger.Debugf(
			"Logger configured. Verbose: %t, Quiet: %t, Level set to: %s",
			verbose,
			quiet,
			Logger.GetLevel(),
		)
	}
}
