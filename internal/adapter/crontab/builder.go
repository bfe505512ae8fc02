// Package crontab renders an /etc/cron.d file that drives the scheduler pass
// and the reaper on hosts that run the CLI from cron instead of the daemon.
package crontab

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Entry is one line of the rendered file.
type Entry struct {
	Comment    string
	Expression string
	Args       string
	LogName    string
}

type Builder struct {
	binary     string
	configPath string
	logDir     string
	user       string
}

func NewBuilder(binary, configPath, logDir string) *Builder {
	return &Builder{
		binary:     binary,
		configPath: configPath,
		logDir:     logDir,
		user:       "root",
	}
}

// Entries returns the periodic jobs for the given triggers.
func (b *Builder) Entries(schedulerTrigger, reaperTrigger string) []Entry {
	return []Entry{
		{Comment: "Scheduler pass", Expression: schedulerTrigger, Args: "schedule run", LogName: "scheduler"},
		{Comment: "Stuck-job reaper", Expression: reaperTrigger, Args: "reap", LogName: "reaper"},
	}
}

// Command builds the shell command cron executes for e.
func (b *Builder) Command(e Entry) string {
	cmd := fmt.Sprintf("%s %s", b.binary, e.Args)
	if b.configPath != "" {
		cmd += fmt.Sprintf(" --config %s", b.configPath)
	}
	return fmt.Sprintf("%s >> %s/%s.log 2>&1", cmd, strings.TrimRight(b.logDir, "/"), e.LogName)
}

// Render builds the complete file content. An entry with an invalid
// expression is rendered as a comment so the rest of the file still loads.
func (b *Builder) Render(entries []Entry, now time.Time) string {
	lines := []string{
		"# vsispanel backup orchestration",
		"# Auto-generated - do not edit manually",
		fmt.Sprintf("# Last updated: %s", now.UTC().Format("2006-01-02 15:04:05 UTC")),
		"SHELL=/bin/sh",
		"",
	}

	for _, e := range entries {
		lines = append(lines, "# "+e.Comment)
		if _, err := cron.ParseStandard(e.Expression); err != nil {
			lines = append(lines, fmt.Sprintf("# ERROR: invalid expression %q: %s", e.Expression, err.Error()))
			lines = append(lines, "")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", e.Expression, b.user, b.Command(e)))
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
