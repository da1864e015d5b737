package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/cmd"
)

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode extracts the process exit code embedded by the command layer.
func exitCode(err error) int {
	m := exitCodePattern.FindStringSubmatch(err.Error())
	if len(m) == 2 {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	return 1
}
