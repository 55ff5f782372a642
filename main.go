// Package main is the entry point for the rlmetrics CLI tool, which analyzes
// recorded car-soccer match timelines and grades player mechanics.
package main

import "github.com/pable/go-rl-metrics/cmd"

func main() {
	cmd.Execute()
}
