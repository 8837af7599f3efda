package main

import (
	"fmt"
	"strings"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

func (o *outputFormat) String() string { return string(*o) }

func (o *outputFormat) Set(s string) error {
	switch f := outputFormat(strings.ToLower(s)); f {
	case outputTable, outputJSON, outputYAML:
		*o = f
		return nil
	}
	return fmt.Errorf("must be one of table, json, yaml")
}

func (o *outputFormat) Type() string { return "format" }

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type CheckFlags struct {
	Repair bool
	Host   bool
}

type TransitionsFlags struct {
	Limit   int
	Service string
}

type ConfigInitFlags struct {
	Path  string
	Force bool
}
