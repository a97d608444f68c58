package main

import "time"

// GlobalFlags are persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	Name           string
	Shell          string
	WorkDir        string
	EnvKVs         []string
	NewEnvironment bool
	Input          string
	Stdin          bool
	Timeout        time.Duration
	Resolve        bool
	SearchPath     bool
	LogLines       bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ExecFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type SpawnFlags struct {
	Shell   string
	WorkDir string
	EnvKVs  []string
}

type ListFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
