package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type ServeFlags struct {
	ConfigPath string
	NoWatch    bool
}

type SubmitFlags struct {
	Name    string
	Command string
	Factory string
	WorkDir string
	Env     []string
	Params  map[string]string
	Wait    bool
	// Remote daemon connection
	APIUrl       string
	APITimeout   time.Duration
	CACert       string
	Insecure     bool
	PollInterval time.Duration
}

// LocalFlags locate the daemon state on disk, either directly or through the config file.
type LocalFlags struct {
	ConfigPath string
	BaseDir    string
}

type StatusFlags struct {
	LocalFlags
	ID string
}

type RunJobletFlags struct {
	Factory   string
	ConfigDir string
	BaseDir   string
	WorkDir   string
	ID        string
	LogDir    string
}
