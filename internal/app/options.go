package app

import (
	"errors"
	"fmt"
)

// Options holds everything an App instance needs beyond the run
// configuration file itself: the cluster layout the run is spawned onto
// and the logging setup.
type Options struct {
	// ConfigPath locates the HCL run configuration.
	ConfigPath string

	// Ranks is the number of processes to spawn.
	Ranks int
	// Hosts maps each rank to a host name; ranks sharing a name share one
	// node and one arena. Empty means a single node.
	Hosts []string
	// GPUs lists the device ids visible on every host.
	GPUs []int

	LogFormat string
	LogLevel  string
	// Workers overrides the per-rank compute pool size; 0 picks a size
	// from the host's CPU count.
	Workers int
}

// NewOptions validates and normalizes the options.
func NewOptions(o Options) (*Options, error) {
	if o.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if o.Ranks <= 0 {
		o.Ranks = 1
	}
	if len(o.Hosts) == 0 {
		o.Hosts = make([]string, o.Ranks)
		for i := range o.Hosts {
			o.Hosts[i] = "node0"
		}
	}
	if len(o.Hosts) != o.Ranks {
		return nil, fmt.Errorf("got %d host assignments for %d ranks", len(o.Hosts), o.Ranks)
	}
	return &o, nil
}
