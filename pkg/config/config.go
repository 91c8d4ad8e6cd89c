// Package config loads the controller's and dispatcher's runtime
// configuration: Default supplies the built-in values and FromEnv
// overlays CONTAINERLESS_* environment variables on top of them. The
// command-line flags (listen address, containerd socket, and for the
// controller its log settings) are defined in each cmd/ binary and have
// no environment-variable fallback.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the shared configuration surface for both processes.
type Config struct {
	LogLevel  string // RUST_LOG-equivalent: debug|info|warn|error
	LogJSON   bool
	DataDir   string // root for the bbolt function registry
	Namespace string // containerd/cluster namespace
	BuildCmd  string // native plugin build command, default "go build"
	Root      string // trace artifact root, matches spec.md §6 <root>

	TraceCompilerCmd   string // external trace-to-native compiler, e.g. "tracec"
	DispatcherSourceDir string // package built into the dispatcher binary
	DispatcherImage     string // image/binary reference patched into the cluster driver

	ReadinessProbeDeadline time.Duration // 1s, short-deadline HTTP client
	InvokeConnectDeadline  time.Duration // 15s, user-traffic HTTP client
	DeployRolloutTimeout   time.Duration // 60s, compiler actor wait bound
	TraceRequestBudget     int           // N, open question resolved as a knob

	AutoscalerWindowWidth int           // W, ticks
	AutoscalerTargetRate  int           // R, requests per replica per tick
	AutoscalerMaxReplicas int           // clamp ceiling
	AutoscalerTick        time.Duration // T, 1s

	NativeUnknownThreshold int           // K, Decontainerized -> AwaitingReset
	NativeUnknownWindow    int           // trailing window width, in invokes
	IdleTeardownDeadline   time.Duration // 30s, vanilla replicas after Decontainerized
	TracingTimeout         time.Duration // tracing replica must return a trace by
	NewFunctionReadyDeadline time.Duration // 60s, New -> first Ready vanilla replica

	SourceStoreAddr string        // host:port of the source storage service
	SourceStoreDeadline time.Duration // connect deadline for source-store calls
}

// Default returns the configuration spec.md's fixed constants imply.
func Default() Config {
	return Config{
		LogLevel:               "info",
		LogJSON:                false,
		DataDir:                "./data",
		Namespace:              "containerless",
		BuildCmd:               "go build",
		Root:                   ".",
		TraceCompilerCmd:       "tracec",
		DispatcherSourceDir:    "./cmd/containerless-dispatcher",
		DispatcherImage:        "containerless-dispatcher",
		ReadinessProbeDeadline: time.Second,
		InvokeConnectDeadline:  15 * time.Second,
		DeployRolloutTimeout:   60 * time.Second,
		TraceRequestBudget:     100,

		AutoscalerWindowWidth: 30,
		AutoscalerTargetRate:  10,
		AutoscalerMaxReplicas: 10,
		AutoscalerTick:        time.Second,

		NativeUnknownThreshold:   5,
		NativeUnknownWindow:      20,
		IdleTeardownDeadline:     30 * time.Second,
		TracingTimeout:           30 * time.Second,
		NewFunctionReadyDeadline: 60 * time.Second,

		SourceStoreAddr:     "storage:8080",
		SourceStoreDeadline: 5 * time.Second,
	}
}

// FromEnv overlays environment variables onto Default(), matching the
// env var names spec.md §6 and SPEC_FULL.md §6 name.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("CONTAINERLESS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONTAINERLESS_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv("CONTAINERLESS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONTAINERLESS_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("CONTAINERLESS_BUILD_CMD"); v != "" {
		cfg.BuildCmd = v
	}
	if v := os.Getenv("CONTAINERLESS_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("CONTAINERLESS_TRACE_COMPILER_CMD"); v != "" {
		cfg.TraceCompilerCmd = v
	}
	if v := os.Getenv("CONTAINERLESS_DISPATCHER_SOURCE_DIR"); v != "" {
		cfg.DispatcherSourceDir = v
	}
	if v := os.Getenv("CONTAINERLESS_DISPATCHER_IMAGE"); v != "" {
		cfg.DispatcherImage = v
	}
	if v := os.Getenv("CONTAINERLESS_TRACE_REQUEST_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TraceRequestBudget = n
		}
	}
	if v := os.Getenv("CONTAINERLESS_SOURCE_STORE_ADDR"); v != "" {
		cfg.SourceStoreAddr = v
	}
	return cfg
}
