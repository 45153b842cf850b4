// Command plugin-host-demo spawns a child plugin process and drives it
// for a handful of periods, printing what came back. It exists to
// exercise host.Host end to end against a real child process (unlike
// host's own integration tests, which construct the RPC pair directly
// to avoid forking).
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/POZAlabs/lmms/config"
	"github.com/POZAlabs/lmms/host"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML config file; defaults to config.Default()")
		executable = flag.String("exec", "", "path to the child plugin executable")
		sampleRate = flag.Uint("sample-rate", 44100, "engine sample rate")
		inputs     = flag.Uint("in", 2, "input channel count")
		outputs    = flag.Uint("out", 2, "output channel count")
		frames     = flag.Uint("frames", 256, "frames per period")
		periods    = flag.Uint("periods", 10, "number of periods to process before quitting")
	)
	flag.Parse()

	if *executable == "" {
		log.Fatal("-exec is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	h, err := host.New(cfg, uint32(*sampleRate), int(*inputs), int(*outputs), int(*frames), host.WithLogger(logger))
	if err != nil {
		log.Fatalf("host.New: %v", err)
	}

	if failed := h.Init(*executable, true, nil); failed {
		log.Fatalf("host.Init failed; see logs above")
	}
	defer h.Close()

	logger.Info("child initialized", "exec", *executable, "sampleRate", *sampleRate, "frames", *frames)

	frameCount := int(*frames) * host.DefaultChannels
	in := make([]float32, frameCount)
	out := make([]float32, frameCount)

	for i := 0; i < int(*periods); i++ {
		for j := range in {
			in[j] = 0
		}
		if !h.Process(in, out) {
			logger.Error("Process failed", "period", i)
			os.Exit(1)
		}
		logger.Info("period processed", "period", i, "outSample0", out[0])
	}
}
