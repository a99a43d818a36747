// Command tasstudio is a line-based editor client for tashost. It keeps the
// host's playback state on screen and forwards hotkeys, settings and data
// requests typed on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/framestep/tasbridge/internal/config"
	"github.com/framestep/tasbridge/internal/logging"
	"github.com/framestep/tasbridge/internal/studio"
	"github.com/framestep/tasbridge/pkg/studioproto"
)

const AppName = "tasstudio"

func main() {
	configDir := "."
	if len(os.Args) > 2 && os.Args[1] == "-config" {
		configDir = os.Args[2]
	}

	if err := config.Load(configDir); err != nil && !errors.Is(err, config.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "failed to load config, using defaults: %v\n", err)
	}

	// Logs go to stderr so they do not interleave with command output.
	slogManager := logging.NewSlogManager()
	slogManager.Setup(logging.Options{File: os.Stderr, Level: viper.GetString("logLevel"), Service: AppName})
	logger := slogManager.Logger()

	sc := config.GetStudioConfig()
	client := studio.NewClient(studio.ClientConfig{
		URL:                sc.URL(),
		RequestTimeout:     sc.RequestTimeout,
		LongRequestTimeout: sc.AutoCompleteTimeout,
		Logger:             logger,
	})
	defer client.Close()

	var last string
	client.OnState(func(st studioproto.State) {
		line := formatState(st)
		if line != last {
			last = line
			fmt.Println(line)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		logger.Warn("Host not reachable, use connect to retry", "url", sc.URL(), "error", err)
	}

	sh := &shell{ed: client, out: os.Stdout, ctx: ctx}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := sh.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
	}
}
