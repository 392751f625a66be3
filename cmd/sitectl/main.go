// Command sitectl drives the site's auth and checkout routes from a terminal.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prohmpiriya/tutor-site/client"
	"github.com/prohmpiriya/tutor-site/pkg/logger"
	"github.com/spf13/cobra"
)

var Version = "dev"

type options struct {
	baseURL  string
	stateDir string
	timeout  time.Duration
	verbose  bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "sitectl",
		Short:         "Log in, verify sessions and run checkouts against the tutoring site",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "url", envOr("SITECTL_URL", "http://localhost:3000"), "site base URL")
	flags.StringVar(&opts.stateDir, "state-dir", envOr("SITECTL_STATE_DIR", defaultStateDir()), "directory for client state and cookies")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		loginCmd(opts),
		verifyCmd(opts),
		logoutCmd(opts),
		checkoutCmd(opts),
		captureCmd(opts),
		orderCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newClient opens the state directory and builds a client whose cookies survive between runs
func newClient(opts *options) (*client.Client, *fileJar, error) {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(&logger.Config{Level: level, ServiceName: "sitectl", Development: true})
	if err != nil {
		return nil, nil, err
	}

	storage, err := client.OpenFileStorage(filepath.Join(opts.stateDir, "state.json"))
	if err != nil {
		return nil, nil, err
	}
	jar, err := openFileJar(filepath.Join(opts.stateDir, "cookies.json"), opts.baseURL)
	if err != nil {
		return nil, nil, err
	}

	c, err := client.New(client.Config{
		BaseURL: opts.baseURL,
		Timeout: opts.timeout,
		Jar:     jar,
		Storage: storage,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, jar, nil
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sitectl")
	}
	return ".sitectl"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
