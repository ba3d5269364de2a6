package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskbridge/taskbridge-client/internal/apperror"
	"github.com/taskbridge/taskbridge-client/internal/backend"
	"github.com/taskbridge/taskbridge-client/internal/config"
	"github.com/taskbridge/taskbridge-client/internal/engine"
	"github.com/taskbridge/taskbridge-client/internal/job"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if apperror.IsConnectivity(err) {
			fmt.Fprintln(os.Stderr, "backend is offline, please try again later")
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

// app wires the engine stack from the environment configuration.
type app struct {
	cfg    config.Config
	client *backend.Client
	engine *engine.Engine
}

func newApp() *app {
	cfg := config.Load()
	client := backend.New(
		backend.WithBaseURL(cfg.BackendURL),
		backend.WithUserID(cfg.UserID),
		backend.WithProbeTimeout(cfg.ProbeTimeout),
	)
	eng := engine.New(job.NewStore(), client,
		engine.WithUserID(cfg.UserID),
		engine.WithReconnectWait(cfg.ReconnectWait),
	)
	return &app{cfg: cfg, client: client, engine: eng}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskbridge",
		Short:         "Submit files as background jobs and track them until the result is ready",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newJobsCmd(),
		newShowCmd(),
		newWatchCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newClearCmd(),
	)
	return root
}

func newJobsCmd() *cobra.Command {
	var term string
	var mine bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp()
			records, err := a.client.FetchJobs(cmd.Context())
			if err != nil {
				return err
			}
			renderTable(os.Stdout, job.Project(records, term, mine, a.cfg.UserID))
			return nil
		},
	}
	cmd.Flags().StringVar(&term, "search", "", "filter by filename, status, or user id")
	cmd.Flags().BoolVar(&mine, "mine", false, "show only jobs submitted with my user id")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show JOBID",
		Short: "Show one job in detail, including its error message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			records, err := a.client.FetchJobs(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range records {
				if r.ID == args[0] {
					renderDetail(os.Stdout, r)
					return nil
				}
			}
			return fmt.Errorf("job %s not found", args[0])
		},
	}
}

func newWatchCmd() *cobra.Command {
	var term string
	var mine bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the job collection live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp()
			g, ctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				return a.engine.Run(ctx)
			})
			g.Go(func() error {
				for {
					a.renderWatch(term, mine)
					select {
					case <-ctx.Done():
						return nil
					case <-a.engine.Store().Updates():
					case <-a.engine.StateChanges():
					}
				}
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&term, "search", "", "filter by filename, status, or user id")
	cmd.Flags().BoolVar(&mine, "mine", false, "show only jobs submitted with my user id")
	return cmd
}

func (a *app) renderWatch(term string, mine bool) {
	fmt.Print("\033[H\033[2J") // home + clear
	if !a.engine.Online() {
		fmt.Println("backend is offline, reconnecting")
		return
	}
	renderTable(os.Stdout, job.Project(a.engine.Store().All(), term, mine, a.cfg.UserID))
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Submit a file as a new background job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			stopEcho := echoProgress(a.engine, fmt.Sprintf("uploading %s (%s)",
				filepath.Base(args[0]), formatSize(info.Size())))
			id, err := a.engine.StartUpload(cmd.Context(), filepath.Base(args[0]), info.Size(), f)
			stopEcho()
			if err != nil {
				fmt.Fprintln(os.Stderr, "upload failed")
				return err
			}

			fmt.Printf("job %s queued\n", id)
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var output string
	var yes bool

	cmd := &cobra.Command{
		Use:   "download JOBID",
		Short: "Download the result of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			jobID := args[0]

			if !yes && !confirm(fmt.Sprintf("Download the result of job %s?", jobID)) {
				return nil
			}

			dest := output
			if dest == "" {
				dest = filepath.Join(a.cfg.DownloadDir, downloadFilename(cmd.Context(), a, jobID))
			}

			// Assemble into a partial file so a failed transfer leaves no
			// half-written deliverable behind.
			part, err := os.Create(dest + ".part")
			if err != nil {
				return err
			}

			stopEcho := echoProgress(a.engine, "downloading "+jobID)
			err = a.engine.Download(cmd.Context(), jobID, part)
			stopEcho()
			_ = part.Close()
			if err != nil {
				_ = os.Remove(dest + ".part")
				fmt.Fprintln(os.Stderr, "download failed")
				return err
			}
			if err := os.Rename(dest+".part", dest); err != nil {
				return err
			}

			fmt.Printf("saved %s\n", dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path (defaults to the job's filename)")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

// downloadFilename resolves the deliverable name from the current snapshot,
// falling back to the job id when the backend cannot be asked.
func downloadFilename(ctx context.Context, a *app, jobID string) string {
	records, err := a.client.FetchJobs(ctx)
	if err != nil {
		return jobID + ".out"
	}
	for _, r := range records {
		if r.ID == jobID {
			return r.Filename
		}
	}
	return jobID + ".out"
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all jobs, local and backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp()
			if !yes && !confirm("Remove ALL jobs?") {
				return nil
			}
			if err := a.engine.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("jobs cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks a yes/no question on the terminal; anything but y/yes is no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// echoProgress mirrors transfer progress events onto the terminal until the
// returned stop function is called.
func echoProgress(e *engine.Engine, label string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				fmt.Print("\r\033[K")
				return
			case ev := <-e.Events():
				if ev.Type == engine.EventProgress {
					fmt.Printf("\r%s: %d%%", label, ev.Percent)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
