package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitdabbler/relog"
	"github.com/spf13/cobra"
)

var (
	replayHost     string
	replayPort     int
	replayNetwork  string
	replayTag      string
	replayTimeout  time.Duration
	replayRetry    time.Duration
	replayACKs     bool
	replayInsecure bool
	replayVerbose  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <spool-dir>",
	Short: "Deliver the pending events of a spool directory to a collector",
	Long: `Take the spool directory, connect to a Fluent collector and deliver
every pending event, advancing checkpoints as events are accepted. Fully
delivered segments are deleted. The directory must not be in use by a
running pipeline.

Examples:
  relogctl replay /var/spool/app --host fluentd.local
  relogctl replay /var/spool/app --host fluentd.local --acks --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayHost, "host", "", "Collector host (required)")
	replayCmd.Flags().IntVar(&replayPort, "port", 24224, "Collector port")
	replayCmd.Flags().StringVar(&replayNetwork, "network", "tcp", "Network (tcp, tls, udp)")
	replayCmd.Flags().StringVar(&replayTag, "tag", "relog", "Fluent tag")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", time.Minute, "Give up after this long")
	replayCmd.Flags().DurationVar(&replayRetry, "retry", time.Second, "Delay after a failed send")
	replayCmd.Flags().BoolVar(&replayACKs, "acks", false, "Request an ack for every event")
	replayCmd.Flags().BoolVar(&replayInsecure, "insecure", false, "Skip TLS certificate verification")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Write debug diagnostics")
	replayCmd.MarkFlagRequired("host")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), replayTimeout)
	defer cancel()

	client, err := relog.NewTransportClient(replayHost, &relog.TransportOptions{
		Network:            replayNetwork,
		Port:               replayPort,
		Tag:                replayTag,
		EagerDialTries:     3,
		InsecureSkipVerify: replayInsecure,
		Encoder:            &relog.EncoderOptions{RequestACKs: replayACKs},
		Verbose:            replayVerbose,
	})
	if err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		client.Stop()
		return err
	}
	defer client.Stop()

	n, err := replaySpool(ctx, args[0], client, replayRetry, replayVerbose)
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
	return err
}

// replaySpool delivers the pending events of dir to sink, waiting retry
// after each failure, until the spool is empty or ctx is done.
func replaySpool(ctx context.Context, dir string, sink relog.Sink, retry time.Duration, verbose bool) (int, error) {
	lock, err := relog.LockDirectory(dir)
	if err != nil {
		return 0, fmt.Errorf("spool directory %s: %w", dir, err)
	}
	defer lock.Release()

	opts := &relog.SpoolOptions{Verbose: verbose}

	// completes segments a crashed writer left active
	w, err := relog.NewSpoolWriter[*relog.Event](dir, nil, opts)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	r, err := relog.NewSpoolReader[*relog.Event](dir, nil, opts)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e, ok, err := r.GetRecord()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}

		if err := sink.Write(e); err != nil {
			select {
			case <-ctx.Done():
				return n, errors.Join(err, ctx.Err())
			case <-time.After(retry):
			}
			continue
		}
		if err := r.RecordCompleted(); err != nil {
			return n, err
		}
		n++
	}
}
