package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bitdabbler/relog"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <spool-dir>",
	Short: "Print the pending events of a spool directory as JSON lines",
	Long: `Print every event that is still waiting for delivery, oldest first,
one JSON object per line. Checkpoints are not advanced.

Examples:
  relogctl dump /var/spool/app | jq .msg`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	return dumpSpool(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
}

// dumpSpool writes the pending events in dir to w. Records that cannot be
// decoded are reported to errw and skipped.
func dumpSpool(w, errw io.Writer, dir string) error {
	infos, err := relog.InspectSpool(dir)
	if err != nil {
		return err
	}

	var (
		codec = relog.MsgpackCodec[*relog.Event]{}
		out   = relog.NewWriterSink(w)
	)
	for _, info := range infos {
		_, err := relog.ScanSegment(info.Path, func(payload []byte) error {
			e, err := codec.Unmarshal(payload)
			if err != nil {
				fmt.Fprintf(errw, "skipping record in %s: %v\n", info.Path, err)
				return nil
			}
			return out.Write(e)
		})
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
