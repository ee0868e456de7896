package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/resultexport/internal/export"
)

// StreamInfo describes one configured stream.
type StreamInfo struct {
	Key          string   `json:"key"`
	Format       string   `json:"format"`
	Schema       string   `json:"schema"`
	Naming       string   `json:"naming"`
	Dir          string   `json:"dir"`
	ProductCodes []string `json:"productCodes"`
}

// NewStreamsCommand creates the streams command.
func NewStreamsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "streams",
		Short:         "List the export streams",
		Args:          exitArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreams(rootOpts, export.Default(), cmd)
		},
	}
}

func runStreams(opts *RootOptions, streams *export.Streams, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var infos []StreamInfo
	for _, key := range streams.Keys() {
		s, _ := streams.Lookup(key)
		infos = append(infos, StreamInfo{
			Key:          s.Key,
			Format:       string(s.Format),
			Schema:       s.Schema,
			Naming:       string(s.Naming),
			Dir:          s.Dir,
			ProductCodes: s.ProductCodes,
		})
	}

	if formatter.JSON() {
		return formatter.Success(infos)
	}
	w := cmd.OutOrStdout()
	for _, i := range infos {
		fmt.Fprintf(w, "%-12s %-10s %-8s dir=%s products=%s\n",
			i.Key, i.Format, i.Naming, i.Dir, strings.Join(i.ProductCodes, ","))
	}
	return nil
}
