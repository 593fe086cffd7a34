package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/TableStore-Engine/csv"
	"github.com/VanDung-dev/TableStore-Engine/data"
	"github.com/VanDung-dev/TableStore-Engine/store"
	"github.com/VanDung-dev/TableStore-Engine/transport"
)

func connect(load loader) (*transport.Client, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	c, err := cfg.Client.Codec()
	if err != nil {
		return nil, err
	}
	return transport.Connect(cfg.Client.SocketPath,
		transport.WithCodec(c),
		transport.WithDialTimeout(cfg.Client.DialTimeout),
		transport.WithOpTimeout(cfg.Client.OpTimeout),
		transport.WithName("cli"))
}

func objectCommands(load loader) []*cobra.Command {
	return []*cobra.Command{
		putCommand(load),
		getCommand(load),
		{
			Use:   "ls",
			Short: "List objects",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := connect(load)
				if err != nil {
					return err
				}
				defer client.Disconnect()

				infos, err := client.List()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSIZE\tSEALED\tREFS\tCREATED")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n", info.ID, humanize.IBytes(uint64(info.Size)),
						info.Sealed, info.Refs, humanize.Time(info.CreatedAt))
				}
				return w.Flush()
			},
		},
		{
			Use:   "rm ID...",
			Short: "Delete sealed objects",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := connect(load)
				if err != nil {
					return err
				}
				defer client.Disconnect()

				for _, arg := range args {
					id, err := parseID(arg)
					if err != nil {
						return err
					}
					if err := client.Delete(id); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Use:   "stats",
			Short: "Show store occupancy",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := connect(load)
				if err != nil {
					return err
				}
				defer client.Disconnect()

				st, err := client.Stats()
				if err != nil {
					return err
				}
				capacity := "unlimited"
				if st.Capacity > 0 {
					capacity = humanize.IBytes(uint64(st.Capacity))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "objects:  %d (%d sealed)\n", st.Objects, st.Sealed)
				fmt.Fprintf(cmd.OutOrStdout(), "used:     %s of %s\n", humanize.IBytes(uint64(st.BytesUsed)), capacity)
				fmt.Fprintf(cmd.OutOrStdout(), "sessions: %d\n", st.Sessions)
				return nil
			},
		},
	}
}

func putCommand(load loader) *cobra.Command {
	var (
		idArg     string
		delimiter string
		noHeader  bool
		skipRows  int
	)

	cmd := &cobra.Command{
		Use:   "put FILE",
		Short: "Load a CSV file into the store",
		Long:  "Load a CSV file into the store. Use - to read standard input.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := store.RandomID()
			if idArg != "" {
				var err error
				if id, err = parseID(idArg); err != nil {
					return err
				}
			}

			po := csv.DefaultParseOptions()
			if delimiter != "" {
				runes := []rune(delimiter)
				if len(runes) != 1 {
					return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
				}
				po.Delimiter = runes[0]
			}
			ro := csv.DefaultReadOptions()
			ro.SkipRows = skipRows
			ro.AutogenerateColumnNames = noHeader

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			table, err := csv.Read(in, ro, po)
			if err != nil {
				return err
			}
			defer table.Release()

			client, err := connect(load)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			size, err := client.Write(table, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d rows %s\n", id, table.NumRows(), humanize.IBytes(uint64(size)))
			return nil
		},
	}
	cmd.Flags().StringVar(&idArg, "id", "", "Object id, 40 hex characters or 20 bytes (default random)")
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", "", "Field delimiter")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Input has no header row, name columns f0, f1, ...")
	cmd.Flags().IntVar(&skipRows, "skip-rows", 0, "Rows to skip before the header")
	return cmd
}

func getCommand(load loader) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Print an object as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := connect(load)
			if err != nil {
				return err
			}
			defer client.Disconnect()

			table, err := client.Read(id, timeout)
			if err != nil {
				return err
			}
			defer func() {
				table.Release()
				_ = client.Release(id)
			}()
			return writeCSV(cmd.OutOrStdout(), table)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Second, "How long to wait for the object to be sealed")
	return cmd
}

func writeCSV(out io.Writer, table *data.Table) error {
	rec, err := table.NewRecord(0, table.NumRows())
	if err != nil {
		return err
	}
	defer rec.Release()

	w := arrowcsv.NewWriter(out, rec.Schema(), arrowcsv.WithHeader(true))
	if err := w.Write(rec); err != nil {
		return err
	}
	return w.Flush()
}
