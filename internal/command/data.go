package command

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// newData exposes the data API client the role contexts authenticate.
func newData(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Query collections and buckets as the signed-in user",
	}
	cmd.AddCommand(
		newDataList(o),
		newDataGet(o),
		newDataUpload(o),
		newDataURL(o),
	)
	return cmd
}

func newDataList(o *Options) *cobra.Command {
	var filters []string

	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List rows of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				var rows []json.RawMessage
				if err := a.API.List(ctx, args[0], q, &rows); err != nil {
					return err
				}
				return printJSON(cmd, rows)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "column=expression filter, repeatable")
	return cmd
}

func newDataGet(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Fetch one row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				var row json.RawMessage
				if err := a.API.Get(ctx, args[0], args[1], &row); err != nil {
					return err
				}
				return printJSON(cmd, row)
			})
		},
	}
}

func newDataUpload(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <bucket> <object> <file>",
		Short: "Upload a file to a storage bucket",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			ctype := mime.TypeByExtension(filepath.Ext(args[2]))
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				if !a.API.Authenticated() {
					return errNotSignedIn
				}
				if err := a.API.Upload(ctx, args[0], args[1], ctype, f); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.API.PublicURL(args[0], args[1]))
				return nil
			})
		},
	}
}

func newDataURL(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "url <bucket> <object>",
		Short: "Print the public URL of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.API.PublicURL(args[0], args[1]))
				return nil
			})
		},
	}
}

func parseFilters(filters []string) (url.Values, error) {
	q := url.Values{}
	for _, f := range filters {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("filter %q is not column=expression", f)
		}
		q.Add(k, v)
	}
	return q, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
