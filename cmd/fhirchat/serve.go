package main

import (
	"github.com/spf13/cobra"

	"FhirChat/internal/config"
	"FhirChat/internal/widget"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat widget over HTTP",
	Long: `Serve the floating chat widget at / and its WebSocket at /ws.

Each browser connection gets its own conversation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []widget.Option{widget.WithLogger(a.logger)}
		if a.archive != nil {
			opts = append(opts, widget.WithArchive(a.archive))
		}
		srv := widget.NewServer(a.router, opts...)

		cmd.Printf("Serving chat widget on %s\n", a.cfg.ListenAddr)
		return srv.ListenAndServe(ctx, a.cfg.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", config.DefaultListenAddr, "address to listen on")
	if err := v.BindPFlag(config.KeyListenAddr, serveCmd.Flags().Lookup("listen-addr")); err != nil {
		panic(err)
	}
}
