package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"go.aimuz.me/autocap/internal/app"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := app.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No input devices found")
				return nil
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{
					d.Name,
					d.HostAPI,
					strconv.Itoa(d.MaxInputChannels),
					strconv.FormatFloat(d.DefaultSampleRate, 'f', 0, 64),
					yesNo(d.IsDefault),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Name", "Host API", "Channels", "Sample Rate", "Default"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List speech recognizers and whether they are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *app.Service) error {
				providers := svc.Providers()
				rows := make([][]string, 0, len(providers))
				for _, p := range providers {
					rows = append(rows, []string{
						p.Name,
						p.DisplayName,
						yesNo(p.IsLocal),
						yesNo(p.Streaming),
						yesNo(p.IsReady),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Description", "Local", "Streaming", "Ready"},
					rows,
					nil,
				))
				return nil
			})
		},
	}
}
