package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/flemzord/sbridge/internal/channel"
	"github.com/flemzord/sbridge/pkg/app"
)

var phonePattern = regexp.MustCompile(`^[1-9][0-9]{6,14}$`)

func loginCmd(flags *globalFlags) *cobra.Command {
	var (
		mode  string
		phone string
	)
	cmd := &cobra.Command{
		Use:   "login <channel-id>",
		Short: "Link a QR or pairing-code channel such as WhatsApp",
		Long: "Runs the interactive login of a channel without starting the gateway.\n" +
			"Stop sbridge first: the channel session can only be held by one process.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("mode") {
				var err error
				if mode, phone, err = promptLogin(); err != nil {
					return err
				}
			}
			m, err := channel.ParseLoginMode(mode)
			if err != nil {
				return err
			}
			if m == channel.LoginPairCode && !phonePattern.MatchString(phone) {
				return errors.New("pairing-code login needs --phone in international format, digits only")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			err = app.Login(ctx, app.LoginParams{
				ConfigPath:  flags.configPath,
				DataDir:     flags.dataDir,
				LogLevel:    flags.level(),
				Channel:     args[0],
				Mode:        m,
				Phone:       phone,
				OnChallenge: func(c channel.Challenge) { showChallenge(out, c) },
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s linked. Start sbridge to bring it online.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "qr", "Login method: qr or pair_code")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number for pair_code logins")
	return cmd
}

// promptLogin asks for the login method, and the phone number when a
// pairing code is chosen.
func promptLogin() (mode, phone string, err error) {
	mode = string(channel.LoginQR)
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How do you want to link this device?").
				Options(
					huh.NewOption("Scan a QR code", string(channel.LoginQR)),
					huh.NewOption("Type a pairing code on the phone", string(channel.LoginPairCode)),
				).
				Value(&mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Phone number").
				Description("International format, digits only (e.g. 33612345678)").
				Value(&phone).
				Validate(func(s string) error {
					if !phonePattern.MatchString(s) {
						return errors.New("digits only, with country code")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return mode != string(channel.LoginPairCode) }),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", "", context.Canceled
	}
	return mode, phone, err
}

func showChallenge(w io.Writer, c channel.Challenge) {
	remaining := time.Until(c.ExpiresAt).Round(time.Second)
	switch c.Kind {
	case channel.LoginPairCode:
		fmt.Fprintf(w, "\nPairing code: %s\n", c.Code)
		fmt.Fprintln(w, "On the phone: Linked devices > Link a device > Link with phone number instead.")
	default:
		fmt.Fprintln(w, "\nScan this QR code from the phone (Linked devices > Link a device):")
		qrterminal.GenerateHalfBlock(c.Code, qrterminal.L, w)
	}
	if remaining > 0 {
		fmt.Fprintf(w, "Expires in %s.\n", remaining)
	}
}
