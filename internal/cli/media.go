package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/app"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
)

var (
	refID        string
	owner        string
	typeFlag     string
	failOnTamper bool
)

var registerCmd = &cobra.Command{
	Use:   "register FILE",
	Short: "Fingerprint a file and append it to the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mt, err := mediaType(typeFlag, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			req := seal.RegisterRequest{RefID: refID, Path: args[0], Owner: owner}
			var res *models.RegistrationResult
			if mt == models.MediaVideo {
				res, err = a.Service.RegisterVideo(cmd.Context(), req)
			} else {
				res, err = a.Service.RegisterImage(cmd.Context(), req)
			}
			if err != nil {
				_ = printJSON(cmd.OutOrStdout(), seal.RegistrationFailure(err))
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Check a file against its registered fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mt, err := mediaType(typeFlag, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			req := seal.VerifyRequest{RefID: refID, Path: args[0], OriginalFilename: args[0]}
			var res *models.VerifyResult
			if mt == models.MediaVideo {
				res, err = a.Service.VerifyVideo(cmd.Context(), req)
			} else {
				res, err = a.Service.VerifyImage(cmd.Context(), req)
			}
			if err != nil {
				_ = printJSON(cmd.OutOrStdout(), seal.VerificationFailure(err))
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if failOnTamper && res.Status == models.VerifyTampered {
				return fmt.Errorf("tampered: score %.2f", res.Details.TamperScore)
			}
			return nil
		})
	},
}

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct REF_ID",
	Short: "Rebuild a registered video from its stored frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			out, err := a.Service.ReconstructVideo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

func init() {
	registerCmd.Flags().StringVar(&refID, "ref-id", "", "reference id to register under (required)")
	registerCmd.Flags().StringVar(&owner, "owner", "", "owner recorded with the media")
	registerCmd.Flags().StringVar(&typeFlag, "type", "auto", "media type: image, video or auto")
	_ = registerCmd.MarkFlagRequired("ref-id")

	verifyCmd.Flags().StringVar(&refID, "ref-id", "", "reference id to check against; defaults to a digest lookup")
	verifyCmd.Flags().StringVar(&typeFlag, "type", "auto", "media type: image, video or auto")
	verifyCmd.Flags().BoolVar(&failOnTamper, "fail-on-tamper", false, "exit non-zero when the file is TAMPERED")

	rootCmd.AddCommand(registerCmd, verifyCmd, reconstructCmd)
}
