package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-uplink/internal/auth"
	"github.com/prn-tf/alexander-uplink/internal/domain"
	"github.com/prn-tf/alexander-uplink/internal/s3"
)

// destination returns the upload configuration with command line overrides
// applied, together with credentials for it.
func (a *app) destination(ctx context.Context, bucket string) (domain.UploadConfig, auth.Credentials, error) {
	cfg := a.cfg.UploadConfig()
	if bucket != "" {
		cfg.BucketName = bucket
	}
	if err := cfg.Validate(); err != nil {
		return cfg, auth.Credentials{}, err
	}
	if cfg.AuthMode == domain.AuthModeSSO {
		if err := a.requireSSO(); err != nil {
			return cfg, auth.Credentials{}, err
		}
	}

	resolver, err := a.session(ctx)
	if err != nil {
		return cfg, auth.Credentials{}, err
	}
	creds, err := resolver.Credentials(ctx, cfg)
	if err != nil {
		return cfg, auth.Credentials{}, err
	}
	return cfg, creds, nil
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		bucket string
		name   string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its public URL",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, creds, err := a.destination(ctx, bucket)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("prefix") {
				cfg.ObjectPrefix = prefix
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if name == "" {
				name = filepath.Base(args[0])
			}

			result, err := a.uploader().Upload(ctx, s3.UploadInput{
				Body:        f,
				FileName:    name,
				Config:      cfg,
				Credentials: creds,
				OnEarlyURL: func(url string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "Uploading to %s\n", url)
				},
			})
			if err != nil {
				return err
			}
			if !result.Success {
				return result.Err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.URL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "override s3.bucket")
	cmd.Flags().StringVarP(&name, "name", "n", "", "object file name (defaults to the file's base name)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "override s3.object_prefix")
	return cmd
}

func newProvisionCmd(a *app) *cobra.Command {
	var (
		bucket       string
		publicPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the bucket if it does not exist",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, creds, err := a.destination(ctx, bucket)
			if err != nil {
				return err
			}

			result, err := a.provisioner().EnsureBucket(ctx, s3.EnsureBucketInput{
				Name:              cfg.BucketName,
				Endpoint:          cfg.EndpointHost,
				Region:            cfg.Region,
				PathStyle:         cfg.UsePathStyle(),
				ApplyPublicPolicy: publicPolicy,
				Credentials:       creds,
			})
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("provisioning stopped at %s: %s", result.State, result.Message)
			}

			verb := "exists"
			if result.Created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s %s\n", cfg.BucketName, verb)
			return nil
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "override s3.bucket")
	cmd.Flags().BoolVar(&publicPolicy, "public-policy", false, "apply a public-read bucket policy after creation")
	return cmd
}
