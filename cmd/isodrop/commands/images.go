package commands

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/isodrop/isodrop/internal/config"
	"github.com/isodrop/isodrop/pkg/errors"
	"github.com/isodrop/isodrop/pkg/security"
	"github.com/isodrop/isodrop/pkg/storage"
)

var imagesCmd = &cobra.Command{
	Use:   "images s3://<bucket>[/<prefix>]",
	Short: "List disc images available in an S3 bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runImages,
}

func init() {
	rootCmd.AddCommand(imagesCmd)
}

func runImages(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	ref, err := storage.ParseRef(args[0], true)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client, err := storage.NewClient(ctx, ref.Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client init failed")
	}

	objects, err := client.List(ctx, ref.Key)
	if err != nil {
		return err
	}

	validator := security.NewValidator(afero.NewOsFs(), cfg.MaxImageSize, cfg.ImageExtensions)
	rows := imageRows(ref.Bucket, objects, validator)

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintf(out, "No disc images found under %s\n", ref)
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"IMAGE", "SIZE"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}

// imageRows keeps objects that could be installed: an allowed extension, a
// safe key and a size within the limit.
func imageRows(bucket string, objects []storage.Object, v *security.Validator) [][]string {
	var rows [][]string
	for _, o := range objects {
		if !v.AllowedExtension(o.Key) || v.ValidateKey(o.Key) != nil || v.ValidateSize(o.Size) != nil {
			continue
		}
		rows = append(rows, []string{
			storage.Ref{Bucket: bucket, Key: o.Key}.String(),
			fmt.Sprintf("%.1f MiB", float64(o.Size)/(1<<20)),
		})
	}
	return rows
}
