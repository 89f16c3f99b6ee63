package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the faces in an image",
	Long: `Extract every face in --image and match each against the registered
descriptors of --group. Faces below MATCH_THRESHOLD are reported as unknown.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return requireDatabase()
	},
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("group", "", "Group to match against")
	identifyCmd.Flags().String("image", "", "Image file to analyse")
	identifyCmd.MarkFlagRequired("group")
	identifyCmd.MarkFlagRequired("image")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	frame, err := os.ReadFile(mustGetString(cmd, "image"))
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	faces, err := a.svc.IdentifyFrame(ctx, frame, mustGetString(cmd, "group"))
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		fmt.Println("No faces found")
		return nil
	}

	fmt.Printf("Found %d face(s):\n", len(faces))
	for i, face := range faces {
		who := "unknown"
		if face.Matched {
			who = face.IdentityID
		}
		fmt.Printf("  %d. %-20s confidence %.3f  bbox %v\n", i+1, who, face.Confidence, face.BBox)
	}
	return nil
}
